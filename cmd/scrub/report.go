package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/zsiec/scrub/internal/cache"
	"github.com/zsiec/scrub/internal/media"
)

type infoReport struct {
	Source    string            `yaml:"source"`
	Container string            `yaml:"container"`
	Duration  string            `yaml:"duration"`
	Video     *videoReport      `yaml:"video,omitempty"`
	Audio     *audioReport      `yaml:"audio,omitempty"`
	Metadata  map[string]string `yaml:"metadata,omitempty"`
}

type videoReport struct {
	Codec       string  `yaml:"codec"`
	Size        string  `yaml:"size"`
	FrameRate   float64 `yaml:"frame_rate"`
	PixelFormat string  `yaml:"pixel_format"`
	BitRate     string  `yaml:"bit_rate,omitempty"`
}

type audioReport struct {
	Codec      string `yaml:"codec"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   string `yaml:"channels"`
}

type frameReport struct {
	Requested int `yaml:"requested"`
	Served    int `yaml:"served"`
	Missing   int `yaml:"missing"`
	Errors    int `yaml:"errors"`
}

type prefetchReport struct {
	Frames int `yaml:"frames"`
	Errors int `yaml:"errors"`
}

type cacheReport struct {
	Entries  map[string]int    `yaml:"entries"`
	Hits     map[string]uint64 `yaml:"hits"`
	Misses   uint64            `yaml:"misses"`
	HitRate  string            `yaml:"hit_rate"`
	Memory   string            `yaml:"memory"`
	Accesses uint64            `yaml:"accesses"`
}

type scrubReport struct {
	Source   string         `yaml:"source"`
	Handle   string         `yaml:"handle"`
	Media    infoReport     `yaml:"media"`
	Frames   frameReport    `yaml:"frames"`
	Prefetch prefetchReport `yaml:"prefetch"`
	Cache    cacheReport    `yaml:"cache"`
	Elapsed  string         `yaml:"elapsed"`
}

func newInfoReport(source string, info media.MediaInfo) infoReport {
	r := infoReport{
		Source:    source,
		Container: info.ContainerFormat,
		Duration:  (time.Duration(info.DurationUS) * time.Microsecond).String(),
		Metadata:  info.Metadata,
	}
	if v, ok := info.PrimaryVideo(); ok {
		codec := v.Codec.Name
		if v.Codec.FourCC != "" {
			codec += " (" + v.Codec.FourCC + ")"
		}
		r.Video = &videoReport{
			Codec:       codec,
			Size:        fmt.Sprintf("%dx%d", v.Width, v.Height),
			FrameRate:   v.FrameRate,
			PixelFormat: v.PixelFormat,
		}
		if v.BitRate > 0 {
			r.Video.BitRate = humanize.SI(float64(v.BitRate), "bps")
		}
	}
	if a, ok := info.PrimaryAudio(); ok {
		r.Audio = &audioReport{
			Codec:      a.Codec.Name,
			SampleRate: a.SampleRate,
			Channels:   a.ChannelLayout,
		}
	}
	return r
}

func newCacheReport(s cache.Statistics) cacheReport {
	return cacheReport{
		Entries:  map[string]int{"l1": s.L1Entries, "l2": s.L2Entries, "l3": s.L3Entries},
		Hits:     map[string]uint64{"l1": s.L1Hits, "l2": s.L2Hits, "l3": s.L3Hits},
		Misses:   s.Misses,
		HitRate:  fmt.Sprintf("%.1f%%", s.HitRate()*100),
		Memory:   humanize.IBytes(s.MemoryUsageBytes),
		Accesses: s.TotalAccesses(),
	}
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
