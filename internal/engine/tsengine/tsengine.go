// Package tsengine reads H.264 video and AAC audio from MPEG transport
// stream files. A file is scanned once into an Index; engines opened from
// that index only open their own file handle. Video frames are returned as
// Annex B access units in decode order with CEA-608 caption text attached,
// audio frames as ADTS.
//
// Streams with B-frames are indexed and played back in decode order, so
// presentation times within a GOP are not monotonic.
package tsengine

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"slices"
	"sort"
	"strconv"

	"github.com/zsiec/scrub/internal/aac"
	"github.com/zsiec/scrub/internal/engine"
	"github.com/zsiec/scrub/internal/h264"
	"github.com/zsiec/scrub/internal/media"
	"github.com/zsiec/scrub/internal/mpegts"
)

const (
	clockRate = 90000
	ptsWrap   = int64(1) << 33
)

type unit struct {
	pts      int64 // microseconds from the first video PTS
	offset   int64
	keyframe bool
}

// Index is the read-only result of scanning one file. It is safe to share
// between engines and goroutines.
type Index struct {
	size      int64
	program   mpegts.Program
	units     []unit // video, decode order
	keyframes []int  // indexes into units
	sps       h264.SPSInfo
	md        media.StreamMetadata
	fd        int64

	audio         []unit
	audioRate     int
	audioChannels int
}

// Metadata returns the stream properties derived from the scan.
func (x *Index) Metadata() media.StreamMetadata { return x.md }

// BuildIndex scans path, recording timestamps, offsets and keyframes of every
// video unit and the offsets of every audio unit.
func BuildIndex(path string) (*Index, error) {
	f, err := openFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := mpegts.NewReader(f, mpegts.Video|mpegts.Audio)
	if err != nil {
		return nil, engine.Errorf("open", path, engine.ErrInvalidFormat, "%v", err)
	}
	x := &Index{}
	var (
		video, audio []int64 // unwrapped 90 kHz PTS
		vOff, aOff   []int64
		keys         []bool
		haveSPS      bool
		prev         int64
		started      bool
	)
	for {
		u, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, engine.Errorf("open", path, engine.ErrInvalidFormat, "%v", err)
		}
		pts := u.PTS
		if !started {
			prev, started = pts, true
		}
		for pts < prev-ptsWrap/2 {
			pts += ptsWrap
		}
		prev = pts

		if u.Audio {
			if len(audio) == 0 {
				if frames, err := aac.ParseADTS(u.Data); err == nil && len(frames) > 0 {
					x.audioRate, x.audioChannels = frames[0].SampleRate, frames[0].Channels
				}
			}
			audio = append(audio, pts)
			aOff = append(aOff, u.Offset)
			continue
		}

		nals := h264.ParseAnnexB(u.Data)
		if !haveSPS {
			for _, n := range nals {
				if n.Type != h264.NALTypeSPS {
					continue
				}
				if info, err := h264.ParseSPS(n.Data); err == nil {
					x.sps, haveSPS = info, true
				}
				break
			}
		}
		video = append(video, pts)
		vOff = append(vOff, u.Offset)
		keys = append(keys, h264.ContainsKeyframe(nals))
	}

	var ok bool
	if x.program, ok = r.Program(); !ok {
		return nil, engine.Errorf("open", path, engine.ErrInvalidFormat, "no video stream in program map")
	}
	if r.StreamType() != mpegts.StreamTypeH264 {
		return nil, engine.Errorf("open", path, engine.ErrCodecUnsupported, "stream type 0x%02X", r.StreamType())
	}
	if len(video) == 0 {
		return nil, engine.Errorf("open", path, engine.ErrInvalidFormat, "no decodable video")
	}
	if !haveSPS {
		return nil, engine.Errorf("open", path, engine.ErrInvalidFormat, "no sequence parameter set")
	}

	base := video[0]
	us := func(pts int64) int64 { return (pts - base) * 1_000_000 / clockRate }
	var maxPTS int64
	for i, pts := range video {
		if keys[i] {
			x.keyframes = append(x.keyframes, len(x.units))
		}
		u := unit{pts: us(pts), offset: vOff[i], keyframe: keys[i]}
		maxPTS = max(maxPTS, u.pts)
		x.units = append(x.units, u)
	}
	if len(x.keyframes) == 0 {
		return nil, engine.Errorf("open", path, engine.ErrInvalidFormat, "no keyframes")
	}
	if x.audioRate > 0 {
		for i, pts := range audio {
			x.audio = append(x.audio, unit{pts: us(pts), offset: aOff[i]})
		}
	}

	fps := media.DefaultFrameRate
	if step := medianStep(video); step > 0 {
		fps = clockRate / float64(step)
	}
	x.fd = media.FrameDurationFor(fps)
	x.md = media.StreamMetadata{
		FrameRate:  fps,
		DurationUS: maxPTS + x.fd,
		Width:      x.sps.Width,
		Height:     x.sps.Height,
	}
	st, err := f.Stat()
	if err != nil {
		return nil, engine.Errorf("open", path, engine.ErrInvalidFormat, "%v", err)
	}
	x.size = st.Size()
	return x, nil
}

// medianStep is the median step between presentation-ordered timestamps,
// or 0 with fewer than two distinct values.
func medianStep(pts []int64) int64 {
	sorted := slices.Clone(pts)
	slices.Sort(sorted)
	var deltas []int64
	for i := 1; i < len(sorted); i++ {
		if d := sorted[i] - sorted[i-1]; d > 0 {
			deltas = append(deltas, d)
		}
	}
	if len(deltas) == 0 {
		return 0
	}
	slices.Sort(deltas)
	return deltas[len(deltas)/2]
}

func openFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, engine.Errorf("open", path, engine.ErrNotFound, "%v", err)
	}
	if err != nil {
		return nil, engine.Errorf("open", path, engine.ErrInvalidFormat, "%v", err)
	}
	return f, nil
}

type audioFrame struct {
	frame aac.Frame
	pts   int64
}

var (
	_ engine.Forker      = (*Engine)(nil)
	_ engine.AudioSource = (*Engine)(nil)
)

// Engine decodes one transport stream file.
type Engine struct {
	path string
	idx  *Index
	f    *os.File
	r    *mpegts.Reader
	ar   *mpegts.Reader // nil without audio

	next     int
	captions *captionTracker

	audioNext int
	queue     []audioFrame
}

// Open is an engine.Opener. Frames are always emitted as
// media.PixelFormatAnnexB; cfg.PixelFormat is not consulted.
func Open(path string, cfg engine.Config) (engine.Engine, error) {
	idx, err := BuildIndex(path)
	if err != nil {
		return nil, err
	}
	return asEngine(OpenIndexed(path, idx))
}

func asEngine(e *Engine, err error) (engine.Engine, error) {
	if err != nil {
		return nil, err
	}
	return e, nil
}

// OpenIndexed opens path using an index built earlier. The file must still
// have the size it had when indexed.
func OpenIndexed(path string, idx *Index) (*Engine, error) {
	f, err := openFile(path)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Engine, error) {
		f.Close()
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		return fail(engine.Errorf("open", path, engine.ErrInvalidFormat, "%v", err))
	}
	if st.Size() != idx.size {
		return fail(engine.Errorf("open", path, engine.ErrInvalidFormat,
			"file is %d bytes, index was built from %d", st.Size(), idx.size))
	}

	e := &Engine{path: path, idx: idx, f: f, captions: newCaptionTracker()}
	e.r, err = mpegts.NewReader(io.NewSectionReader(f, 0, idx.size), mpegts.Video)
	if err != nil {
		return fail(engine.Errorf("open", path, engine.ErrInvalidFormat, "%v", err))
	}
	if len(idx.audio) > 0 {
		e.ar, err = mpegts.NewReader(io.NewSectionReader(f, 0, idx.size), mpegts.Audio)
		if err != nil {
			return fail(engine.Errorf("open", path, engine.ErrInvalidFormat, "%v", err))
		}
	}
	e.r.SetProgram(idx.program)
	if e.ar != nil {
		e.ar.SetProgram(idx.program)
	}
	if err := e.seekUnit(idx.keyframes[0]); err != nil {
		return fail(engine.Errorf("open", path, engine.ErrInvalidFormat, "%v", err))
	}
	return e, nil
}

// Fork opens another engine over the same file and index.
func (e *Engine) Fork() (engine.Engine, error) {
	return asEngine(OpenIndexed(e.path, e.idx))
}

// Index returns the shared index.
func (e *Engine) Index() *Index { return e.idx }

func (e *Engine) seekUnit(i int) error {
	if err := e.r.SeekTo(e.idx.units[i].offset); err != nil {
		return err
	}
	e.next = i
	e.captions.reset()
	return nil
}

func (e *Engine) Seek(us int64) error {
	if us < 0 {
		return engine.Errorf("seek", e.path, engine.ErrSeekFailed, "negative position %d", us)
	}
	x := e.idx
	// Last keyframe at or before us; the first keyframe if none.
	k := sort.Search(len(x.keyframes), func(i int) bool {
		return x.units[x.keyframes[i]].pts > us
	})
	k = max(k-1, 0)
	if err := e.seekUnit(x.keyframes[k]); err != nil {
		return engine.Errorf("seek", e.path, engine.ErrSeekFailed, "%v", err)
	}
	return nil
}

func (e *Engine) DecodeNextFrame() (*media.VideoFrame, error) {
	u, err := e.r.Next()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, engine.Errorf("decode", e.path, engine.ErrDecodeFailed, "%v", err)
	}
	x := e.idx
	n := e.next
	if n >= len(x.units) || x.units[n].offset != u.Offset {
		// The file changed underneath the index.
		return nil, engine.Errorf("decode", e.path, engine.ErrDecodeFailed, "unit at offset %d not in index", u.Offset)
	}
	e.next++

	nals := h264.ParseAnnexB(u.Data)
	return &media.VideoFrame{
		Data:        u.Data,
		Width:       x.sps.Width,
		Height:      x.sps.Height,
		PTS:         x.units[n].pts,
		Duration:    x.fd,
		IsKeyframe:  x.units[n].keyframe,
		FrameNumber: int64(n),
		PixelFormat: media.PixelFormatAnnexB,
		Captions:    e.captions.feed(nals),
	}, nil
}

// SeekAudio positions audio on the frame covering us. Frames of the same
// PES that end before us are skipped.
func (e *Engine) SeekAudio(us int64) (int, error) {
	x := e.idx
	if e.ar == nil {
		return 0, nil
	}
	k := sort.Search(len(x.audio), func(i int) bool { return x.audio[i].pts > us })
	k = max(k-1, 0)
	if err := e.ar.SeekTo(x.audio[k].offset); err != nil {
		return 0, engine.Errorf("seek", e.path, engine.ErrSeekFailed, "audio: %v", err)
	}
	e.audioNext = k
	e.queue = e.queue[:0]
	if err := e.fillAudio(); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, err
	}
	for len(e.queue) > 0 && e.queue[0].pts+e.queue[0].frame.Duration() <= us {
		e.queue = e.queue[1:]
	}
	return len(e.queue), nil
}

// DecodeNextAudioFrame returns the next ADTS frame.
func (e *Engine) DecodeNextAudioFrame() (*media.AudioFrame, error) {
	if e.ar == nil {
		return nil, io.EOF
	}
	for len(e.queue) == 0 {
		if err := e.fillAudio(); err != nil {
			return nil, err
		}
	}
	a := e.queue[0]
	e.queue = e.queue[1:]
	rate := int64(a.frame.SampleRate)
	return &media.AudioFrame{
		Data:        a.frame.Data,
		Format:      media.SampleFormatADTS,
		SampleCount: aac.SamplesPerFrame,
		Channels:    a.frame.Channels,
		SampleRate:  a.frame.SampleRate,
		PTS:         a.pts,
		Duration:    a.frame.Duration(),
		FrameNumber: (a.pts*rate + aac.SamplesPerFrame*500_000) / (aac.SamplesPerFrame * 1_000_000),
	}, nil
}

// fillAudio reads one audio PES into the queue.
func (e *Engine) fillAudio() error {
	u, err := e.ar.Next()
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	if err != nil {
		return engine.Errorf("decode", e.path, engine.ErrDecodeFailed, "audio: %v", err)
	}
	x := e.idx
	n := e.audioNext
	if n >= len(x.audio) || x.audio[n].offset != u.Offset {
		return engine.Errorf("decode", e.path, engine.ErrDecodeFailed, "audio unit at offset %d not in index", u.Offset)
	}
	e.audioNext++
	frames, err := aac.ParseADTS(u.Data)
	if err != nil {
		return engine.Errorf("decode", e.path, engine.ErrDecodeFailed, "%v", err)
	}
	pts := x.audio[n].pts
	for _, f := range frames {
		e.queue = append(e.queue, audioFrame{frame: f, pts: pts})
		pts += f.Duration()
	}
	return nil
}

func (e *Engine) Metadata() media.StreamMetadata { return e.idx.md }

func (e *Engine) Info() media.MediaInfo {
	x := e.idx
	var bitRate int64
	if x.md.DurationUS > 0 {
		bitRate = x.size * 8 * 1_000_000 / x.md.DurationUS
	}
	mi := media.MediaInfo{
		DurationUS:      x.md.DurationUS,
		ContainerFormat: "mpegts",
		VideoTracks: []media.VideoTrack{{
			Codec: media.CodecInfo{
				Name:     "h264",
				LongName: "H.264 / AVC",
				FourCC:   x.sps.CodecString(),
			},
			Width:       x.sps.Width,
			Height:      x.sps.Height,
			FrameRate:   x.md.FrameRate,
			BitRate:     bitRate,
			PixelFormat: media.PixelFormatAnnexB.String(),
		}},
		Metadata: map[string]string{
			"keyframes": strconv.Itoa(len(x.keyframes)),
			"frames":    strconv.Itoa(len(x.units)),
		},
	}
	if len(x.audio) > 0 {
		mi.AudioTracks = []media.AudioTrack{{
			Index:         1,
			Codec:         media.CodecInfo{Name: "aac", LongName: "AAC (ADTS)", FourCC: "mp4a.40.2"},
			SampleRate:    x.audioRate,
			Channels:      x.audioChannels,
			ChannelLayout: channelLayout(x.audioChannels),
		}}
		mi.Metadata["audio_units"] = strconv.Itoa(len(x.audio))
	}
	return mi
}

func channelLayout(n int) string {
	switch n {
	case 1:
		return "mono"
	case 2:
		return "stereo"
	case 6:
		return "5.1"
	default:
		return strconv.Itoa(n) + "ch"
	}
}

// KeyframeTimes returns the presentation times of all keyframes.
func (e *Engine) KeyframeTimes() []int64 {
	x := e.idx
	out := make([]int64, len(x.keyframes))
	for i, k := range x.keyframes {
		out[i] = x.units[k].pts
	}
	return out
}

func (e *Engine) Close() error {
	return e.f.Close()
}
