package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/scrub/internal/config"
	"github.com/zsiec/scrub/internal/decoder"
	"github.com/zsiec/scrub/internal/engine/synth"
	"github.com/zsiec/scrub/internal/engine/tsengine"
	"github.com/zsiec/scrub/internal/logging"
	"github.com/zsiec/scrub/internal/prefetch"
)

var version = "dev"

const usage = `usage:
  scrub [flags] SOURCE       simulate scrubbing SOURCE and print cache statistics
  scrub info [flags] SOURCE  print the media description of SOURCE
  scrub gen [flags] OUT      write a synthetic H.264/AAC transport stream to OUT
  scrub version              print the version

SOURCE is a .ts file or a synth: URI such as synth:?fps=30&duration=10s.
`

func main() {
	args := os.Args[1:]
	cmd := "scrub"
	if len(args) > 0 && (args[0] == "info" || args[0] == "gen" || args[0] == "version") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "gen":
		err = runGen(args, os.Stdout)
	case "version":
		fmt.Println(version)
	default:
		err = runDecoder(cmd, args, os.Stdout)
	}
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "scrub:", err)
		os.Exit(1)
	}
}

func runDecoder(cmd string, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("scrub "+cmd, pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("expected exactly one SOURCE")
	}
	source := fs.Arg(0)

	cfg, err := config.Load(fs)
	if err != nil {
		return err
	}
	if os.Getenv("DEBUG") != "" {
		cfg.Logging.Level = "debug"
	}
	log, closeLog, err := logging.SetupLogger(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	reg := decoder.NewRegistry(cfg.Scrub.MaxDecoders, log)
	defer reg.Close()

	h, d, err := reg.Create(source, cfg.Decoder, decoder.WithLogger(log))
	if err != nil {
		return err
	}
	if err := d.Prepare(); err != nil {
		return fmt.Errorf("%s (%s): %w", source, decoder.CodeOf(err), err)
	}

	if cmd == "info" {
		info, _ := d.MediaInfo()
		return writeYAML(out, newInfoReport(source, info))
	}

	slog.Info("scrub starting",
		"version", version,
		"handle", h,
		"source", source,
		"preset", cfg.Preset,
		"velocity", cfg.Scrub.Velocity,
		"steps", cfg.Scrub.Steps,
	)
	start := time.Now()
	sim, err := simulate(ctx, d, cfg)
	if err != nil {
		return err
	}
	info, _ := d.MediaInfo()
	rep := scrubReport{
		Source:   source,
		Handle:   h.String(),
		Media:    newInfoReport(source, info),
		Frames:   sim.frames,
		Prefetch: sim.prefetch,
		Cache:    newCacheReport(d.CacheStatistics()),
		Elapsed:  time.Since(start).Round(time.Millisecond).String(),
	}
	return writeYAML(out, rep)
}

type simResult struct {
	frames   frameReport
	prefetch prefetchReport
}

// restartEvery is how many playhead moves pass between prefetch restarts.
const restartEvery = 30

// simulate walks the playhead through the source at the configured velocity
// while prefetch runs ahead of it.
func simulate(parent context.Context, d *decoder.Decoder, cfg *config.Config) (simResult, error) {
	var res simResult
	sc := cfg.Scrub
	md := d.StreamMetadata()
	fd := md.FrameDuration()
	tol := sc.Tolerance.Microseconds()

	dir := 1
	t := int64(0)
	if sc.Velocity < 0 {
		dir, t = -1, md.DurationUS
	}
	speed := max(sc.Velocity*float64(dir), 0)
	step := max(int64(speed*float64(fd)), fd) * int64(dir)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if sc.Watch && !strings.HasPrefix(d.Path(), synth.Scheme) {
		g.Go(func() error {
			return decoder.WatchSource(ctx, d)
		})
	}

	if err := d.Seek(t); err != nil {
		return res, err
	}
	if err := d.StartPrefetch(dir, speed); err != nil {
		return res, err
	}
	if results := d.PrefetchResults(); results != nil {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case r, ok := <-results:
					if !ok {
						return nil
					}
					switch r.Kind {
					case prefetch.ResultFrame:
						res.prefetch.Frames++
					case prefetch.ResultError:
						res.prefetch.Errors++
					}
				}
			}
		})
	}

	g.Go(func() error {
		defer cancel()
		for i := range sc.Steps {
			f, err := d.GetFrameAt(t, tol)
			if err != nil {
				res.frames.Errors++
				slog.Warn("frame lookup failed", "pts_us", t, "code", decoder.CodeOf(err), "error", err)
			}
			res.frames.Requested++
			if f != nil {
				res.frames.Served++
			} else if err == nil {
				res.frames.Missing++
			}

			t += step
			if t < 0 || t > md.DurationUS {
				break
			}
			if i > 0 && i%restartEvery == 0 {
				if err := d.StartPrefetch(dir, speed); err != nil {
					return err
				}
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(sc.Interval):
			}
		}
		d.StopPrefetch()
		return nil
	})

	err := g.Wait()
	return res, err
}

func runGen(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("scrub gen", pflag.ContinueOnError)
	fps := fs.Float64("fps", 30, "frame rate")
	dur := fs.Duration("duration", 10*time.Second, "stream duration")
	gop := fs.Int("gop", 30, "frames per keyframe interval")
	size := fs.String("size", "640x360", "picture size WxH")
	caption := fs.String("caption", "", "roll-up caption text repeated on every keyframe")
	audio := fs.Int("audio", 0, "AAC sample rate; 0 writes no audio")
	channels := fs.Int("channels", 2, "AAC channel count")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("expected exactly one OUT path")
	}

	var w, h int
	if _, err := fmt.Sscanf(*size, "%dx%d", &w, &h); err != nil {
		return fmt.Errorf("invalid size %q: %w", *size, err)
	}
	switch {
	case w <= 0 || h <= 0:
		return fmt.Errorf("invalid size %q", *size)
	case *fps <= 0:
		return fmt.Errorf("invalid fps %v", *fps)
	case *dur <= 0:
		return fmt.Errorf("invalid duration %v", *dur)
	case *gop <= 0:
		return fmt.Errorf("invalid gop %d", *gop)
	case *audio < 0 || (*audio > 0 && (*channels < 1 || *channels > 7)):
		return fmt.Errorf("invalid audio %d Hz x %d channels", *audio, *channels)
	}
	opts := tsengine.GenerateOptions{
		FrameRate:       *fps,
		Duration:        *dur,
		GOP:             *gop,
		Width:           w,
		Height:          h,
		AudioSampleRate: *audio,
		AudioChannels:   *channels,
	}
	if *caption != "" {
		opts.Captions = make(map[int]string)
		total := int(dur.Seconds() * *fps)
		for n := 0; n < total; n += *gop {
			opts.Captions[n] = *caption
		}
	}

	f, err := os.Create(fs.Arg(0))
	if err != nil {
		return err
	}
	n, err := tsengine.Generate(f, opts)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	st, err := os.Stat(fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %d frames to %s (%s)\n", n, fs.Arg(0), humanize.Bytes(uint64(st.Size())))
	return nil
}
