package main

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestGenThenInfo(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "clip.ts")

	var out bytes.Buffer
	err := runGen([]string{"--fps", "25", "--duration", "2s", "--gop", "25", "--size", "320x240", "--caption", "HELLO", path}, &out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "wrote 50 frames") {
		t.Errorf("gen output = %q", out.String())
	}

	out.Reset()
	if err := runDecoder("info", []string{"--log-level", "error", path}, &out); err != nil {
		t.Fatal(err)
	}
	var rep infoReport
	if err := yaml.Unmarshal(out.Bytes(), &rep); err != nil {
		t.Fatalf("info output is not YAML: %v\n%s", err, out.String())
	}
	if rep.Container != "mpegts" || rep.Duration != "2s" {
		t.Errorf("report = %+v", rep)
	}
	if rep.Video == nil || rep.Video.Size != "320x240" || rep.Video.FrameRate != 25 {
		t.Errorf("video = %+v", rep.Video)
	}
}

func TestGenRejectsBadSize(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "clip.ts")
	if err := runGen([]string{"--size", "wide", path}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for bad size")
	}
}

func TestGenRejectsBadOptions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		args []string
	}{
		{"zero gop with caption", []string{"--gop", "0", "--caption", "X"}},
		{"negative gop", []string{"--gop", "-5"}},
		{"zero fps", []string{"--fps", "0"}},
		{"zero duration", []string{"--duration", "0s"}},
		{"zero width", []string{"--size", "0x240"}},
		{"bad sample rate", []string{"--audio", "12345"}},
		{"bad channels", []string{"--audio", "48000", "--channels", "9"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "clip.ts")
			done := make(chan error, 1)
			go func() { done <- runGen(append(tt.args, path), &bytes.Buffer{}) }()
			select {
			case err := <-done:
				if err == nil {
					t.Fatal("expected error")
				}
			case <-time.After(5 * time.Second):
				t.Fatal("gen did not return")
			}
			if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
				t.Errorf("output file left behind: %v", err)
			}
		})
	}
}

func TestGenWithAudio(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "clip.ts")
	if err := runGen([]string{"--duration", "1s", "--audio", "44100", "--channels", "1", path}, &bytes.Buffer{}); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := runDecoder("info", []string{"--log-level", "error", path}, &out); err != nil {
		t.Fatal(err)
	}
	var rep infoReport
	if err := yaml.Unmarshal(out.Bytes(), &rep); err != nil {
		t.Fatal(err)
	}
	if rep.Audio == nil || rep.Audio.Codec != "aac" || rep.Audio.SampleRate != 44100 || rep.Audio.Channels != "mono" {
		t.Errorf("audio = %+v", rep.Audio)
	}
}

func TestScrubSynthetic(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	args := []string{"--steps", "10", "--interval", "0s", "--log-level", "error", "synth:?fps=30&duration=2s"}
	if err := runDecoder("scrub", args, &out); err != nil {
		t.Fatal(err)
	}
	var rep scrubReport
	if err := yaml.Unmarshal(out.Bytes(), &rep); err != nil {
		t.Fatalf("scrub output is not YAML: %v\n%s", err, out.String())
	}
	if rep.Frames.Requested != 10 || rep.Frames.Served != 10 || rep.Frames.Errors != 0 {
		t.Errorf("frames = %+v", rep.Frames)
	}
	if rep.Handle == "" || rep.Media.Container != "synthetic" {
		t.Errorf("report = %+v", rep)
	}
	if rep.Cache.Entries["l1"] == 0 {
		t.Errorf("cache = %+v", rep.Cache)
	}
}

func TestScrubRequiresSource(t *testing.T) {
	t.Parallel()
	if err := runDecoder("scrub", []string{"--log-level", "error"}, &bytes.Buffer{}); err == nil {
		t.Error("expected error without SOURCE")
	}
}
