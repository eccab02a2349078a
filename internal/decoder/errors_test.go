package decoder

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/zsiec/scrub/internal/engine"
)

func TestCodeOf(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want Code
	}{
		{nil, CodeSuccess},
		{engine.Errorf("open", "a.ts", engine.ErrNotFound, "gone"), CodeFileNotFound},
		{fmt.Errorf("stat: %w", fs.ErrNotExist), CodeFileNotFound},
		{engine.Errorf("open", "a.ts", engine.ErrInvalidFormat, "junk"), CodeInvalidFormat},
		{engine.Errorf("open", "a.ts", engine.ErrCodecUnsupported, "hevc"), CodeCodecUnsupported},
		{engine.Errorf("decode", "a.ts", engine.ErrDecodeFailed, "bad slice"), CodeDecodeFailed},
		{engine.Errorf("seek", "a.ts", engine.ErrSeekFailed, "-1"), CodeSeekFailed},
		{ErrOutOfMemory, CodeOutOfMemory},
		{fmt.Errorf("lookup: %w", ErrInvalidHandle), CodeInvalidHandle},
		{ErrNotPrepared, CodeNotPrepared},
		{errors.New("something else"), CodeUnknown},
	}
	for _, tt := range tests {
		if got := CodeOf(tt.err); got != tt.want {
			t.Errorf("CodeOf(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
	if CodeUnknown != 99 || CodeNotPrepared != 8 {
		t.Error("result code values changed")
	}
}

func TestPresets(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		l1, l2, l3 int
		prefetch   bool
	}{
		{"default", 30, 100, 500, true},
		{"performance", 60, 200, 1000, true},
		{"low-memory", 15, 50, 100, false},
		{"scrubbing", 45, 200, 800, true},
	}
	for _, tt := range tests {
		c, err := Preset(tt.name)
		if err != nil {
			t.Fatal(err)
		}
		if c.L1Capacity != tt.l1 || c.L2Capacity != tt.l2 || c.L3Capacity != tt.l3 || c.EnablePrefetch != tt.prefetch {
			t.Errorf("%s: got %+v", tt.name, c)
		}
		if err := c.Validate(); err != nil {
			t.Errorf("%s: %v", tt.name, err)
		}
	}
	if c := LowMemoryConfig(); c.ThreadCount != 2 || c.PixelFormat.String() != "nv12" {
		t.Errorf("low memory = %+v", c)
	}
	if _, err := Preset("turbo"); err == nil {
		t.Error("expected error for unknown preset")
	}

	bad := DefaultConfig()
	bad.L2Capacity = -1
	if err := bad.Validate(); err == nil {
		t.Error("expected error for negative capacity")
	}
	if _, err := New(clip, bad); err == nil {
		t.Error("New accepted an invalid config")
	}
}
