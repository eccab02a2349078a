package media

// DefaultFrameRate is assumed when a stream does not report its rate.
const DefaultFrameRate = 30.0

// StreamMetadata is the subset of stream properties the cache and prefetch
// layers need.
type StreamMetadata struct {
	FrameRate  float64
	DurationUS int64
	Width      int
	Height     int
}

// FrameDuration returns the nominal frame interval in microseconds, falling
// back to DefaultFrameRate when the rate is unknown.
func (m StreamMetadata) FrameDuration() int64 {
	return FrameDurationFor(m.FrameRate)
}

// FrameDurationFor converts a frame rate to a frame interval in microseconds.
func FrameDurationFor(fps float64) int64 {
	if fps <= 0 {
		fps = DefaultFrameRate
	}
	return int64(1_000_000 / fps)
}

// CodecInfo names a codec.
type CodecInfo struct {
	Name     string
	LongName string
	FourCC   string
}

// VideoTrack describes one video elementary stream.
type VideoTrack struct {
	Index             int
	Codec             CodecInfo
	Width             int
	Height            int
	FrameRate         float64
	BitRate           int64
	PixelFormat       string
	HardwareDecodable bool
	ColorRange        string
}

// AudioTrack describes one audio elementary stream.
type AudioTrack struct {
	Index         int
	Codec         CodecInfo
	SampleRate    int
	Channels      int
	ChannelLayout string
	BitRate       int64
	Language      string
}

// MediaInfo describes an opened source.
type MediaInfo struct {
	DurationUS      int64
	ContainerFormat string
	VideoTracks     []VideoTrack
	AudioTracks     []AudioTrack
	Metadata        map[string]string
}

// HasVideo reports whether the source has at least one video track.
func (mi MediaInfo) HasVideo() bool { return len(mi.VideoTracks) > 0 }

// HasAudio reports whether the source has at least one audio track.
func (mi MediaInfo) HasAudio() bool { return len(mi.AudioTracks) > 0 }

// PrimaryVideo returns the first video track.
func (mi MediaInfo) PrimaryVideo() (VideoTrack, bool) {
	if len(mi.VideoTracks) == 0 {
		return VideoTrack{}, false
	}
	return mi.VideoTracks[0], true
}

// PrimaryAudio returns the first audio track.
func (mi MediaInfo) PrimaryAudio() (AudioTrack, bool) {
	if len(mi.AudioTracks) == 0 {
		return AudioTrack{}, false
	}
	return mi.AudioTracks[0], true
}
