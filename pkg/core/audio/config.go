// Package audio implements the capture and playback halves of the voice
// pipeline: an exclusive microphone recorder that batches PCM chunks, and a
// speaker that plays synthesized utterances with barge-in support.
package audio

import "time"

// Config describes a raw PCM stream (signed 16-bit little-endian).
type Config struct {
	SampleRate int
	Channels   int
}

// DefaultCaptureConfig is mono 16kHz, the format the guidance service
// transcribes.
var DefaultCaptureConfig = Config{SampleRate: 16000, Channels: 1}

// DefaultPlaybackConfig is mono 24kHz, the synthesis output format.
var DefaultPlaybackConfig = Config{SampleRate: 24000, Channels: 1}

const bytesPerSample = 2 // S16LE

// BytesPerSecond returns the PCM byte rate.
func (c Config) BytesPerSecond() int {
	return c.SampleRate * c.Channels * bytesPerSample
}

// BytesFor returns the byte count covering d of audio, rounded down to a
// whole sample frame.
func (c Config) BytesFor(d time.Duration) int {
	n := int(int64(c.BytesPerSecond()) * d.Milliseconds() / 1000)
	frame := c.Channels * bytesPerSample
	return n - n%frame
}

// Duration returns the playback time of n PCM bytes.
func (c Config) Duration(n int) time.Duration {
	bps := c.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}
