package audio

import (
	"log/slog"
	"sync"
	"time"

	"github.com/clearvisa-go/guide-lite/pkg/core"
)

// CaptureDevice is one open microphone handle. Data arrives on the callback
// passed at open time; Stop releases the hardware.
type CaptureDevice interface {
	Start() error
	Stop() error
}

// OpenCapture opens a microphone producing raw PCM in cfg's format. onData
// may be called from a device thread with slices the callee must not retain.
type OpenCapture func(cfg Config, onData func([]byte)) (CaptureDevice, error)

// RecorderOption customizes a Recorder.
type RecorderOption func(*Recorder)

// WithRecorderLogger sets the logger.
func WithRecorderLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithChunkDuration overrides the chunk slicing interval.
func WithChunkDuration(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.chunkDur = d
		}
	}
}

// WithBatchFlush overrides the batch flush thresholds.
func WithBatchFlush(chunks int, every time.Duration) RecorderOption {
	return func(r *Recorder) {
		if chunks > 0 {
			r.flushChunks = chunks
		}
		if every > 0 {
			r.flushEvery = every
		}
	}
}

// Recorder owns the microphone. It slices the device stream into fixed
// chunks and hands them to onBatch in groups, so one network send carries
// roughly a second of speech. Only one capture is active at a time; starting
// again tears down the previous handle first.
type Recorder struct {
	open        OpenCapture
	cfg         Config
	chunkDur    time.Duration
	flushChunks int
	flushEvery  time.Duration
	onBatch     func(batch [][]byte)
	logger      *slog.Logger

	mu         sync.Mutex
	device     CaptureDevice
	partial    []byte
	batch      [][]byte
	flushTimer *time.Timer
	gen        uint64
}

// NewRecorder builds a Recorder. onBatch receives ownership of the slices it
// is given and is called outside the recorder lock.
func NewRecorder(open OpenCapture, cfg Config, onBatch func(batch [][]byte), opts ...RecorderOption) *Recorder {
	r := &Recorder{
		open:        open,
		cfg:         cfg,
		chunkDur:    100 * time.Millisecond,
		flushChunks: 10,
		flushEvery:  time.Second,
		onBatch:     onBatch,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Recording reports whether a capture handle is currently open.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.device != nil
}

// Start opens the microphone. If a capture is already running it is stopped
// and its buffered audio flushed before the new handle opens.
func (r *Recorder) Start() error {
	r.mu.Lock()
	var prev [][]byte
	if r.device != nil {
		prev = r.stopLocked()
	}
	r.gen++
	gen := r.gen
	r.partial = r.partial[:0]
	r.batch = nil
	r.mu.Unlock()
	r.deliver(prev)

	chunkBytes := r.cfg.BytesFor(r.chunkDur)
	device, err := r.open(r.cfg, func(data []byte) {
		r.ingest(gen, chunkBytes, data)
	})
	if err != nil {
		return core.NewAudioDeviceError("open capture device", err)
	}
	if err := device.Start(); err != nil {
		_ = device.Stop()
		return core.NewAudioDeviceError("start capture device", err)
	}

	r.mu.Lock()
	if r.gen != gen {
		// A concurrent Start or Stop won the race.
		r.mu.Unlock()
		_ = device.Stop()
		return nil
	}
	r.device = device
	r.flushTimer = time.AfterFunc(r.flushEvery, func() { r.timedFlush(gen) })
	r.mu.Unlock()

	r.logger.Debug("capture started",
		"sample_rate", r.cfg.SampleRate, "chunk_ms", r.chunkDur.Milliseconds())
	return nil
}

// Stop releases the microphone and flushes whatever was buffered, including
// a trailing partial chunk.
func (r *Recorder) Stop() {
	r.mu.Lock()
	flushed := r.stopLocked()
	r.mu.Unlock()
	r.deliver(flushed)
}

// ingest appends device data, slicing it into whole chunks.
func (r *Recorder) ingest(gen uint64, chunkBytes int, data []byte) {
	var flushed [][]byte

	r.mu.Lock()
	if r.gen != gen || r.device == nil {
		r.mu.Unlock()
		return
	}
	r.partial = append(r.partial, data...)
	for len(r.partial) >= chunkBytes {
		chunk := make([]byte, chunkBytes)
		copy(chunk, r.partial)
		r.partial = r.partial[chunkBytes:]
		r.batch = append(r.batch, chunk)
	}
	if len(r.batch) >= r.flushChunks {
		flushed = r.takeBatchLocked()
	}
	r.mu.Unlock()

	r.deliver(flushed)
}

// timedFlush sends whatever accumulated during the interval so quiet
// passages still reach the service promptly.
func (r *Recorder) timedFlush(gen uint64) {
	r.mu.Lock()
	if r.gen != gen || r.device == nil {
		r.mu.Unlock()
		return
	}
	flushed := r.takeBatchLocked()
	r.flushTimer = time.AfterFunc(r.flushEvery, func() { r.timedFlush(gen) })
	r.mu.Unlock()

	r.deliver(flushed)
}

// stopLocked tears down the device and returns the final batch, with any
// partial chunk appended. Caller holds r.mu.
func (r *Recorder) stopLocked() [][]byte {
	if r.device == nil {
		return nil
	}
	if err := r.device.Stop(); err != nil {
		r.logger.Warn("capture device stop failed", "error", err)
	}
	r.device = nil
	r.gen++
	if r.flushTimer != nil {
		r.flushTimer.Stop()
		r.flushTimer = nil
	}
	if len(r.partial) > 0 {
		tail := make([]byte, len(r.partial))
		copy(tail, r.partial)
		r.partial = r.partial[:0]
		r.batch = append(r.batch, tail)
	}
	return r.takeBatchLocked()
}

func (r *Recorder) takeBatchLocked() [][]byte {
	if len(r.batch) == 0 {
		return nil
	}
	batch := r.batch
	r.batch = nil
	return batch
}

func (r *Recorder) deliver(batch [][]byte) {
	if len(batch) == 0 || r.onBatch == nil {
		return
	}
	r.onBatch(batch)
}
