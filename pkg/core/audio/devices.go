package audio

import (
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"

	"github.com/clearvisa-go/guide-lite/pkg/core"
)

// Devices owns the OS audio contexts. One Devices serves both the recorder
// and the speaker for the life of the process.
type Devices struct {
	malgoCtx *malgo.AllocatedContext
	otoCtx   *oto.Context
}

// OpenDevices initializes the microphone and speaker backends. playback
// fixes the speaker format; capture formats are chosen per OpenCapture call.
func OpenDevices(playback Config) (*Devices, error) {
	malgoConfig := malgo.ContextConfig{}
	malgoConfig.ThreadPriority = malgo.ThreadPriorityRealtime

	malgoCtx, err := malgo.InitContext(nil, malgoConfig, nil)
	if err != nil {
		return nil, core.NewAudioDeviceError("init capture context", err)
	}

	otoOpts := &oto.NewContextOptions{
		SampleRate:   playback.SampleRate,
		ChannelCount: playback.Channels,
		Format:       oto.FormatSignedInt16LE,
		// ~100ms buffer keeps playback latency low.
		BufferSize: playback.BytesFor(100 * time.Millisecond),
	}
	otoCtx, ready, err := oto.NewContext(otoOpts)
	if err != nil {
		_ = malgoCtx.Uninit()
		return nil, core.NewAudioDeviceError("init playback context", err)
	}
	<-ready

	return &Devices{malgoCtx: malgoCtx, otoCtx: otoCtx}, nil
}

// OpenCapture satisfies the recorder's OpenCapture signature.
func (d *Devices) OpenCapture(cfg Config, onData func([]byte)) (CaptureDevice, error) {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			onData(pInputSamples)
		},
	}

	device, err := malgo.InitDevice(d.malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, err
	}
	return &malgoCapture{device: device}, nil
}

// NewPlayer returns a speaker sink over the oto context.
func (d *Devices) NewPlayer() *OtoPlayer {
	p := &OtoPlayer{
		newPlayer: func(src io.Reader) playerHandle {
			return otoHandle{p: d.otoCtx.NewPlayer(src)}
		},
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Close releases both audio backends.
func (d *Devices) Close() {
	_ = d.malgoCtx.Uninit()
	_ = d.otoCtx.Suspend()
}

type malgoCapture struct {
	device *malgo.Device
}

func (c *malgoCapture) Start() error {
	return c.device.Start()
}

func (c *malgoCapture) Stop() error {
	err := c.device.Stop()
	c.device.Uninit()
	return err
}

// playerHandle is one live output stream on the speaker device.
type playerHandle interface {
	Play()
	Pause()
	Reset()
	Close()
}

type otoHandle struct {
	p *oto.Player
}

func (h otoHandle) Play()  { h.p.Play() }
func (h otoHandle) Pause() { h.p.Pause() }
func (h otoHandle) Reset() { h.p.Reset() }
func (h otoHandle) Close() { _ = h.p.Close() }

// OtoPlayer feeds queued PCM to an oto player through a pull reader. The
// player is created lazily on first write and rebuilt after a Flush, so
// flushed audio never bleeds into the next utterance.
type OtoPlayer struct {
	newPlayer func(src io.Reader) playerHandle

	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	player  playerHandle
	playing bool
	closed  bool
}

// Write enqueues PCM and starts playback if idle.
func (p *OtoPlayer) Write(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.buf = append(p.buf, data...)
	if !p.playing {
		p.playing = true
		p.player = p.newPlayer(p)
		p.player.Play()
	}
	p.cond.Signal()
}

// Read implements io.Reader for oto's pull loop.
func (p *OtoPlayer) Read(out []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.buf) == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.closed && len(p.buf) == 0 {
		// Feed silence so oto drains gracefully.
		for i := range out {
			out[i] = 0
		}
		return len(out), nil
	}

	n := copy(out, p.buf)
	p.buf = p.buf[n:]
	return n, nil
}

// Flush drops all queued audio and stops the device output immediately.
func (p *OtoPlayer) Flush() {
	p.mu.Lock()
	p.buf = p.buf[:0]
	if p.player != nil && p.playing {
		p.playing = false
		player := p.player
		p.player = nil
		p.mu.Unlock()

		// Pause first so audio stops now, then reset oto's internal buffer.
		player.Pause()
		player.Reset()
		player.Close()
		return
	}
	p.mu.Unlock()
}

// Close ends playback permanently.
func (p *OtoPlayer) Close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	player := p.player
	p.player = nil
	p.mu.Unlock()

	if player != nil {
		player.Close()
	}
}
