package audio

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Synthesizer turns text into raw PCM in the playback format.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Player is a speaker sink. Write enqueues PCM for playback; Flush discards
// everything queued and silences the device immediately.
type Player interface {
	Write(data []byte)
	Flush()
	Close()
}

// SpeakerOption customizes a Speaker.
type SpeakerOption func(*Speaker)

// WithSpeakerLogger sets the logger.
func WithSpeakerLogger(l *slog.Logger) SpeakerOption {
	return func(s *Speaker) {
		if l != nil {
			s.logger = l
		}
	}
}

// Speaker plays one utterance at a time. A new Speak call or a Stop cancels
// whatever is currently sounding; there is no queue.
type Speaker struct {
	synth  Synthesizer
	player Player
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	gen      uint64
	speaking bool
	doneT    *time.Timer
	closed   bool
}

// NewSpeaker builds a Speaker over the given synthesizer and player.
func NewSpeaker(synth Synthesizer, player Player, cfg Config, opts ...SpeakerOption) *Speaker {
	s := &Speaker{
		synth:  synth,
		player: player,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Speak synthesizes text and plays it, cancelling any utterance in
// progress. Synthesis runs asynchronously; if a newer Speak or a Stop lands
// before it finishes, the result is dropped.
func (s *Speaker) Speak(ctx context.Context, text string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.cancelLocked()
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	go func() {
		pcm, err := s.synth.Synthesize(ctx, text)
		if err != nil {
			s.logger.Warn("synthesis failed", "error", err)
			return
		}

		s.mu.Lock()
		if s.closed || s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.speaking = true
		dur := s.cfg.Duration(len(pcm))
		s.doneT = time.AfterFunc(dur, func() {
			s.mu.Lock()
			if s.gen == gen {
				s.speaking = false
			}
			s.mu.Unlock()
		})
		s.mu.Unlock()

		s.player.Write(pcm)
	}()
}

// Stop cuts the current utterance off immediately. Used for barge-in and
// when recording starts.
func (s *Speaker) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.cancelLocked()
	s.gen++
	s.mu.Unlock()
}

// IsSpeaking reports whether an utterance is still sounding.
func (s *Speaker) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Close stops playback and releases the player.
func (s *Speaker) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancelLocked()
	s.mu.Unlock()
	s.player.Close()
}

// cancelLocked flushes the player and clears speaking state. Caller holds
// s.mu.
func (s *Speaker) cancelLocked() {
	if s.doneT != nil {
		s.doneT.Stop()
		s.doneT = nil
	}
	if s.speaking {
		s.speaking = false
	}
	s.player.Flush()
}
