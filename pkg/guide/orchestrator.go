package guide

import (
	"context"
	"encoding/base64"
	"log/slog"
	"time"

	"github.com/clearvisa-go/guide-lite/pkg/core"
	"github.com/clearvisa-go/guide-lite/pkg/core/audio"
	"github.com/clearvisa-go/guide-lite/pkg/guide/protocol"
)

// Recorder is the microphone surface the orchestrator drives.
type Recorder interface {
	Start() error
	Stop()
	Recording() bool
}

// Speaker is the playback surface the orchestrator drives.
type Speaker interface {
	Speak(ctx context.Context, text string)
	Stop()
	IsSpeaking() bool
}

// Callbacks receive the user-facing outputs of the guidance loop. All
// callbacks are invoked from the channel's read goroutine and must not
// block.
type Callbacks struct {
	// OnTranscript delivers speech-to-text results as they arrive.
	OnTranscript func(text string, partial bool)
	// OnAdvice delivers guidance with no spoken component, plus the
	// textual side of spoken advice.
	OnAdvice func(advice protocol.Advice)
	// OnError surfaces service-reported and transport-terminal errors.
	OnError func(message string)
	// OnConnected fires when the service acknowledges the channel.
	OnConnected func()
}

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithOrchestratorMetrics attaches audio counters.
func WithOrchestratorMetrics(m *Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator routes guidance events to their effects: transcriptions to
// the UI, spoken advice to the speaker, mic batches to the wire. It is the
// only component that both reads from and writes to the channel.
type Orchestrator struct {
	channel   *Channel
	speaker   Speaker
	recorder  Recorder
	callbacks Callbacks
	logger    *slog.Logger
	metrics   *Metrics
}

// NewOrchestrator wires the channel, audio pipeline, and callbacks
// together. The channel must have been built with o.HandleEvent as its
// event sink; Wire does that for callers constructing both at once.
func NewOrchestrator(speaker Speaker, recorder Recorder, callbacks Callbacks, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		speaker:   speaker,
		recorder:  recorder,
		callbacks: callbacks,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Bind attaches the channel the orchestrator sends on.
func (o *Orchestrator) Bind(channel *Channel) {
	o.channel = channel
}

// HandleEvent is the channel event sink.
func (o *Orchestrator) HandleEvent(event protocol.Event) {
	switch ev := event.(type) {
	case protocol.ConnectionEstablishedEvent:
		o.logger.Info("guidance service connected")
		if o.callbacks.OnConnected != nil {
			o.callbacks.OnConnected()
		}
	case protocol.TranscriptionEvent:
		if o.callbacks.OnTranscript != nil {
			o.callbacks.OnTranscript(ev.Text, ev.IsPartial)
		}
	case protocol.AdviceEvent:
		o.handleAdvice(ev)
	case protocol.ErrorEvent:
		o.logger.Warn("guidance service error", "message", ev.Message)
		if o.callbacks.OnError != nil {
			o.callbacks.OnError(ev.Message)
		}
	default:
		o.logger.Debug("unhandled guidance event")
	}
}

// handleAdvice speaks advice that carries a spoken line and always forwards
// the advice to the UI callback.
func (o *Orchestrator) handleAdvice(ev protocol.AdviceEvent) {
	if ev.Advice.Say != "" {
		o.speaker.Speak(context.Background(), ev.Advice.Say)
	}
	if o.callbacks.OnAdvice != nil {
		o.callbacks.OnAdvice(ev.Advice)
	}
}

// StartRecording opens the microphone. Playback is cut first so the mic
// does not pick up the assistant's own voice.
func (o *Orchestrator) StartRecording() error {
	o.speaker.Stop()
	if o.recorder == nil {
		return core.NewAudioDeviceError("no capture device wired", nil)
	}
	return o.recorder.Start()
}

// StopRecording releases the microphone, flushing any buffered audio.
func (o *Orchestrator) StopRecording() {
	if o.recorder != nil {
		o.recorder.Stop()
	}
}

// StopSpeaking cuts the current utterance off (barge-in).
func (o *Orchestrator) StopSpeaking() {
	o.speaker.Stop()
}

// SendAudioBatch ships one batch of captured PCM chunks as a voice_input
// message. Wired as the recorder's batch sink.
func (o *Orchestrator) SendAudioBatch(batch [][]byte) {
	msg := protocol.VoiceInput{
		Type:        protocol.TypeVoiceInput,
		AudioB64:    make([]string, len(batch)),
		TimestampMS: time.Now().UnixMilli(),
	}
	var total int
	for i, chunk := range batch {
		msg.AudioB64[i] = base64.StdEncoding.EncodeToString(chunk)
		total += len(chunk)
	}
	if o.metrics != nil {
		o.metrics.AudioBytesSent.Add(float64(total))
	}
	o.send(protocol.TypeVoiceInput, msg)
}

// SendTranscription ships typed text as a voice_input message.
func (o *Orchestrator) SendTranscription(text string) {
	o.send(protocol.TypeVoiceInput, protocol.VoiceInput{
		Type:          protocol.TypeVoiceInput,
		Transcription: text,
		TimestampMS:   time.Now().UnixMilli(),
	})
}

// send forwards to the bound channel; with no channel the message is
// dropped, mirroring the disconnected-channel behavior.
func (o *Orchestrator) send(msgType string, v any) {
	if o.channel == nil {
		o.logger.Warn("dropping outbound guidance message, no channel bound",
			"type", msgType)
		return
	}
	o.channel.Send(msgType, v)
}

// SendSnapshot pushes the current form state to the guidance service.
func (o *Orchestrator) SendSnapshot(snapshot protocol.Snapshot) {
	snapshot.Type = protocol.TypeSnapshot
	if snapshot.TimestampMS == 0 {
		snapshot.TimestampMS = time.Now().UnixMilli()
	}
	o.send(protocol.TypeSnapshot, snapshot)
}

// RequestGuidance asks the service for advice about a field.
func (o *Orchestrator) RequestGuidance(req protocol.RequestGuidance) {
	req.Type = protocol.TypeRequestGuidance
	o.send(protocol.TypeRequestGuidance, req)
}

// Close stops audio and tears the channel down.
func (o *Orchestrator) Close() {
	if o.recorder != nil {
		o.recorder.Stop()
	}
	o.speaker.Stop()
	if o.channel != nil {
		o.channel.Close()
	}
}

// Wire builds a channel bound to an orchestrator over the given audio
// pipeline pieces, returning both. The recorder's batches flow to the wire
// automatically when the recorder was built with orchestrator.SendAudioBatch
// as its sink; WireRecorder exists for that ordering problem.
func Wire(cfg ChannelConfig, speaker Speaker, callbacks Callbacks, opts ...OrchestratorOption) (*Orchestrator, *Channel) {
	o := NewOrchestrator(speaker, nil, callbacks, opts...)
	var chOpts []ChannelOption
	if o.metrics != nil {
		chOpts = append(chOpts, WithChannelMetrics(o.metrics))
	}
	channel := NewChannel(cfg, o.HandleEvent, chOpts...)
	o.Bind(channel)
	return o, channel
}

// WireRecorder attaches a recorder built after the orchestrator, closing
// the construction cycle between recorder batches and the wire.
func (o *Orchestrator) WireRecorder(recorder Recorder) {
	o.recorder = recorder
}

var _ Recorder = (*audio.Recorder)(nil)
var _ Speaker = (*audio.Speaker)(nil)
