package guide

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clearvisa-go/guide-lite/pkg/guide/protocol"
)

type stubSpeaker struct {
	mu       sync.Mutex
	spoken   []string
	stops    int
	speaking bool
}

func (s *stubSpeaker) Speak(_ context.Context, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, text)
	s.speaking = true
}

func (s *stubSpeaker) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.speaking = false
}

func (s *stubSpeaker) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

type stubRecorder struct {
	mu        sync.Mutex
	starts    int
	stops     int
	recording bool
}

func (r *stubRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
	r.recording = true
	return nil
}

func (r *stubRecorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	r.recording = false
}

func (r *stubRecorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

func TestSpokenAdviceReachesSpeakerAndCallback(t *testing.T) {
	speaker := &stubSpeaker{}
	var (
		mu     sync.Mutex
		advice []protocol.Advice
	)
	o := NewOrchestrator(speaker, &stubRecorder{}, Callbacks{
		OnAdvice: func(a protocol.Advice) {
			mu.Lock()
			advice = append(advice, a)
			mu.Unlock()
		},
	})

	o.HandleEvent(protocol.AdviceEvent{Advice: protocol.Advice{
		Say:       "Please enter your employer's legal name.",
		NextField: "employer",
	}})
	o.HandleEvent(protocol.AdviceEvent{Advice: protocol.Advice{
		Message: "Looks good so far.",
	}})

	speaker.mu.Lock()
	spoken := append([]string(nil), speaker.spoken...)
	speaker.mu.Unlock()
	if len(spoken) != 1 || spoken[0] != "Please enter your employer's legal name." {
		t.Errorf("spoken = %v, want only the advice with a say line", spoken)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(advice) != 2 {
		t.Errorf("advice callbacks = %d, want 2", len(advice))
	}
}

func TestTranscriptionForwardedWithPartialFlag(t *testing.T) {
	var (
		mu    sync.Mutex
		texts []string
		flags []bool
	)
	o := NewOrchestrator(&stubSpeaker{}, &stubRecorder{}, Callbacks{
		OnTranscript: func(text string, partial bool) {
			mu.Lock()
			texts = append(texts, text)
			flags = append(flags, partial)
			mu.Unlock()
		},
	})

	o.HandleEvent(protocol.TranscriptionEvent{Text: "my name", IsPartial: true})
	o.HandleEvent(protocol.TranscriptionEvent{Text: "my name is Ana", IsPartial: false})

	mu.Lock()
	defer mu.Unlock()
	if len(texts) != 2 || texts[1] != "my name is Ana" {
		t.Fatalf("transcripts = %v", texts)
	}
	if !flags[0] || flags[1] {
		t.Errorf("partial flags = %v, want [true false]", flags)
	}
}

func TestServiceErrorSurfaced(t *testing.T) {
	var (
		mu   sync.Mutex
		msgs []string
	)
	o := NewOrchestrator(&stubSpeaker{}, &stubRecorder{}, Callbacks{
		OnError: func(message string) {
			mu.Lock()
			msgs = append(msgs, message)
			mu.Unlock()
		},
	})

	o.HandleEvent(protocol.ErrorEvent{Message: "transcription backend unavailable"})

	mu.Lock()
	defer mu.Unlock()
	if len(msgs) != 1 || msgs[0] != "transcription backend unavailable" {
		t.Errorf("errors = %v", msgs)
	}
}

func TestStartRecordingStopsPlaybackFirst(t *testing.T) {
	speaker := &stubSpeaker{}
	recorder := &stubRecorder{}
	o := NewOrchestrator(speaker, recorder, Callbacks{})

	speaker.Speak(context.Background(), "advice in progress")
	if err := o.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}

	if speaker.IsSpeaking() {
		t.Error("playback still running after recording started")
	}
	if !recorder.Recording() {
		t.Error("recorder not started")
	}

	o.StopRecording()
	if recorder.Recording() {
		t.Error("recorder still running after StopRecording")
	}
}

// collectServer captures every text frame a client sends.
func collectServer(t *testing.T) (*httptest.Server, func() []map[string]any) {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	var (
		mu       sync.Mutex
		messages []map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"connection_established","session_id":"sess_1"}`))
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg map[string]any
			if json.Unmarshal(data, &msg) == nil {
				mu.Lock()
				messages = append(messages, msg)
				mu.Unlock()
			}
		}
	}))
	return server, func() []map[string]any {
		mu.Lock()
		defer mu.Unlock()
		out := make([]map[string]any, len(messages))
		copy(out, messages)
		return out
	}
}

func TestOutboundMessagesCarryTypes(t *testing.T) {
	server, received := collectServer(t)
	defer server.Close()

	connected := make(chan struct{})
	var once sync.Once
	o, channel := Wire(ChannelConfig{
		URL:           wsURL(server),
		ReconnectBase: 5 * time.Millisecond,
		ReconnectCap:  20 * time.Millisecond,
		MaxAttempts:   2,
	}, &stubSpeaker{}, Callbacks{
		OnConnected: func() { once.Do(func() { close(connected) }) },
	})
	o.WireRecorder(&stubRecorder{})
	channel.Connect(context.Background())
	defer channel.Close()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("never connected")
	}

	o.SendSnapshot(protocol.Snapshot{
		SessionID: "sess_1",
		VisaType:  "H-1B",
		Responses: map[string]string{"full_name": "Ana Silva"},
		Progress:  8,
	})
	o.SendAudioBatch([][]byte{{1, 2}, {3, 4}})
	o.SendTranscription("typed answer")
	o.RequestGuidance(protocol.RequestGuidance{RequestType: "next_step"})

	deadline := time.Now().Add(2 * time.Second)
	for len(received()) < 4 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	msgs := received()
	if len(msgs) != 4 {
		t.Fatalf("server received %d messages, want 4", len(msgs))
	}
	wantTypes := []string{"snapshot", "voice_input", "voice_input", "request_guidance"}
	for i, want := range wantTypes {
		if got, _ := msgs[i]["type"].(string); got != want {
			t.Errorf("message %d type = %q, want %q", i, got, want)
		}
	}
	if audio, ok := msgs[1]["audio"].([]any); !ok || len(audio) != 2 {
		t.Errorf("voice_input audio = %v, want 2 base64 chunks", msgs[1]["audio"])
	}
	if got, _ := msgs[2]["transcription"].(string); got != "typed answer" {
		t.Errorf("transcription = %q", got)
	}
}
