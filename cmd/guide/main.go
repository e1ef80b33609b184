// Package main is a terminal client for guided visa intake sessions.
//
// It drives the full stack: a durable session that survives restarts,
// debounced field validation, and a live voice channel to the guidance
// service.
//
// Usage:
//
//	go run ./cmd/guide
//
// Environment variables (a .env file is honored):
//
//	GUIDE_API_BASE_URL - intake service REST base URL
//	GUIDE_WS_URL       - guidance service websocket base URL
//
// Controls:
//
//	<field>=<value>   Answer a field (validated and saved immediately)
//	/start <visa>     Start a new session
//	/talk             Start voice recording
//	/stop             Stop recording
//	/quiet            Stop the assistant speaking
//	/guidance         Ask what to do next
//	/snapshot         Push form state to the guidance service
//	/status           Show session state
//	/clear            Discard the session
//	q                 Quit
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/clearvisa-go/guide-lite/internal/config"
	"github.com/clearvisa-go/guide-lite/internal/storage"
	"github.com/clearvisa-go/guide-lite/pkg/api"
	"github.com/clearvisa-go/guide-lite/pkg/core/audio"
	"github.com/clearvisa-go/guide-lite/pkg/core/session"
	"github.com/clearvisa-go/guide-lite/pkg/core/validation"
	"github.com/clearvisa-go/guide-lite/pkg/guide"
	"github.com/clearvisa-go/guide-lite/pkg/guide/protocol"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()
	}()

	if err := os.MkdirAll(filepath.Dir(cfg.StoragePath), 0o755); err != nil {
		log.Fatalf("storage dir: %v", err)
	}
	store, err := storage.Open(cfg.StoragePath)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer store.Close()

	client := api.NewClient(cfg.APIBaseURL)
	metrics := guide.NewMetrics()
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Warn("metrics listener failed", "error", err)
			}
		}()
	}

	manager := session.NewManager(client, store, session.Config{
		TotalRequiredFields: cfg.TotalRequiredFields,
		UserEmail:           cfg.UserEmail,
	},
		session.WithLogger(logger),
		session.WithOnError(func(err error) {
			fmt.Printf("\n[save] %v\n> ", err)
		}),
	)
	defer manager.Close()

	if err := manager.Restore(ctx); err != nil {
		fmt.Printf("Could not resume previous session: %v\n", err)
	} else if sess := manager.Snapshot(); sess != nil {
		fmt.Printf("Resumed session %s (%s, %d%% complete)\n",
			sess.SessionID, sess.VisaType, sess.Progress)
	}

	pipeline := validation.NewPipeline(client,
		func() string {
			if sess := manager.Snapshot(); sess != nil {
				return sess.SessionID
			}
			return ""
		},
		func(res validation.Result) {
			switch res.Status {
			case validation.StatusPending:
				return
			case validation.StatusValid:
				fmt.Printf("\n[%s] ok (score %d)\n> ", res.FieldID, res.Score)
			default:
				fmt.Printf("\n[%s] %s: %s\n> ", res.FieldID, res.Status, res.Message)
				for _, s := range res.Suggestions {
					fmt.Printf("    suggestion: %s\n", s)
				}
			}
			manager.RecordValidationScore(res.FieldID, res.Score)
		},
		validation.WithDebounce(cfg.DebounceWindow()),
		validation.WithPipelineLogger(logger),
		validation.WithSaver(manager),
		validation.WithOnCheckError(func(fieldID string, err error) {
			fmt.Printf("\n[%s] could not validate right now (%v); your answer is kept\n> ", fieldID, err)
		}),
	)
	defer pipeline.Close()

	// Voice is optional: no audio hardware just disables /talk.
	var (
		speaker  guide.Speaker
		recorder *audio.Recorder
	)
	playbackCfg := audio.Config{SampleRate: cfg.PlaybackSampleRate, Channels: 1}
	captureCfg := audio.Config{SampleRate: cfg.CaptureSampleRate, Channels: 1}
	devices, devErr := audio.OpenDevices(playbackCfg)
	if devErr != nil {
		logger.Warn("audio unavailable, voice disabled", "error", devErr)
		speaker = noopSpeaker{}
	} else {
		defer devices.Close()
		speaker = audio.NewSpeaker(
			client.NewSynthesizer(cfg.PlaybackSampleRate),
			devices.NewPlayer(), playbackCfg,
			audio.WithSpeakerLogger(logger))
	}

	orchestrator := guide.NewOrchestrator(speaker, nil, guide.Callbacks{
		OnConnected: func() {
			fmt.Print("\nGuidance service connected\n> ")
		},
		OnTranscript: func(text string, partial bool) {
			if partial {
				fmt.Printf("\r... %s", text)
			} else {
				fmt.Printf("\nYou said: %s\n> ", text)
			}
		},
		OnAdvice: func(a protocol.Advice) {
			if a.Message != "" {
				fmt.Printf("\n[guidance] %s\n> ", a.Message)
			}
			if a.NextField != "" {
				manager.SetCurrentField(a.NextField)
				fmt.Printf("[guidance] next field: %s\n> ", a.NextField)
			}
		},
		OnError: func(message string) {
			fmt.Printf("\n[guidance error] %s\n> ", message)
		},
	}, guide.WithOrchestratorLogger(logger), guide.WithOrchestratorMetrics(metrics))

	if devErr == nil {
		recorder = audio.NewRecorder(devices.OpenCapture, captureCfg,
			orchestrator.SendAudioBatch,
			audio.WithRecorderLogger(logger),
			audio.WithChunkDuration(time.Duration(cfg.ChunkMS)*time.Millisecond),
			audio.WithBatchFlush(cfg.BatchFlushChunks,
				time.Duration(cfg.BatchFlushMS)*time.Millisecond))
		orchestrator.WireRecorder(recorder)
	}

	app := &app{
		ctx:          ctx,
		cfg:          cfg,
		manager:      manager,
		pipeline:     pipeline,
		orchestrator: orchestrator,
		metrics:      metrics,
		logger:       logger,
		voiceOK:      devErr == nil,
	}
	defer app.closeChannel()

	if sess := manager.Snapshot(); sess != nil {
		app.openChannel(sess.SessionID)
	}

	fmt.Println("Guided visa intake. Type /start <visa type> to begin, q to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "q" {
			break
		}
		if line != "" {
			app.handle(line)
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		fmt.Print("> ")
	}
}

type app struct {
	ctx          context.Context
	cfg          *config.Config
	manager      *session.Manager
	pipeline     *validation.Pipeline
	orchestrator *guide.Orchestrator
	metrics      *guide.Metrics
	logger       *slog.Logger
	voiceOK      bool

	channel *guide.Channel
}

// openChannel dials the voice endpoint for a session, replacing any
// previous channel.
func (a *app) openChannel(sessionID string) {
	a.closeChannel()
	url := strings.TrimRight(a.cfg.GuideWSURL, "/") + "/voice/" + sessionID
	a.channel = guide.NewChannel(guide.ChannelConfig{
		URL:           url,
		ReconnectBase: a.cfg.ReconnectBase(),
		ReconnectCap:  a.cfg.ReconnectCap(),
		MaxAttempts:   a.cfg.ReconnectMaxAttempts,
	}, a.orchestrator.HandleEvent,
		guide.WithChannelLogger(a.logger),
		guide.WithChannelMetrics(a.metrics),
		guide.WithOnChannelState(func(s guide.ChannelState) {
			if s == guide.StateFailed {
				fmt.Print("\nGuidance connection lost for good; form editing still works.\n> ")
			}
		}))
	a.orchestrator.Bind(a.channel)
	a.channel.Connect(a.ctx)
}

func (a *app) closeChannel() {
	if a.channel != nil {
		a.channel.Close()
		a.channel = nil
	}
}

func (a *app) handle(line string) {
	switch {
	case strings.HasPrefix(line, "/start"):
		visaType := strings.TrimSpace(strings.TrimPrefix(line, "/start"))
		if visaType == "" {
			fmt.Println("usage: /start <visa type>")
			return
		}
		sess, err := a.manager.StartSession(a.ctx, visaType, "en")
		if err != nil {
			fmt.Printf("start failed: %v\n", err)
			return
		}
		fmt.Printf("Session %s started for %s\n", sess.SessionID, sess.VisaType)
		a.openChannel(sess.SessionID)

	case line == "/talk":
		if !a.voiceOK {
			fmt.Println("voice is unavailable on this machine")
			return
		}
		if err := a.orchestrator.StartRecording(); err != nil {
			fmt.Printf("recording failed: %v\n", err)
			return
		}
		fmt.Println("Recording... /stop to finish")

	case line == "/stop":
		a.orchestrator.StopRecording()
		fmt.Println("Recording stopped")

	case line == "/quiet":
		a.orchestrator.StopSpeaking()

	case line == "/guidance":
		a.orchestrator.RequestGuidance(protocol.RequestGuidance{RequestType: "next_step"})

	case line == "/snapshot":
		a.sendSnapshot()

	case line == "/status":
		sess := a.manager.Snapshot()
		if sess == nil {
			fmt.Println("no active session")
			return
		}
		fmt.Printf("session %s  visa %s  progress %d%%  fields %d\n",
			sess.SessionID, sess.VisaType, sess.Progress, len(sess.Responses))

	case line == "/clear":
		a.closeChannel()
		a.manager.ClearSession()
		fmt.Println("Session discarded")

	case strings.Contains(line, "="):
		field, value, _ := strings.Cut(line, "=")
		field = strings.TrimSpace(field)
		value = strings.TrimSpace(value)
		if a.manager.Snapshot() == nil {
			fmt.Println("no active session; /start first")
			return
		}
		// Enter commits the field: validate now and save.
		a.pipeline.FieldBlurred(a.ctx, field, value)
		fmt.Printf("%s saved\n", field)

	default:
		fmt.Println("unrecognized input; <field>=<value> or /start, /talk, /stop, /guidance, /snapshot, /status, /clear, q")
	}
}

func (a *app) sendSnapshot() {
	sess := a.manager.Snapshot()
	if sess == nil {
		fmt.Println("no active session")
		return
	}
	a.orchestrator.SendSnapshot(protocol.Snapshot{
		SessionID:    sess.SessionID,
		VisaType:     sess.VisaType,
		CurrentField: sess.CurrentField,
		Responses:    sess.Responses,
		Progress:     sess.Progress,
	})
	fmt.Println("Snapshot sent")
}

// noopSpeaker keeps the orchestrator wired when audio output is missing.
type noopSpeaker struct{}

func (noopSpeaker) Speak(context.Context, string) {}
func (noopSpeaker) Stop()                         {}
func (noopSpeaker) IsSpeaking() bool              { return false }
