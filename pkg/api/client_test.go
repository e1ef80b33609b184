package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/clearvisa-go/guide-lite/pkg/core"
	"github.com/clearvisa-go/guide-lite/pkg/core/validation"
)

func TestStartSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/sessions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["visa_type"] != "H-1B" || req["case_id"] == "" {
			t.Errorf("request body = %v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"session": map[string]any{
				"session_id": "sess_123",
				"visa_type":  req["visa_type"],
				"language":   req["language"],
				"responses":  map[string]string{},
			},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL)
	sess, err := c.StartSession(context.Background(), "case_1", "H-1B", "en")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if sess.SessionID != "sess_123" || sess.VisaType != "H-1B" {
		t.Errorf("session = %+v", sess)
	}
}

func TestStartSessionServerErrorWrapped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "db unavailable"})
	}))
	defer server.Close()

	_, err := NewClient(server.URL).StartSession(context.Background(), "case_1", "H-1B", "en")
	if !core.IsType(err, core.ErrSessionCreation) {
		t.Fatalf("error = %v, want session creation error", err)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	_, err := NewClient(server.URL).GetSession(context.Background(), "sess_gone")
	if !core.IsType(err, core.ErrSessionNotFound) {
		t.Fatalf("error = %v, want session not found", err)
	}
}

func TestSaveResponseReturnsProgress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sessions/sess_1/responses" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["field_id"] != "full_name" || req["user_response"] != "Ana Silva" {
			t.Errorf("body = %v", req)
		}
		if score, ok := req["validation_score"].(float64); !ok || score != 92 {
			t.Errorf("validation_score = %v", req["validation_score"])
		}
		_ = json.NewEncoder(w).Encode(map[string]int{"progress": 8})
	}))
	defer server.Close()

	progress, err := NewClient(server.URL).SaveResponse(context.Background(), "sess_1", "full_name", "Ana Silva", 92)
	if err != nil {
		t.Fatalf("SaveResponse: %v", err)
	}
	if progress != 8 {
		t.Errorf("progress = %d, want 8", progress)
	}
}

func TestSaveResponseSendsZeroScore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if _, present := req["validation_score"]; !present {
			t.Error("validation_score missing from body when the score is 0")
		}
		_ = json.NewEncoder(w).Encode(map[string]int{"progress": 0})
	}))
	defer server.Close()

	if _, err := NewClient(server.URL).SaveResponse(context.Background(), "sess_1", "city", "", 0); err != nil {
		t.Fatalf("SaveResponse: %v", err)
	}
}

func TestValidateFieldFillsStatusFromScore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sessions/sess_1/validate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["field_id"] != "full_name" || req["value"] != "Ana" {
			t.Errorf("body = %v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"validation_score": 70,
			"feedback":         "Consider the full legal name.",
			"suggestions":      []string{"Ana Carolina Silva"},
		})
	}))
	defer server.Close()

	res, err := NewClient(server.URL).ValidateField(context.Background(), "sess_1", "full_name", "Ana")
	if err != nil {
		t.Fatalf("ValidateField: %v", err)
	}
	if res.Status != validation.StatusWarning || res.Score != 70 {
		t.Errorf("result = %+v, want warning at 70", res)
	}
	if res.Message != "Consider the full legal name." {
		t.Errorf("message = %q", res.Message)
	}
	if res.FieldID != "full_name" || len(res.Suggestions) != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestValidateFieldHighScoreValid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"validation_score": 92,
			"feedback":         "Looks good.",
		})
	}))
	defer server.Close()

	res, err := NewClient(server.URL).ValidateField(context.Background(), "sess_1", "full_name", "Ana Silva")
	if err != nil {
		t.Fatalf("ValidateField: %v", err)
	}
	if res.Score != 92 || res.Status != validation.StatusValid {
		t.Errorf("result = %+v, want valid at 92", res)
	}
}

func TestResumeSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/sessions/sess_1/resume" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["user_email"] != "ana@example.com" {
			t.Errorf("user_email = %q", req["user_email"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"session": map[string]any{
				"session_id": "sess_1",
				"visa_type":  "H-1B",
				"responses":  map[string]string{"full_name": "Ana Silva"},
				"progress":   8,
			},
		})
	}))
	defer server.Close()

	sess, err := NewClient(server.URL).ResumeSession(context.Background(), "sess_1", "ana@example.com")
	if err != nil {
		t.Fatalf("ResumeSession: %v", err)
	}
	if sess.Responses["full_name"] != "Ana Silva" || sess.Progress != 8 {
		t.Errorf("session = %+v", sess)
	}
}

func TestSynthesizeReturnsPCM(t *testing.T) {
	pcm := []byte{0, 1, 2, 3}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/synthesize" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["text"] != "Please continue." {
			t.Errorf("text = %v", req["text"])
		}
		_, _ = w.Write(pcm)
	}))
	defer server.Close()

	got, err := NewClient(server.URL).NewSynthesizer(24000).Synthesize(context.Background(), "Please continue.")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(got) != len(pcm) {
		t.Errorf("pcm = %v", got)
	}
}

func TestNetworkFailureTyped(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	_, err := c.GetSession(context.Background(), "sess_1")
	if !core.IsType(err, core.ErrNetwork) {
		t.Fatalf("error = %v, want network error", err)
	}
}
