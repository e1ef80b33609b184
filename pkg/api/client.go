// Package api is the REST client for the visa intake service. It implements
// the session backend and the field validation checker.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/clearvisa-go/guide-lite/pkg/core"
	"github.com/clearvisa-go/guide-lite/pkg/core/session"
	"github.com/clearvisa-go/guide-lite/pkg/core/validation"
)

// newDefaultHTTPClient sets transport-level timeouts; request lifetimes are
// bounded by per-call context deadlines.
func newDefaultHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ForceAttemptHTTP2:     true,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	return &http.Client{Transport: transport}
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// Client talks to the intake service's REST surface.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    newDefaultHTTPClient(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ session.Backend = (*Client)(nil)
var _ validation.Checker = (*Client)(nil)

type startSessionRequest struct {
	CaseID   string `json:"case_id"`
	VisaType string `json:"visa_type"`
	Language string `json:"language"`
}

// sessionReply wraps the session object every session endpoint returns.
type sessionReply struct {
	Session *session.Session `json:"session"`
}

func (r *sessionReply) unwrap() (*session.Session, error) {
	if r.Session == nil {
		return nil, core.NewNetworkError("decode response",
			fmt.Errorf("missing session field"))
	}
	return r.Session, nil
}

// StartSession creates a new guided session.
func (c *Client) StartSession(ctx context.Context, caseID, visaType, language string) (*session.Session, error) {
	var reply sessionReply
	err := c.do(ctx, http.MethodPost, "/sessions", "", startSessionRequest{
		CaseID:   caseID,
		VisaType: visaType,
		Language: language,
	}, &reply)
	if err != nil {
		if core.IsType(err, core.ErrNetwork) || core.IsType(err, core.ErrInvalidRequest) {
			return nil, core.NewSessionCreationError("start session", err)
		}
		return nil, err
	}
	return reply.unwrap()
}

// GetSession fetches current session state.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	var reply sessionReply
	if err := c.do(ctx, http.MethodGet, "/sessions/"+sessionID, sessionID, nil, &reply); err != nil {
		return nil, err
	}
	return reply.unwrap()
}

type saveResponseRequest struct {
	FieldID         string `json:"field_id"`
	UserResponse    string `json:"user_response"`
	ValidationScore int    `json:"validation_score"`
}

type saveResponseReply struct {
	Progress int `json:"progress"`
}

// SaveResponse persists one field answer and returns server-side progress.
func (c *Client) SaveResponse(ctx context.Context, sessionID, fieldID, value string, validationScore int) (int, error) {
	var reply saveResponseReply
	err := c.do(ctx, http.MethodPost, "/sessions/"+sessionID+"/responses", sessionID, saveResponseRequest{
		FieldID:         fieldID,
		UserResponse:    value,
		ValidationScore: validationScore,
	}, &reply)
	if err != nil {
		return 0, err
	}
	return reply.Progress, nil
}

type validateFieldRequest struct {
	FieldID string `json:"field_id"`
	Value   string `json:"value"`
}

type validateFieldReply struct {
	ValidationScore int      `json:"validation_score"`
	Feedback        string   `json:"feedback"`
	Suggestions     []string `json:"suggestions"`
}

// ValidateField scores one field value.
func (c *Client) ValidateField(ctx context.Context, sessionID, fieldID, value string) (validation.Result, error) {
	var reply validateFieldReply
	err := c.do(ctx, http.MethodPost, "/sessions/"+sessionID+"/validate", sessionID, validateFieldRequest{
		FieldID: fieldID,
		Value:   value,
	}, &reply)
	if err != nil {
		return validation.Result{}, err
	}
	return validation.Result{
		FieldID:     fieldID,
		Score:       reply.ValidationScore,
		Status:      validation.StatusForScore(reply.ValidationScore),
		Message:     reply.Feedback,
		Suggestions: reply.Suggestions,
	}, nil
}

type resumeSessionRequest struct {
	UserEmail string `json:"user_email,omitempty"`
}

// ResumeSession reloads a previously started session.
func (c *Client) ResumeSession(ctx context.Context, sessionID, userEmail string) (*session.Session, error) {
	var reply sessionReply
	err := c.do(ctx, http.MethodPost, "/sessions/"+sessionID+"/resume", sessionID,
		resumeSessionRequest{UserEmail: userEmail}, &reply)
	if err != nil {
		return nil, err
	}
	return reply.unwrap()
}

type synthesizeRequest struct {
	Text       string `json:"text"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// Synthesizer turns guidance text into playable PCM through the intake
// service's text-to-speech endpoint.
type Synthesizer struct {
	client     *Client
	sampleRate int
}

// NewSynthesizer builds a Synthesizer requesting PCM at the given rate.
func (c *Client) NewSynthesizer(sampleRate int) *Synthesizer {
	return &Synthesizer{client: c, sampleRate: sampleRate}
}

// Synthesize returns raw S16LE PCM for text.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	payload, err := json.Marshal(synthesizeRequest{Text: text, SampleRate: s.sampleRate})
	if err != nil {
		return nil, core.NewInvalidRequestError("encode request: " + err.Error())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.client.baseURL+"/synthesize", bytes.NewReader(payload))
	if err != nil {
		return nil, core.NewInvalidRequestError("build request: " + err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.http.Do(req)
	if err != nil {
		return nil, core.NewNetworkError("POST /synthesize", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, core.NewNetworkError("POST /synthesize",
			fmt.Errorf("status %d", resp.StatusCode))
	}
	return io.ReadAll(resp.Body)
}

type errorReply struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// do runs one JSON request/response cycle. sessionID is only used to shape
// not-found errors.
func (c *Client) do(ctx context.Context, method, path, sessionID string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return core.NewInvalidRequestError("encode request: " + err.Error())
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return core.NewInvalidRequestError("build request: " + err.Error())
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return core.NewNetworkError(method+" "+path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return core.NewNetworkError("read response body", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound && sessionID != "":
		return core.NewSessionNotFoundError(sessionID)
	case resp.StatusCode >= 400:
		var reply errorReply
		_ = json.Unmarshal(data, &reply)
		msg := reply.Message
		if msg == "" {
			msg = reply.Error
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return core.NewNetworkError(method+" "+path,
			fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return core.NewNetworkError("decode response", err)
	}
	return nil
}
