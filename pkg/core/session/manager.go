package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clearvisa-go/guide-lite/pkg/core"
)

// StorageKey is the fixed durable-storage key holding the active session id.
const StorageKey = "active_session_id"

// State is the manager lifecycle state.
type State int

const (
	// StateUninitialized means no session exists locally.
	StateUninitialized State = iota
	// StateLoading means a create or resume call is in flight.
	StateLoading
	// StateActive means a session is loaded. A sticky LastErr may be set.
	StateActive
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateLoading:
		return "LOADING"
	case StateActive:
		return "ACTIVE"
	default:
		return "UNKNOWN"
	}
}

// Backend is the intake service surface the manager depends on.
type Backend interface {
	StartSession(ctx context.Context, caseID, visaType, language string) (*Session, error)
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	SaveResponse(ctx context.Context, sessionID, fieldID, value string, validationScore int) (progress int, err error)
	ResumeSession(ctx context.Context, sessionID, userEmail string) (*Session, error)
}

// Store is the durable client-side key-value store for the session id.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Config configures a Manager.
type Config struct {
	// TotalRequiredFields is the denominator for progress recomputation.
	TotalRequiredFields int

	// UserEmail, when set, is sent with resume requests.
	UserEmail string
}

// fieldSave serializes remote saves for one field. While a save is in
// flight, later values collapse into pending so the last write always wins.
type fieldSave struct {
	inflight bool
	pending  *string
}

// Manager owns the Session and is its only mutator.
type Manager struct {
	backend Backend
	store   Store
	cfg     Config
	logger  *slog.Logger

	onError       func(error)
	onStateChange func(State)

	mu      sync.Mutex
	state   State
	lastErr error
	sess    *Session
	saves   map[string]*fieldSave
	scores  map[string]int
	closed  bool
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithOnError registers a callback for surfaced (non-fatal) errors, such as
// a failed remote save whose optimistic value was retained.
func WithOnError(fn func(error)) ManagerOption {
	return func(m *Manager) { m.onError = fn }
}

// WithOnStateChange registers a callback invoked after lifecycle transitions.
func WithOnStateChange(fn func(State)) ManagerOption {
	return func(m *Manager) { m.onStateChange = fn }
}

// NewManager creates a Manager in the uninitialized state.
func NewManager(backend Backend, store Store, cfg Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		backend: backend,
		store:   store,
		cfg:     cfg,
		logger:  slog.Default(),
		saves:   make(map[string]*fieldSave),
		scores:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastErr returns the sticky error for the active session, if any.
func (m *Manager) LastErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Snapshot returns a copy of the current session, or nil when uninitialized.
func (m *Manager) Snapshot() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess.Clone()
}

// Restore attempts to resume a previously stored session exactly once.
// A missing stored id settles into the uninitialized state without error.
func (m *Manager) Restore(ctx context.Context) error {
	id, err := m.store.Get(StorageKey)
	if err != nil || strings.TrimSpace(id) == "" {
		m.logger.Debug("no stored session to restore")
		return nil
	}
	return m.ResumeSession(ctx, id)
}

// StartSession creates a new remote session and persists its id.
// On failure the manager stays uninitialized.
func (m *Manager) StartSession(ctx context.Context, visaType, language string) (*Session, error) {
	visaType = strings.TrimSpace(visaType)
	if visaType == "" {
		return nil, core.NewInvalidRequestError("visa type must not be empty")
	}
	language = strings.TrimSpace(language)
	if language == "" {
		language = "en"
	}

	if err := m.enterLoading(); err != nil {
		return nil, err
	}

	caseID := "case_" + uuid.NewString()
	sess, err := m.backend.StartSession(ctx, caseID, visaType, language)
	if err != nil {
		m.settle(StateUninitialized, nil)
		return nil, core.NewSessionCreationError("start session", err)
	}
	if sess.Responses == nil {
		sess.Responses = make(map[string]string)
	}

	if err := m.store.Set(StorageKey, sess.SessionID); err != nil {
		// Resume will not survive a restart, but the live session is fine.
		m.logger.Warn("persist session id failed", "error", err)
	}
	m.settle(StateActive, sess)
	m.logger.Info("session started", "session_id", sess.SessionID, "visa_type", visaType)
	return sess.Clone(), nil
}

// ResumeSession fetches the session by id and replaces local state.
// A not-found response clears the stored id so the user is routed back to
// session creation instead of retrying forever.
func (m *Manager) ResumeSession(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return core.NewInvalidRequestError("session id must not be empty")
	}
	if err := m.enterLoading(); err != nil {
		return err
	}

	var (
		sess *Session
		err  error
	)
	if m.cfg.UserEmail != "" {
		sess, err = m.backend.ResumeSession(ctx, sessionID, m.cfg.UserEmail)
	} else {
		sess, err = m.backend.GetSession(ctx, sessionID)
	}
	if err != nil {
		m.settle(StateUninitialized, nil)
		if core.IsType(err, core.ErrSessionNotFound) {
			if delErr := m.store.Delete(StorageKey); delErr != nil {
				m.logger.Warn("clear stale session id failed", "error", delErr)
			}
			m.logger.Info("stored session no longer exists", "session_id", sessionID)
			return err
		}
		return core.NewNetworkError("resume session", err)
	}

	if sess.Responses == nil {
		sess.Responses = make(map[string]string)
	}
	sess.Progress = progressFor(len(sess.Responses), m.cfg.TotalRequiredFields)
	if err := m.store.Set(StorageKey, sess.SessionID); err != nil {
		m.logger.Warn("persist session id failed", "error", err)
	}
	m.settle(StateActive, sess)
	m.logger.Info("session resumed", "session_id", sess.SessionID, "progress", sess.Progress)
	return nil
}

// SaveResponse optimistically merges the value, then issues a remote save.
// Saves for different fields may run concurrently; saves for the same field
// are serialized so the later write always wins. A failed remote save keeps
// the optimistic value and surfaces the error through the error callback.
func (m *Manager) SaveResponse(ctx context.Context, fieldID, value string) error {
	fieldID = strings.TrimSpace(fieldID)
	if fieldID == "" {
		return core.NewInvalidRequestError("field id must not be empty")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return core.NewInvalidRequestError("manager is closed")
	}
	if m.state != StateActive || m.sess == nil {
		m.mu.Unlock()
		return core.NewInvalidRequestError("no active session")
	}

	m.sess.Responses[fieldID] = value
	m.sess.UpdatedAt = time.Now()
	if p := progressFor(len(m.sess.Responses), m.cfg.TotalRequiredFields); p > m.sess.Progress {
		m.sess.Progress = p
	}

	fs := m.saves[fieldID]
	if fs == nil {
		fs = &fieldSave{}
		m.saves[fieldID] = fs
	}
	if fs.inflight {
		v := value
		fs.pending = &v
		m.mu.Unlock()
		return nil
	}
	fs.inflight = true
	sessionID := m.sess.SessionID
	score := m.scores[fieldID]
	m.mu.Unlock()

	go m.runSave(ctx, sessionID, fieldID, value, score)
	return nil
}

// runSave drains the save queue for one field sequentially.
func (m *Manager) runSave(ctx context.Context, sessionID, fieldID, value string, score int) {
	for {
		progress, err := m.backend.SaveResponse(ctx, sessionID, fieldID, value, score)

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		if err != nil {
			// Never silently revert: the user already saw the value accepted.
			m.lastErr = core.NewNetworkError("save response "+fieldID, err)
			surfaced := m.lastErr
			m.mu.Unlock()
			m.logger.Warn("remote save failed, optimistic value retained",
				"field_id", fieldID, "error", err)
			if m.onError != nil {
				m.onError(surfaced)
			}
			m.mu.Lock()
		} else {
			m.lastErr = nil
			if m.sess != nil && m.sess.SessionID == sessionID {
				if progress > m.sess.Progress && progress <= 100 {
					m.sess.Progress = progress
				}
				m.sess.UpdatedAt = time.Now()
			}
		}

		fs := m.saves[fieldID]
		if fs == nil || fs.pending == nil {
			if fs != nil {
				fs.inflight = false
			}
			m.mu.Unlock()
			return
		}
		value = *fs.pending
		fs.pending = nil
		score = m.scores[fieldID]
		m.mu.Unlock()
	}
}

// RecordValidationScore caches the latest validation score for a field so
// subsequent saves report it to the backend.
func (m *Manager) RecordValidationScore(fieldID string, score int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[fieldID] = score
}

// SetCurrentField updates the field the user is editing, for snapshots.
func (m *Manager) SetCurrentField(fieldID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != nil {
		m.sess.CurrentField = fieldID
	}
}

// UpdateProgress sets progress directly, clamped to [0, 100].
func (m *Manager) UpdateProgress(value int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return
	}
	if value < 0 {
		value = 0
	}
	if value > 100 {
		value = 100
	}
	m.sess.Progress = value
	m.sess.UpdatedAt = time.Now()
}

// ClearSession removes durable storage and resets to uninitialized.
func (m *Manager) ClearSession() {
	m.mu.Lock()
	if err := m.store.Delete(StorageKey); err != nil {
		m.logger.Warn("clear stored session id failed", "error", err)
	}
	m.sess = nil
	m.lastErr = nil
	m.saves = make(map[string]*fieldSave)
	m.scores = make(map[string]int)
	m.state = StateUninitialized
	fn := m.onStateChange
	m.mu.Unlock()

	m.logger.Info("session cleared")
	if fn != nil {
		fn(StateUninitialized)
	}
}

// Close marks the manager closed. In-flight save responses arriving after
// close are ignored.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *Manager) enterLoading() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return core.NewInvalidRequestError("manager is closed")
	}
	if m.state == StateLoading {
		return core.NewInvalidRequestError("session load already in progress")
	}
	m.state = StateLoading
	return nil
}

func (m *Manager) settle(state State, sess *Session) {
	m.mu.Lock()
	m.state = state
	if state == StateUninitialized {
		m.sess = nil
	} else if sess != nil {
		m.sess = sess
		m.lastErr = nil
	}
	fn := m.onStateChange
	m.mu.Unlock()

	if fn != nil {
		fn(state)
	}
}
