// Package session owns the lifecycle of one in-progress guided application.
package session

import (
	"time"
)

// Session is the durable record of one user's in-progress application.
// It is mutated only by the Manager; every other component reads copies.
type Session struct {
	SessionID    string            `json:"session_id"`
	VisaType     string            `json:"visa_type"`
	Language     string            `json:"language"`
	Progress     int               `json:"progress"`
	CurrentField string            `json:"current_field,omitempty"`
	Responses    map[string]string `json:"responses"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Clone returns a deep copy safe for readers outside the Manager.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Responses = make(map[string]string, len(s.Responses))
	for k, v := range s.Responses {
		out.Responses[k] = v
	}
	return &out
}

// progressFor computes progress from answered fields over total required,
// clamped to 100. Responses only grow, so the recompute is monotone.
func progressFor(answered, totalRequired int) int {
	if totalRequired <= 0 {
		return 0
	}
	p := (answered * 100) / totalRequired
	if p > 100 {
		p = 100
	}
	return p
}
