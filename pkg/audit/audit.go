// Package audit records who did what to which resource.
//
// Mutations always leave a trail, including the partial-failure cases the
// API deliberately reports as success (group connects that did not stick,
// admin-role writes that bounced). The trail is the only place those show
// up, so recorders must be wired in every deployment.
package audit

import (
	"context"
	"sync"

	"github.com/labstack/gommon/log"
)

// Well-known entry types for side effects that failed but did not fail the
// request.
const (
	TypeFailConnectGroup = "FAIL_CONNECT_GROUP"
	TypeFailAssignAdmin  = "FAIL_ASSIGN_ADMIN"
	TypeFailRemoveTOTP   = "FAIL_REMOVE_TOTP"
	TypeFailSendEmail    = "FAIL_SEND_EMAIL"
	TypeFailEnsureRole   = "FAIL_CREATE_ROLE"
	TypeFailDeleteRole   = "FAIL_DELETE_ROLE"
	TypeFailHook         = "FAIL_SIDE_EFFECT"
)

type Entry struct {
	// Component is the entity type acted on ("user", "image", ...).
	Component string

	// Type is the action ("CREATE", "UPDATE", "DELETE", or a FAIL_* type).
	Type string

	// Acting user.
	UserID   string
	Username string

	// Target names the resource acted on.
	Target string

	// Detail is free-form; for FAIL_* entries it holds the swallowed error.
	Detail string
}

// Recorder persists audit entries. Record errors are the caller's to log;
// an audit failure never fails the audited request.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

type logRecorder struct {
	logger *log.Logger
}

// NewLogRecorder writes entries to the structured log.
func NewLogRecorder(logger *log.Logger) Recorder {
	return &logRecorder{logger: logger}
}

func (r *logRecorder) Record(ctx context.Context, entry Entry) error {
	r.logger.Infoj(log.JSON{
		"audit":     true,
		"component": entry.Component,
		"type":      entry.Type,
		"userId":    entry.UserID,
		"username":  entry.Username,
		"target":    entry.Target,
		"detail":    entry.Detail,
	})
	return nil
}

// Memory keeps entries in order for tests.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

var _ Recorder = &Memory{}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Record(ctx context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

type multi []Recorder

// Multi fans each entry out to every recorder. The first error is
// returned, but all recorders are attempted.
func Multi(recorders ...Recorder) Recorder {
	return multi(recorders)
}

func (m multi) Record(ctx context.Context, entry Entry) error {
	var first error
	for _, r := range m {
		if err := r.Record(ctx, entry); err != nil && first == nil {
			first = err
		}
	}
	return first
}
