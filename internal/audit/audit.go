// Package audit builds audit records, appends them inside the caller's atomic
// unit and mirrors committed records to an external sink.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"shiftledger/backend/internal/domain"
	"shiftledger/backend/internal/store"
)

var ErrWriteFailed = errors.New("audit write failed")

const (
	DefaultAttempts = 3
	defaultBackoff  = 50 * time.Millisecond
)

// Entry is what an operation knows about the change it just made.
type Entry struct {
	CompanyID  string
	BranchID   string
	ShiftID    string
	Action     domain.AuditAction
	EntityType string
	EntityID   string
	Details    any
}

type Logger struct {
	sink     Sink
	attempts int
	backoff  time.Duration
}

func NewLogger(sink Sink, attempts int) *Logger {
	if sink == nil {
		sink = NoopSink{}
	}
	if attempts < 1 {
		attempts = DefaultAttempts
	}
	return &Logger{sink: sink, attempts: attempts, backoff: defaultBackoff}
}

// WithBackoff overrides the pause between mirror attempts.
func (l *Logger) WithBackoff(backoff time.Duration) *Logger {
	l.backoff = backoff
	return l
}

func Build(actor domain.Actor, entry Entry) (domain.AuditLog, error) {
	username := strings.TrimSpace(actor.Username)
	role := strings.TrimSpace(actor.Role)
	if username == "" {
		username = "system"
	}
	if role == "" {
		role = "system"
	}

	var details json.RawMessage
	if entry.Details != nil {
		raw, err := json.Marshal(entry.Details)
		if err != nil {
			return domain.AuditLog{}, fmt.Errorf("marshal audit details: %w", err)
		}
		details = raw
	}

	return domain.AuditLog{
		CompanyID:  entry.CompanyID,
		BranchID:   entry.BranchID,
		ShiftID:    entry.ShiftID,
		Action:     entry.Action,
		Actor:      username,
		ActorRole:  role,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Details:    details,
	}, nil
}

// Append writes the record through tx, so it commits or rolls back with the
// mutation it describes.
func (l *Logger) Append(ctx context.Context, tx store.Tx, actor domain.Actor, entry Entry) (domain.AuditLog, error) {
	record, err := Build(actor, entry)
	if err != nil {
		return domain.AuditLog{}, err
	}
	return tx.AppendAuditLog(ctx, record)
}

// Mirror pushes committed records to the sink with bounded retries. It never
// fails the caller; it returns one warning per record that could not be
// mirrored.
func (l *Logger) Mirror(ctx context.Context, records ...domain.AuditLog) []string {
	var warnings []string
	for _, record := range records {
		if err := l.mirrorOne(ctx, record); err != nil {
			log.Warn().Err(err).
				Str("shift_id", record.ShiftID).
				Str("action", string(record.Action)).
				Int64("sequence", record.Sequence).
				Msg("audit mirror failed")
			warnings = append(warnings, fmt.Sprintf("%s: %s %s: %v", ErrWriteFailed, record.Action, record.EntityID, err))
		}
	}
	return warnings
}

func (l *Logger) mirrorOne(ctx context.Context, record domain.AuditLog) error {
	var lastErr error
	for attempt := 1; attempt <= l.attempts; attempt++ {
		lastErr = l.sink.Mirror(ctx, record)
		if lastErr == nil {
			return nil
		}
		if attempt == l.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(lastErr, ctx.Err())
		case <-time.After(l.backoff * time.Duration(attempt)):
		}
	}
	return lastErr
}
