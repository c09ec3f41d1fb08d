package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"shiftledger/backend/internal/audit"
	"shiftledger/backend/internal/cache"
	"shiftledger/backend/internal/domain"
	"shiftledger/backend/internal/feed"
	"shiftledger/backend/internal/reconcile"
	"shiftledger/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Policy           reconcile.Policy
	Now              func() time.Time
	Audit            *audit.Logger
	Feed             feed.Broker
	Reports          cache.ReportCache
	ReportTTL        time.Duration
	DefaultCompanyID string
	DefaultBranchID  string
}

type Service struct {
	repo             store.Repository
	policy           reconcile.Policy
	now              func() time.Time
	audit            *audit.Logger
	feed             feed.Broker
	reports          cache.ReportCache
	reportTTL        time.Duration
	defaultCompanyID string
	defaultBranchID  string
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Audit == nil {
		opts.Audit = audit.NewLogger(audit.NoopSink{}, audit.DefaultAttempts)
	}
	if opts.Feed == nil {
		opts.Feed = feed.NewMemoryBroker()
	}
	if opts.Reports == nil {
		opts.Reports = cache.NoopReportCache{}
	}

	return &Service{
		repo:             repo,
		policy:           opts.Policy.Normalize(),
		now:              opts.Now,
		audit:            opts.Audit,
		feed:             opts.Feed,
		reports:          opts.Reports,
		reportTTL:        opts.ReportTTL,
		defaultCompanyID: opts.DefaultCompanyID,
		defaultBranchID:  opts.DefaultBranchID,
	}
}

func (s *Service) Policy() reconcile.Policy {
	return s.policy
}

func (s *Service) Feed() feed.Broker {
	return s.feed
}

type unit struct {
	svc     *Service
	tx      store.Tx
	actor   domain.Actor
	records []domain.AuditLog
	events  []domain.ShiftEvent
}

func (u *unit) record(ctx context.Context, shift *domain.ShiftSession, action domain.AuditAction, entityType string, entityID string, details any) error {
	entry, err := u.svc.audit.Append(ctx, u.tx, u.actor, audit.Entry{
		CompanyID:  shift.CompanyID,
		BranchID:   shift.BranchID,
		ShiftID:    shift.ID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
	})
	if err != nil {
		return err
	}
	u.records = append(u.records, entry)
	u.events = append(u.events, domain.ShiftEvent{
		ShiftID:    shift.ID,
		Action:     action,
		EntityID:   entityID,
		Shift:      *shift.Clone(),
		OccurredAt: entry.CreatedAt,
	})
	return nil
}

// run executes fn as one atomic unit, then mirrors audit records and publishes
// change events. Only the mirror can produce warnings; publish failures are
// logged.
func (s *Service) run(ctx context.Context, shiftID string, keys []store.Key, fn func(ctx context.Context, u *unit) error) ([]string, error) {
	actor, _ := ActorFromContext(ctx)

	var committed *unit
	err := s.repo.WithAtomicUpdate(ctx, keys, func(ctx context.Context, tx store.Tx) error {
		u := &unit{svc: s, tx: tx, actor: actor}
		if err := fn(ctx, u); err != nil {
			return err
		}
		committed = u
		return nil
	})
	if err != nil {
		return nil, translateStoreError(err, shiftID)
	}

	warnings := s.audit.Mirror(ctx, committed.records...)
	for _, event := range committed.events {
		log.Debug().Str("shift_id", event.ShiftID).Str("action", string(event.Action)).Str("entity_id", event.EntityID).Msg("committed")
		if err := s.feed.Publish(ctx, event); err != nil {
			log.Warn().Err(err).Str("shift_id", event.ShiftID).Str("action", string(event.Action)).Msg("change feed publish failed")
		}
	}
	return warnings, nil
}

func loadShift(ctx context.Context, tx store.Tx, shiftID string) (*domain.ShiftSession, error) {
	shift, err := tx.GetShift(ctx, shiftID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &LedgerError{Kind: ErrShiftNotFound, ShiftID: shiftID}
		}
		return nil, err
	}
	return shift, nil
}

func requireActive(shift *domain.ShiftSession) error {
	if shift.Status != domain.ShiftStatusActive {
		return &LedgerError{Kind: ErrShiftNotActive, ShiftID: shift.ID, Detail: "status is " + string(shift.Status)}
	}
	return nil
}

func requireShiftID(shiftID string) (string, error) {
	shiftID = strings.TrimSpace(shiftID)
	if shiftID == "" {
		return "", validationError("", "shift_id is required")
	}
	return shiftID, nil
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

func actorName(ctx context.Context, fallback string) string {
	if strings.TrimSpace(fallback) != "" {
		return strings.TrimSpace(fallback)
	}
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		return actor.Username
	}
	return "system"
}
