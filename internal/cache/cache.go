// Package cache holds finished shift reports. Only closed shifts are cached;
// a review invalidates the entry.
package cache

import (
	"context"
	"sync"
	"time"

	"shiftledger/backend/internal/domain"
)

type ReportCache interface {
	Get(ctx context.Context, shiftID string) (*domain.ShiftReport, bool, error)
	Set(ctx context.Context, report *domain.ShiftReport, ttl time.Duration) error
	Invalidate(ctx context.Context, shiftID string) error
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _ string) (*domain.ShiftReport, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ *domain.ShiftReport, _ time.Duration) error {
	return nil
}

func (NoopReportCache) Invalidate(_ context.Context, _ string) error {
	return nil
}

type memoryEntry struct {
	report    domain.ShiftReport
	expiresAt time.Time
}

// MemoryReportCache is the in-process cache used when redis is not configured.
type MemoryReportCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryReportCache() *MemoryReportCache {
	return &MemoryReportCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryReportCache) Get(_ context.Context, shiftID string) (*domain.ShiftReport, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[shiftID]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		delete(c.entries, shiftID)
		return nil, false, nil
	}
	report := entry.report
	return &report, true, nil
}

func (c *MemoryReportCache) Set(_ context.Context, report *domain.ShiftReport, ttl time.Duration) error {
	if report == nil {
		return nil
	}
	entry := memoryEntry{report: *report}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[report.Shift.ID] = entry
	c.mu.Unlock()
	return nil
}

func (c *MemoryReportCache) Invalidate(_ context.Context, shiftID string) error {
	c.mu.Lock()
	delete(c.entries, shiftID)
	c.mu.Unlock()
	return nil
}
