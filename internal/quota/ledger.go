// Package quota enforces per-user daily ceilings on the analyze operation.
package quota

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"rag-ingest-backend/internal/shared/auth"
	"rag-ingest-backend/internal/shared/metrics"
)

// ErrNoUser is returned when the caller has no identity to charge.
var ErrNoUser = errors.New("quota: user id required")

// Limits are the per-day ceilings for each role tier.
type Limits struct {
	Admin        int
	SocialWorker int
	Client       int
}

// For resolves the ceiling that applies to p.
func (l Limits) For(p auth.Principal) int {
	switch {
	case p.Admin():
		return l.Admin
	case strings.EqualFold(p.Role, auth.RoleSocialWorker):
		return l.SocialWorker
	default:
		return l.Client
	}
}

// Outcome is the result of one conditional increment.
type Outcome struct {
	Applied bool
	Count   int
}

// Store persists daily counters. Consume must increment atomically and only
// while the stored count is below limit.
type Store interface {
	Consume(ctx context.Context, userID string, day time.Time, limit int) (Outcome, error)
	Count(ctx context.Context, userID string, day time.Time) (int, error)
}

// Decision reports whether an operation may proceed and the caller's standing.
type Decision struct {
	Allowed      bool
	Used         int
	Limit        int
	ResetSeconds int
}

// Ledger charges gated operations against a Store.
type Ledger struct {
	Store  Store
	Limits Limits
	Now    func() time.Time
}

// Consume charges one attempt for p. A rejected Decision is not an error.
func (l *Ledger) Consume(ctx context.Context, p auth.Principal) (Decision, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return Decision{}, ErrNoUser
	}
	now := l.now()
	limit := l.Limits.For(p)

	out, err := l.Store.Consume(ctx, p.UserID, DayStart(now), limit)
	if err != nil {
		metrics.IncQuotaDecision("error")
		return Decision{}, fmt.Errorf("consume quota: %w", err)
	}

	d := Decision{
		Allowed:      out.Applied,
		Used:         out.Count,
		Limit:        limit,
		ResetSeconds: SecondsUntilReset(now),
	}
	if d.Allowed {
		metrics.IncQuotaDecision("allowed")
	} else {
		metrics.IncQuotaDecision("rejected")
	}
	return d, nil
}

// Usage reports today's count for p without charging.
func (l *Ledger) Usage(ctx context.Context, p auth.Principal) (Decision, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return Decision{}, ErrNoUser
	}
	now := l.now()
	limit := l.Limits.For(p)

	used, err := l.Store.Count(ctx, p.UserID, DayStart(now))
	if err != nil {
		return Decision{}, fmt.Errorf("read quota: %w", err)
	}
	return Decision{
		Allowed:      used < limit,
		Used:         used,
		Limit:        limit,
		ResetSeconds: SecondsUntilReset(now),
	}, nil
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

// DayStart is the UTC midnight at or before t.
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SecondsUntilReset is the whole seconds from t to the next UTC midnight, at least 1.
func SecondsUntilReset(t time.Time) int {
	next := DayStart(t).AddDate(0, 0, 1)
	secs := int(math.Ceil(next.Sub(t.UTC()).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
