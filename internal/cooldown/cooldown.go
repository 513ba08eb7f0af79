// Package cooldown answers "did we reply to this author recently?".
package cooldown

import (
	"context"
	"strings"
	"time"

	"github.com/d60-Lab/ghostreply/internal/repository"
)

// Tracker records per-author interactions and reports whether an author is
// still inside the cooldown window.
type Tracker interface {
	Active(ctx context.Context, handle string) (bool, error)
	Touch(ctx context.Context, handle string, at time.Time) error
}

// Normalize strips the leading @ and lowercases the handle.
func Normalize(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}

// DBTracker keeps cooldown records in the replied_accounts table.
type DBTracker struct {
	repo   repository.CooldownRepository
	window time.Duration
	now    func() time.Time
}

func NewDBTracker(repo repository.CooldownRepository, window time.Duration) *DBTracker {
	return &DBTracker{repo: repo, window: window, now: time.Now}
}

func (t *DBTracker) Active(ctx context.Context, handle string) (bool, error) {
	handle = Normalize(handle)
	if handle == "" || t.window <= 0 {
		return false, nil
	}
	last, ok, err := t.repo.LastReplied(ctx, handle)
	if err != nil || !ok {
		return false, err
	}
	return t.now().Sub(last) < t.window, nil
}

func (t *DBTracker) Touch(ctx context.Context, handle string, at time.Time) error {
	handle = Normalize(handle)
	if handle == "" {
		return nil
	}
	return t.repo.Touch(ctx, handle, at)
}
