package handlers

import (
	"context"
	"time"

	"github.com/deadlinecal/deadlinecal/internal/core"
	"github.com/deadlinecal/deadlinecal/internal/core/ratelimit"
	"github.com/deadlinecal/deadlinecal/internal/core/store"
)

// DeadlineSource is the read side of the deadline store.
type DeadlineSource interface {
	ListActive(ctx context.Context, query store.DeadlineQuery) ([]core.Deadline, error)
	ListCategories(ctx context.Context) ([]string, error)
	LastUpdated(ctx context.Context) (*time.Time, error)
}

// Admitter decides whether a client key may make another request.
type Admitter interface {
	Allow(key string) ratelimit.Decision
}
