package ports

import (
	"context"

	"clipstudio/internal/domain"
)

// SessionStore remembers which project the agent was working on so a
// restart can resume it with a reconciliation fetch.
type SessionStore interface {
	GetCurrentProjectID(ctx context.Context) (domain.ProjectID, bool, error)
	SetCurrentProjectID(ctx context.Context, id domain.ProjectID) error
	ClearCurrentProjectID(ctx context.Context) error
}
