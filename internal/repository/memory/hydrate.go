package memory

import (
	"context"
	"fmt"

	"github.com/jwalitptl/nurse-call-api/internal/repository"
)

// Hydrate loads the archive's active and completed requests into the store.
// Like Load it must run before the store is shared.
func (s *RequestStore) Hydrate(ctx context.Context, archive repository.RequestArchive) (int, error) {
	active, err := archive.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load active requests: %w", err)
	}
	completed, err := archive.ListCompleted(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load completed requests: %w", err)
	}

	if err := s.Load(append(active, completed...)); err != nil {
		return 0, err
	}
	return len(active) + len(completed), nil
}
