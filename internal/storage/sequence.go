package storage

import (
	"context"
	"fmt"

	id "bloodlink/pkg/domain"
)

// Sequence issues ids from the backend counter. Every bucket shares it, so
// ids are unique across record kinds.
type Sequence struct {
	backend Backend
}

func NewSequence(backend Backend) *Sequence {
	return &Sequence{backend: backend}
}

// Next returns a fresh id. No id is issued when the increment cannot be
// persisted.
func (s *Sequence) Next(ctx context.Context) (id.ID, error) {
	v, err := s.backend.NextSequence(ctx)
	if err != nil {
		return 0, fmt.Errorf("next id: %w", err)
	}
	return id.ID(v), nil
}
