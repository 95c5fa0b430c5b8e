package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"github.com/m-mizutani/lakeagent/pkg/model"
)

// Memory keeps interactions in process memory. Used when no database is
// configured and in tests.
type Memory struct {
	mu    sync.RWMutex
	items map[model.InteractionID]*model.Interaction
}

func NewMemory() *Memory {
	return &Memory{items: make(map[model.InteractionID]*model.Interaction)}
}

func (m *Memory) PutInteraction(ctx context.Context, x *model.Interaction) error {
	if err := validatePut(x); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *x
	m.items[x.ID] = &copied
	return nil
}

func (m *Memory) GetInteraction(ctx context.Context, id model.InteractionID) (*model.Interaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	x, ok := m.items[id]
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "no such interaction", goerr.V("id", id))
	}
	copied := *x
	return &copied, nil
}

func (m *Memory) ListInteractions(ctx context.Context, offset, limit int) ([]*model.Interaction, error) {
	m.mu.RLock()
	all := make([]*model.Interaction, 0, len(m.items))
	for _, x := range m.items {
		copied := *x
		all = append(all, &copied)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	return page(all, offset, limit), nil
}

func (m *Memory) Close() error { return nil }

func page(all []*model.Interaction, offset, limit int) []*model.Interaction {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []*model.Interaction{}
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end]
}

var _ Repository = (*Memory)(nil)
