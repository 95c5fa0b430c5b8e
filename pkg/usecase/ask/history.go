package ask

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"

	"github.com/m-mizutani/lakeagent/pkg/model"
)

const (
	DefaultListLimit = 20
	maxListLimit     = 200
)

// ListOptions contains options for listing interactions
type ListOptions struct {
	Offset int
	Limit  int
}

// List returns stored interactions newest first
func (u *UseCase) List(ctx context.Context, opts ListOptions) ([]*model.Interaction, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultListLimit
	}
	if opts.Limit > maxListLimit {
		opts.Limit = maxListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	return u.repo.ListInteractions(ctx, opts.Offset, opts.Limit)
}

// Show retrieves one interaction
func (u *UseCase) Show(ctx context.Context, id model.InteractionID) (*model.Interaction, error) {
	return u.repo.GetInteraction(ctx, id)
}

// Archived reads an interaction back from the trace archive
func (u *UseCase) Archived(ctx context.Context, id model.InteractionID) (*model.Interaction, error) {
	if u.storage == nil {
		return nil, goerr.New("trace archive is not configured")
	}

	r, err := u.storage.Get(ctx, traceKey(id))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var x model.Interaction
	if err := json.NewDecoder(r).Decode(&x); err != nil {
		return nil, goerr.Wrap(err, "failed to decode archived interaction", goerr.V("id", id))
	}
	return &x, nil
}
