package repository

import (
	"context"

	"github.com/m-mizutani/goerr/v2"

	"github.com/m-mizutani/lakeagent/pkg/model"
)

var ErrNotFound = goerr.New("interaction not found")

// Repository stores completed interactions. Records are written once.
type Repository interface {
	// PutInteraction saves an interaction
	PutInteraction(ctx context.Context, x *model.Interaction) error

	// GetInteraction retrieves an interaction by ID, or ErrNotFound
	GetInteraction(ctx context.Context, id model.InteractionID) (*model.Interaction, error)

	// ListInteractions returns interactions newest first
	ListInteractions(ctx context.Context, offset, limit int) ([]*model.Interaction, error)

	Close() error
}

func validatePut(x *model.Interaction) error {
	if x == nil {
		return goerr.New("interaction is nil")
	}
	if err := x.ID.Validate(); err != nil {
		return goerr.Wrap(err, "invalid interaction")
	}
	return nil
}
