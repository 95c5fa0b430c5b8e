package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/m-mizutani/lakeagent/pkg/trace"
)

var ErrInvalidInteractionID = goerr.New("invalid interaction ID")

type InteractionID string

// NewInteractionID generates a new unique InteractionID
func NewInteractionID() InteractionID {
	return InteractionID(uuid.New().String())
}

// Validate checks the ID is a UUID
func (x InteractionID) Validate() error {
	if _, err := uuid.Parse(string(x)); err != nil {
		return goerr.Wrap(ErrInvalidInteractionID, "not a UUID", goerr.V("id", x))
	}
	return nil
}

func (x InteractionID) String() string { return string(x) }

// Interaction is one completed question and answer, written once and never
// updated.
type Interaction struct {
	ID        InteractionID `json:"id"`
	Query     string        `json:"query"`
	Response  string        `json:"response"`
	Trace     trace.Trace   `json:"logs"`
	CreatedAt time.Time     `json:"created_at"`
}

// NewInteraction builds a record stamped with a fresh ID.
func NewInteraction(query, response string, tr trace.Trace, now time.Time) *Interaction {
	if tr == nil {
		tr = trace.Trace{}
	}
	return &Interaction{
		ID:        NewInteractionID(),
		Query:     query,
		Response:  response,
		Trace:     tr,
		CreatedAt: now.UTC(),
	}
}
