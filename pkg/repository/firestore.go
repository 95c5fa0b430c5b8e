package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/m-mizutani/lakeagent/pkg/model"
	"github.com/m-mizutani/lakeagent/pkg/trace"
)

const collectionInteractions = "interactions"

// Firestore stores interactions as documents keyed by interaction ID.
type Firestore struct {
	client *firestore.Client
}

// firestoreInteraction is the document shape. The trace is kept as JSON text
// because Firestore maps cannot hold every Value shape (nested lists).
type firestoreInteraction struct {
	ID        string    `firestore:"id"`
	Query     string    `firestore:"query"`
	Response  string    `firestore:"response"`
	Logs      string    `firestore:"logs"`
	CreatedAt time.Time `firestore:"created_at"`
}

// NewFirestore creates a Firestore repository
func NewFirestore(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	if projectID == "" {
		return nil, goerr.New("firestore project ID is required")
	}
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID), goerr.V("database", databaseID))
	}

	return &Firestore{client: client}, nil
}

func (r *Firestore) PutInteraction(ctx context.Context, x *model.Interaction) error {
	if err := validatePut(x); err != nil {
		return err
	}

	logs, err := x.Trace.Marshal()
	if err != nil {
		return goerr.Wrap(err, "failed to marshal trace", goerr.V("id", x.ID))
	}

	doc := firestoreInteraction{
		ID:        x.ID.String(),
		Query:     x.Query,
		Response:  x.Response,
		Logs:      string(logs),
		CreatedAt: x.CreatedAt,
	}
	if _, err := r.client.Collection(collectionInteractions).Doc(doc.ID).Set(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to put interaction", goerr.V("id", x.ID))
	}
	return nil
}

func (r *Firestore) GetInteraction(ctx context.Context, id model.InteractionID) (*model.Interaction, error) {
	if id == "" {
		return nil, goerr.Wrap(ErrNotFound, "empty interaction ID")
	}

	snap, err := r.client.Collection(collectionInteractions).Doc(id.String()).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, goerr.Wrap(ErrNotFound, "no such interaction", goerr.V("id", id))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get interaction", goerr.V("id", id))
	}

	return decodeSnapshot(snap)
}

func (r *Firestore) ListInteractions(ctx context.Context, offset, limit int) ([]*model.Interaction, error) {
	q := r.client.Collection(collectionInteractions).OrderBy("created_at", firestore.Desc)
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	result := []*model.Interaction{}
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list interactions")
		}

		x, err := decodeSnapshot(snap)
		if err != nil {
			return nil, err
		}
		result = append(result, x)
	}
	return result, nil
}

func (r *Firestore) Close() error {
	if err := r.client.Close(); err != nil {
		return goerr.Wrap(err, "failed to close firestore client")
	}
	return nil
}

func decodeSnapshot(snap *firestore.DocumentSnapshot) (*model.Interaction, error) {
	var doc firestoreInteraction
	if err := snap.DataTo(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to decode interaction", goerr.V("doc", snap.Ref.ID))
	}

	tr, err := trace.Unmarshal([]byte(doc.Logs))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to decode stored trace", goerr.V("doc", snap.Ref.ID))
	}

	return &model.Interaction{
		ID:        model.InteractionID(doc.ID),
		Query:     doc.Query,
		Response:  doc.Response,
		Trace:     tr,
		CreatedAt: doc.CreatedAt.UTC(),
	}, nil
}

var _ Repository = (*Firestore)(nil)
