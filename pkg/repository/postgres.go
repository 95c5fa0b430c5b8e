package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/m-mizutani/goerr/v2"

	"github.com/m-mizutani/lakeagent/pkg/model"
	"github.com/m-mizutani/lakeagent/pkg/trace"
	"github.com/m-mizutani/lakeagent/pkg/utils/logging"
)

const createInteractionsTable = `
CREATE TABLE IF NOT EXISTS interactions (
	id UUID PRIMARY KEY,
	query TEXT NOT NULL,
	response TEXT NOT NULL,
	logs JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const createInteractionsIndex = `
CREATE INDEX IF NOT EXISTS interactions_created_at_idx ON interactions (created_at DESC)`

// Postgres stores interactions in the interactions table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn and pings the server.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, goerr.New("database-url is required")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse database URL")
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create postgres pool")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, goerr.Wrap(err, "failed to ping postgres")
	}

	return &Postgres{pool: pool}, nil
}

// Migrate creates the interactions table if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range []string{createInteractionsTable, createInteractionsIndex} {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return goerr.Wrap(err, "failed to migrate interactions table")
		}
	}
	logging.From(ctx).Info("interactions table is ready")
	return nil
}

func (p *Postgres) PutInteraction(ctx context.Context, x *model.Interaction) error {
	if err := validatePut(x); err != nil {
		return err
	}

	logs, err := x.Trace.Marshal()
	if err != nil {
		return goerr.Wrap(err, "failed to marshal trace", goerr.V("id", x.ID))
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO interactions (id, query, response, logs, created_at) VALUES ($1, $2, $3, $4, $5)`,
		x.ID.String(), x.Query, x.Response, string(logs), x.CreatedAt,
	)
	if err != nil {
		return goerr.Wrap(err, "failed to insert interaction", goerr.V("id", x.ID))
	}
	return nil
}

func (p *Postgres) GetInteraction(ctx context.Context, id model.InteractionID) (*model.Interaction, error) {
	if err := id.Validate(); err != nil {
		return nil, goerr.Wrap(ErrNotFound, "no such interaction", goerr.V("id", id))
	}

	row := p.pool.QueryRow(ctx,
		`SELECT id::text, query, response, logs::text, created_at FROM interactions WHERE id = $1`, id.String())

	x, err := scanInteraction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, goerr.Wrap(ErrNotFound, "no such interaction", goerr.V("id", id))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get interaction", goerr.V("id", id))
	}
	return x, nil
}

func (p *Postgres) ListInteractions(ctx context.Context, offset, limit int) ([]*model.Interaction, error) {
	if offset < 0 {
		offset = 0
	}
	var lim any
	if limit > 0 {
		lim = limit
	}

	rows, err := p.pool.Query(ctx,
		`SELECT id::text, query, response, logs::text, created_at FROM interactions
		 ORDER BY created_at DESC, id DESC OFFSET $1 LIMIT $2`, offset, lim)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list interactions")
	}
	defer rows.Close()

	result := []*model.Interaction{}
	for rows.Next() {
		x, err := scanInteraction(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan interaction")
		}
		result = append(result, x)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate interactions")
	}
	return result, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func scanInteraction(row pgx.Row) (*model.Interaction, error) {
	var (
		x    model.Interaction
		id   string
		logs string
	)
	if err := row.Scan(&id, &x.Query, &x.Response, &logs, &x.CreatedAt); err != nil {
		return nil, err
	}
	x.ID = model.InteractionID(id)
	x.CreatedAt = x.CreatedAt.UTC()

	tr, err := trace.Unmarshal([]byte(logs))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to decode stored trace", goerr.V("id", id))
	}
	x.Trace = tr
	return &x, nil
}

var _ Repository = (*Postgres)(nil)
