package lakequery_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/lakeagent/pkg/tool/lakequery"
)

const testPolicy = `package sql

deny contains msg if {
	some tok in input.tokens
	tok == "PG_SLEEP"
	msg := "pg_sleep is not allowed"
}

deny contains msg if {
	not startswith(input.normalized, "SELECT")
	not startswith(input.normalized, "WITH")
	msg := "only SELECT or WITH statements are allowed"
}
`

func TestDenylistRejection(t *testing.T) {
	err := lakequery.NewDenylist().Check(context.Background(), "select 1; truncate object_account")
	var r *lakequery.Rejection
	gt.True(t, errors.As(err, &r))
	gt.Equal(t, r.Keyword, "TRUNCATE")

	gt.NoError(t, lakequery.NewDenylist("pg_sleep").Check(context.Background(), "DROP TABLE x"))
	gt.Error(t, lakequery.NewDenylist("pg_sleep").Check(context.Background(), "SELECT PG_SLEEP(10)"))
}

func TestRegoPolicy(t *testing.T) {
	ctx := context.Background()
	p, err := lakequery.NewRegoPolicy(ctx, "sql.rego", testPolicy)
	gt.NoError(t, err)

	gt.NoError(t, p.Check(ctx, "select Id from object_account"))
	gt.NoError(t, p.Check(ctx, "/* comment */ WITH a AS (SELECT 1) SELECT * FROM a"))

	err = p.Check(ctx, "SELECT pg_sleep ( 5 )")
	gt.Error(t, err)
	gt.S(t, err.Error()).Contains("pg_sleep is not allowed")

	err = p.Check(ctx, "SHOW TABLES")
	gt.Error(t, err)
	gt.S(t, err.Error()).Contains("only SELECT")
}

func TestLoadRegoPolicyFromDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "sql.rego"), []byte(testPolicy), 0644))

	p, err := lakequery.LoadRegoPolicy(ctx, dir)
	gt.NoError(t, err)
	gt.Error(t, p.Check(ctx, "SHOW TABLES"))

	p, err = lakequery.LoadRegoPolicy(ctx, filepath.Join(dir, "sql.rego"))
	gt.NoError(t, err)
	gt.NoError(t, p.Check(ctx, "SELECT 1"))

	_, err = lakequery.LoadRegoPolicy(ctx, t.TempDir())
	gt.Error(t, err)

	_, err = lakequery.LoadRegoPolicy(ctx, filepath.Join(dir, "missing.rego"))
	gt.Error(t, err)
}

func TestAll(t *testing.T) {
	ctx := context.Background()
	gt.NoError(t, lakequery.All().Check(ctx, "DROP TABLE x"))

	combined := lakequery.All(lakequery.AllowAll{}, nil, lakequery.NewDenylist())
	gt.Error(t, combined.Check(ctx, "DROP TABLE x"))
	gt.NoError(t, combined.Check(ctx, "SELECT 1"))
}
