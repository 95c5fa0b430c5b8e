package lakequery

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"

	"github.com/m-mizutani/lakeagent/pkg/utils/logging"
)

const regoQuery = "data.sql.deny"

// RegoPolicy evaluates data.sql.deny, a set of messages, against
//
//	{"query": <sql>, "normalized": <upper-cased sql without comments>, "tokens": [...]}
//
// Any message rejects the statement.
type RegoPolicy struct {
	query *rego.PreparedEvalQuery
}

type regoPrintHook struct {
	ctx context.Context
}

func (h *regoPrintHook) Print(_ print.Context, message string) error {
	logging.From(h.ctx).Debug("rego print", "message", message)
	return nil
}

// LoadRegoPolicy loads a single .rego file or every .rego file in a directory.
func LoadRegoPolicy(ctx context.Context, path string) (*RegoPolicy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to stat policy path", goerr.V("path", path))
	}

	files := []string{path}
	if info.IsDir() {
		files, err = filepath.Glob(filepath.Join(path, "*.rego"))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to glob policy files")
		}
		if len(files) == 0 {
			return nil, goerr.New("no .rego files in policy directory", goerr.V("path", path))
		}
	}

	modules := make([]func(*rego.Rego), 0, len(files)+1)
	modules = append(modules, rego.Query(regoQuery))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		modules = append(modules, rego.Module(file, string(data)))
	}

	return prepareRego(ctx, modules)
}

// NewRegoPolicy compiles policy source held in memory.
func NewRegoPolicy(ctx context.Context, name, source string) (*RegoPolicy, error) {
	return prepareRego(ctx, []func(*rego.Rego){
		rego.Query(regoQuery),
		rego.Module(name, source),
	})
}

func prepareRego(ctx context.Context, options []func(*rego.Rego)) (*RegoPolicy, error) {
	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare query", goerr.V("query", regoQuery))
	}
	return &RegoPolicy{query: &prepared}, nil
}

func (p *RegoPolicy) Check(ctx context.Context, query string) error {
	normalized := normalizeSQL(query)
	input := map[string]any{
		"query":      query,
		"normalized": normalized,
		"tokens":     strings.Fields(normalized),
	}

	rs, err := p.query.Eval(ctx, rego.EvalInput(input), rego.EvalPrintHook(&regoPrintHook{ctx: ctx}))
	if err != nil {
		// A broken policy must not let statements through.
		return &Rejection{Reason: "policy evaluation failed: " + err.Error()}
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil
	}

	var reasons []string
	switch v := rs[0].Expressions[0].Value.(type) {
	case []any:
		for _, r := range v {
			if s, ok := r.(string); ok {
				reasons = append(reasons, s)
			}
		}
	case string:
		reasons = append(reasons, v)
	}
	if len(reasons) == 0 {
		return nil
	}

	sort.Strings(reasons)
	return &Rejection{Reason: strings.Join(reasons, "; ")}
}

var (
	lineComment  = regexp.MustCompile(`--[^\n]*`)
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	punctuation  = regexp.MustCompile(`[(),;]`)
)

func normalizeSQL(query string) string {
	s := blockComment.ReplaceAllString(query, " ")
	s = lineComment.ReplaceAllString(s, " ")
	s = punctuation.ReplaceAllString(s, " $0 ")
	return strings.Join(strings.Fields(strings.ToUpper(s)), " ")
}
