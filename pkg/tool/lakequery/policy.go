package lakequery

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// Policy decides whether a statement may be sent to the executor. It is an
// advisory filter, not a security boundary: keyword scanning can be bypassed
// with comments, quoting, dynamic SQL or functions with side effects. Run the
// agent with a read-only database role.
type Policy interface {
	Check(ctx context.Context, query string) error
}

// Rejection is returned by a Policy when a statement is refused.
type Rejection struct {
	Reason  string
	Keyword string
}

func (r *Rejection) Error() string {
	return r.Reason
}

func rejectionText(err error) string {
	var r *Rejection
	if errors.As(err, &r) {
		return "Query rejected: " + r.Reason + ". Only read-only queries are allowed."
	}
	return "Query rejected: " + err.Error()
}

// DefaultDenylist holds data-definition and data-modification verbs.
var DefaultDenylist = []string{
	"DROP", "DELETE", "INSERT", "UPDATE", "ALTER", "CREATE", "TRUNCATE",
	"GRANT", "REVOKE", "MERGE", "UPSERT", "ATTACH", "DETACH",
	"COPY", "CALL", "EXEC", "EXECUTE", "VACUUM", "RENAME",
}

// Denylist rejects statements containing a listed keyword as a whole word,
// case-insensitively. Identifiers such as grax__deleted or CreatedDate do not
// match.
type Denylist struct {
	re *regexp.Regexp
}

// NewDenylist builds a Denylist. With no keywords DefaultDenylist is used.
func NewDenylist(keywords ...string) *Denylist {
	if len(keywords) == 0 {
		keywords = DefaultDenylist
	}
	quoted := make([]string, len(keywords))
	for i, k := range keywords {
		quoted[i] = regexp.QuoteMeta(strings.ToUpper(k))
	}
	return &Denylist{
		re: regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`),
	}
}

func (d *Denylist) Check(_ context.Context, query string) error {
	m := d.re.FindStringSubmatch(query)
	if m == nil {
		return nil
	}
	keyword := strings.ToUpper(m[1])
	return &Rejection{
		Reason:  "statement contains forbidden keyword " + keyword,
		Keyword: keyword,
	}
}

// AllowAll accepts every statement.
type AllowAll struct{}

func (AllowAll) Check(context.Context, string) error { return nil }

type allOf []Policy

// All combines policies; the first rejection wins. No policies means AllowAll.
func All(policies ...Policy) Policy {
	var out allOf
	for _, p := range policies {
		if p != nil {
			out = append(out, p)
		}
	}
	switch len(out) {
	case 0:
		return AllowAll{}
	case 1:
		return out[0]
	}
	return out
}

func (a allOf) Check(ctx context.Context, query string) error {
	for _, p := range a {
		if err := p.Check(ctx, query); err != nil {
			return err
		}
	}
	return nil
}
