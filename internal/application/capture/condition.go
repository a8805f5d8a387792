package capture

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/note-capture/note-capture/internal/domain/note"
)

// Filter decides which notes are worth storing.
// An empty expression accepts every note.
type Filter struct {
	source string
	expr   *govaluate.EvaluableExpression
	fixed  *bool
}

// NewFilter compiles a boolean expression over note.Note.Fields,
// e.g. "like_count >= 100 && has_video == false".
func NewFilter(expression string) (*Filter, error) {
	cond := strings.TrimSpace(expression)
	f := &Filter{source: cond}
	switch strings.ToLower(cond) {
	case "", "true":
		v := true
		f.fixed = &v
		return f, nil
	case "false":
		v := false
		f.fixed = &v
		return f, nil
	}
	expr, err := govaluate.NewEvaluableExpression(cond)
	if err != nil {
		return nil, fmt.Errorf("invalid capture filter %q: %w", cond, err)
	}
	f.expr = expr
	return f, nil
}

// String returns the normalized expression.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.source
}

// Match evaluates the filter against n. A nil filter matches everything.
func (f *Filter) Match(n *note.Note) (bool, error) {
	if f == nil || n == nil {
		return n != nil, nil
	}
	if f.fixed != nil {
		return *f.fixed, nil
	}
	result, err := f.expr.Evaluate(n.Fields())
	if err != nil {
		return false, err
	}
	switch v := result.(type) {
	case bool:
		return v, nil
	default:
		return false, errors.New("capture filter did not evaluate to boolean")
	}
}
