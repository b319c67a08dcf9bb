// internal/repository/querybuilder.go
package repository

import (
	"fmt"
	"strings"
)

// whereBuilder folds optional predicates into a single parameterized WHERE
// clause. The same builder serves both the select and the count half of a
// paged query, so the two can never disagree about the filter set.
type whereBuilder struct {
	conds []string
	args  []any
}

func newWhereBuilder() *whereBuilder {
	return &whereBuilder{}
}

// Add appends a predicate containing exactly one placeholder written as "?".
// The placeholder is rewritten to the positional $n form on build.
func (b *whereBuilder) Add(cond string, arg any) *whereBuilder {
	b.conds = append(b.conds, cond)
	b.args = append(b.args, arg)
	return b
}

// AddIf appends the predicate only when ok is true. Keeps call sites flat for
// optional filters.
func (b *whereBuilder) AddIf(ok bool, cond string, arg any) *whereBuilder {
	if ok {
		b.Add(cond, arg)
	}
	return b
}

// Clause renders "WHERE ..." (or "" when no predicates) with placeholders
// numbered starting at 1.
func (b *whereBuilder) Clause() string {
	if len(b.conds) == 0 {
		return ""
	}
	parts := make([]string, len(b.conds))
	for i, c := range b.conds {
		parts[i] = strings.Replace(c, "?", fmt.Sprintf("$%d", i+1), 1)
	}
	return " WHERE " + strings.Join(parts, " AND ")
}

// Args returns the parameter values in placeholder order.
func (b *whereBuilder) Args() []any {
	return append([]any{}, b.args...)
}

// NextPlaceholder is the positional index the next appended parameter would
// take; used for LIMIT/OFFSET parameters appended after the clause.
func (b *whereBuilder) NextPlaceholder() int {
	return len(b.args) + 1
}
