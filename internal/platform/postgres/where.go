package postgres

import (
	"strconv"
	"strings"
)

// Where accumulates AND-ed clauses with positional arguments. Each ? in a
// clause is replaced by the next $n placeholder.
type Where struct {
	clauses []string
	Args    []any
}

func (w *Where) Add(clause string, args ...any) {
	for _, a := range args {
		clause = strings.Replace(clause, "?", w.Arg(a), 1)
	}
	w.clauses = append(w.clauses, clause)
}

// Arg appends a value and returns its placeholder.
func (w *Where) Arg(v any) string {
	w.Args = append(w.Args, v)
	return "$" + strconv.Itoa(len(w.Args))
}

// SQL renders " WHERE a AND b", or "" when no clause was added.
func (w *Where) SQL() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}
