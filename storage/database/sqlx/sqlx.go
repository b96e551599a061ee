// Package sqlxrepos implements the repositories on Postgres with sqlx.
package sqlxrepos

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-eligibility/core"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// trapNoRowsErr maps "no rows" to a not found error
func trapNoRowsErr(err error, resource, id, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return core.NewNotFoundError(resource, id)
	}
	return errors.Wrap(err, msg)
}

// where accumulates AND-ed conditions with positional placeholders.
type where struct {
	conds []string
	args  []interface{}
}

// add appends cond, in which every "?" is replaced by the next placeholder.
func (w *where) add(cond string, args ...interface{}) {
	for _, arg := range args {
		w.args = append(w.args, arg)
		cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", len(w.args)), 1)
	}
	w.conds = append(w.conds, cond)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// next is the placeholder following the current arguments.
func (w *where) next(offset int) string {
	return fmt.Sprintf("$%d", len(w.args)+offset)
}

// orderBy renders the orderings, keeping only columns in allowed.
func orderBy(ordering []core.DBOrdering, allowed map[string]bool, fallback string) string {
	list := make([]string, 0, len(ordering)+1)
	for _, ord := range ordering {
		if allowed[ord.Field] {
			list = append(list, ord.String())
		}
	}
	list = append(list, fallback)
	return " ORDER BY " + strings.Join(list, ", ")
}
