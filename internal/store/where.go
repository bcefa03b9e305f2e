package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/sampleuploader/internal/core"
)

// whereBuilder assembles a parameterized WHERE clause. Empty values are
// skipped so optional filters can be added unconditionally.
type whereBuilder struct {
	conditions []string
	args       []any
	argIndex   int
	numbered   bool // $1, $2 placeholders (postgres) instead of ?
	timeValue  func(time.Time) any
}

func newWhereBuilder(numbered bool) *whereBuilder {
	return &whereBuilder{
		argIndex:  1,
		numbered:  numbered,
		timeValue: func(t time.Time) any { return t.UTC() },
	}
}

func (wb *whereBuilder) placeholder() string {
	if !wb.numbered {
		return "?"
	}
	return fmt.Sprintf("$%d", wb.argIndex)
}

// Add appends "column = value" unless value is empty.
func (wb *whereBuilder) Add(column, value string) {
	if value == "" {
		return
	}
	wb.addCondition(column+" = "+wb.placeholder(), value)
}

// AddTimeRange bounds column by start and end; zero times are skipped.
func (wb *whereBuilder) AddTimeRange(column string, start, end time.Time) {
	if !start.IsZero() {
		wb.addCondition(column+" >= "+wb.placeholder(), wb.timeValue(start))
	}
	if !end.IsZero() {
		wb.addCondition(column+" <= "+wb.placeholder(), wb.timeValue(end))
	}
}

func (wb *whereBuilder) addCondition(cond string, arg any) {
	wb.conditions = append(wb.conditions, cond)
	wb.args = append(wb.args, arg)
	wb.argIndex++
}

// NextArgIndex is the position of the next placeholder, for LIMIT/OFFSET.
func (wb *whereBuilder) NextArgIndex() int {
	return wb.argIndex
}

// Build returns the clause with a leading space, or "" when empty.
func (wb *whereBuilder) Build() (string, []any) {
	if len(wb.conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(wb.conditions, " AND "), wb.args
}

// pageClause renders LIMIT and OFFSET after the builder's arguments.
func (wb *whereBuilder) pageClause(limit, offset int) (string, []any) {
	if !wb.numbered {
		return " LIMIT ? OFFSET ?", []any{limit, offset}
	}
	i := wb.NextArgIndex()
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", i, i+1), []any{limit, offset}
}

// batchFilter renders the WHERE, ORDER BY and paging of a history query.
func batchFilter(wb *whereBuilder, q core.BatchQuery) (string, []any) {
	wb.Add("format", q.Format)
	wb.Add("workspace", q.Workspace)
	wb.Add("status", string(q.Status))
	wb.AddTimeRange("started_at", q.Since, q.Until)

	where, args := wb.Build()
	page, pageArgs := wb.pageClause(pageLimit(q), q.Offset)
	return where + " ORDER BY started_at DESC" + page, append(args, pageArgs...)
}
