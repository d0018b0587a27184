package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// selectOnlyRe matches a statement beginning with SELECT. validateSelectOnly
// separately rejects any semicolon other than an optional single trailing
// one; together they form the guard for the `retrieve({mode:"sql"})` tool.
var selectOnlyRe = regexp.MustCompile(`(?is)^\s*select\b`)

// ExecuteQuery runs a read-only, single-statement SQL query against the
// store, rejecting anything that isn't a lone SELECT. It exists
// specifically to back the `retrieve` tool's `sql` mode; it must never be
// used for anything that mutates state.
func (s *Store) ExecuteQuery(ctx context.Context, query string, params []any) ([]map[string]any, error) {
	if err := validateSelectOnly(query); err != nil {
		return nil, err
	}

	var out []map[string]any
	err := s.executeWithRetry(ctx, "ExecuteQuery", func(ctx context.Context) error {
		if s.inMemory {
			return newErr(CategoryValidation, "executeQuery is unavailable in in-memory fallback mode", nil)
		}
		rows, err := s.db.QueryContext(ctx, query, params...)
		if err != nil {
			return err
		}
		defer rows.Close()
		cols, err := rows.Columns()
		if err != nil {
			return err
		}
		out = nil
		for rows.Next() {
			vals := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return err
			}
			row := make(map[string]any, len(cols))
			for i, c := range cols {
				row[c] = vals[i]
			}
			out = append(out, row)
		}
		return rows.Err()
	})
	return out, err
}

func validateSelectOnly(query string) error {
	trimmed := strings.TrimSpace(query)
	body := trimmed
	if strings.HasSuffix(body, ";") {
		body = strings.TrimSuffix(body, ";")
	}
	if strings.Contains(body, ";") {
		return newErr(CategoryValidation, "executeQuery: only a single statement is permitted", nil)
	}
	if !selectOnlyRe.MatchString(body) {
		return newErr(CategoryValidation, fmt.Sprintf("executeQuery: only SELECT statements are permitted, got %q", firstWord(body)), nil)
	}
	return nil
}

func firstWord(s string) string {
	f := strings.Fields(s)
	if len(f) == 0 {
		return ""
	}
	return f[0]
}
