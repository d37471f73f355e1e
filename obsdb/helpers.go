package obsdb

import (
	"context"
	"database/sql"
	"strings"
)

// bulkInsert writes n rows with multi-row INSERT statements of at most batchSize rows.
// rowArgs returns the values of row i, matching the placeholder tuple.
//
// SECURITY: values are always bound through placeholders, never concatenated.
func bulkInsert(ctx context.Context, tx *sql.Tx, baseQuery, tuple string, n, batchSize int, rowArgs func(i int) []any) error {
	for start := 0; start < n; start += batchSize {
		end := min(start+batchSize, n)

		var query strings.Builder
		query.WriteString(baseQuery)
		args := make([]any, 0, (end-start)*strings.Count(tuple, "?"))
		for i := start; i < end; i++ {
			if i > start {
				query.WriteString(", ")
			}
			query.WriteString(tuple)
			args = append(args, rowArgs(i)...)
		}
		if _, err := tx.ExecContext(ctx, query.String(), args...); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}
