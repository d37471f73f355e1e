package obsdb

import (
	"context"
	"fmt"

	"github.com/statlearn/busflow/internal/logging"
	"github.com/statlearn/busflow/internal/validation"
)

// MeanError is the average validation error of one (filter, lambda) pair.
type MeanError struct {
	Name     string
	Value    string
	Lambda   float64
	AvgError float64
	Count    int
}

// ImportErrors appends validation error rows.
func (c *Client) ImportErrors(ctx context.Context, rows []validation.Row) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer logging.SafeRollbackWithLogging(tx, c.logger, "import_errors")

	const baseQuery = `INSERT INTO validation_errors (filter_name, filter_value, lambda, error) VALUES `
	err = bulkInsert(ctx, tx, baseQuery, "(?, ?, ?, ?)", len(rows), c.config.batchSize(), func(i int) []any {
		r := rows[i]
		return []any{r.Name, r.Value, r.Lambda, r.Error}
	})
	if err != nil {
		return fmt.Errorf("unable to insert validation errors: %w", err)
	}
	return tx.Commit()
}

// AverageErrors returns the mean error per (filter, lambda), ordered by lambda and then filter.
func (c *Client) AverageErrors(ctx context.Context) ([]MeanError, error) {
	rows, err := c.DB.QueryContext(ctx, `
		SELECT filter_name, filter_value, lambda, AVG(error), COUNT(*)
		FROM validation_errors
		GROUP BY filter_name, filter_value, lambda
		ORDER BY lambda, filter_name, filter_value`)
	if err != nil {
		return nil, fmt.Errorf("query average errors: %w", err)
	}
	defer logging.SafeCloseWithLogging(rows, c.logger, "average_error_rows")

	var out []MeanError
	for rows.Next() {
		var m MeanError
		if err := rows.Scan(&m.Name, &m.Value, &m.Lambda, &m.AvgError, &m.Count); err != nil {
			return nil, fmt.Errorf("scan average error: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// BestLambdas returns, per filter, the lambda with the lowest mean error.
func (c *Client) BestLambdas(ctx context.Context) ([]MeanError, error) {
	means, err := c.AverageErrors(ctx)
	if err != nil {
		return nil, err
	}
	type key struct{ name, value string }
	best := make(map[key]int)
	var order []key
	for i, m := range means {
		k := key{m.Name, m.Value}
		j, ok := best[k]
		if !ok {
			order = append(order, k)
			best[k] = i
			continue
		}
		if m.AvgError < means[j].AvgError {
			best[k] = i
		}
	}
	out := make([]MeanError, 0, len(order))
	for _, k := range order {
		out = append(out, means[best[k]])
	}
	return out, nil
}
