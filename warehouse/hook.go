package warehouse

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/juju/errors"

	"github.com/warriorguo/etlflow/types"
)

var (
	_ types.Hook = &hook{}
)

type hook struct {
	conn   *sqlx.Conn
	driver string
}

func (h *hook) DriverName() string {
	return h.driver
}

func (h *hook) Run(ctx context.Context, sql string) error {
	if _, err := h.conn.ExecContext(ctx, sql); err != nil {
		return types.NewStatementError(err)
	}
	return nil
}

func (h *hook) Query(ctx context.Context, sql string) ([][]any, error) {
	rows, err := h.conn.QueryxContext(ctx, sql)
	if err != nil {
		return nil, types.NewStatementError(err)
	}
	defer rows.Close()

	result := make([][]any, 0)
	for rows.Next() {
		row, err := rows.SliceScan()
		if err != nil {
			return nil, types.NewStatementError(err)
		}
		for i, v := range row {
			if b, ok := v.([]byte); ok {
				row[i] = string(b)
			}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewStatementError(err)
	}
	return result, nil
}

func (h *hook) Close() error {
	return errors.Trace(h.conn.Close())
}
