package gridengine

import (
	"context"

	"github.com/gnemet/gridengine/griderr"
	"github.com/gnemet/gridengine/record"
	"github.com/gnemet/gridengine/state"
)

// Export streams every row matching st, ignoring paging, in chunks with
// relations loaded. With a cursor pool the rows come from one server-side
// cursor; otherwise the plan is paged with LIMIT/OFFSET.
func (t *Table) Export(ctx context.Context, st state.QueryState, fn func([]record.Row) error) error {
	if t.rows == nil {
		return griderr.Wrap(griderr.ErrStore, t.id, errNoDB)
	}
	q := t.builder.Build(st.Normalize(t.cfg.PerPage), t.constraints)

	if t.cursors == nil {
		return t.rows.Chunk(ctx, q, t.chunk, fn)
	}
	sqlText, args, err := q.ToSQL()
	if err != nil {
		return err
	}
	t.logger.Debug("exporting through cursor", "chunk", t.chunk)
	return t.cursors.Lazy(ctx, sqlText, args, t.chunk, func(rows []record.Row) error {
		if err := t.rows.Load(ctx, q.Entity, rows, q.Eager); err != nil {
			return err
		}
		return fn(rows)
	})
}
