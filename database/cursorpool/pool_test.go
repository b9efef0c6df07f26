package cursorpool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnemet/gridengine/internal/testutil"
	"github.com/gnemet/gridengine/record"
)

func newPool(t *testing.T, opts Options) (*Pool, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	opts.Logger = testutil.NewTestLogger(t)
	return New(db, opts), mock
}

func TestBuildFetchQuery(t *testing.T) {
	tests := []struct {
		dir      Direction
		expected string
	}{
		{Next, `FETCH FORWARD 10 FROM "cur_1";`},
		{Prior, "MOVE RELATIVE -20 FROM \"cur_1\";\nFETCH FORWARD 10 FROM \"cur_1\";"},
		{First, "MOVE ABSOLUTE 0 FROM \"cur_1\";\nFETCH FORWARD 10 FROM \"cur_1\";"},
		{Last, "MOVE LAST FROM \"cur_1\";\nMOVE RELATIVE -10 FROM \"cur_1\";\nFETCH FORWARD 10 FROM \"cur_1\";\nMOVE LAST FROM \"cur_1\";"},
		{Backward, `MOVE RELATIVE -10 FROM "cur_1";`},
		{Direction("sideways"), `FETCH FORWARD 10 FROM "cur_1";`},
	}
	for _, tc := range tests {
		t.Run(string(tc.dir), func(t *testing.T) {
			assert.Equal(t, tc.expected, BuildFetchQuery("cur_1", 10, tc.dir))
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	p, mock := newPool(t, Options{MaxCursors: 1})
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`DECLARE cur_[0-9a-f]{8} SCROLL CURSOR FOR SELECT id FROM employees WHERE active = \$1`).
		WithArgs(true).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FETCH FORWARD 2 FROM "cur_[0-9a-f]{8}";`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), []byte("Al")).AddRow(int64(2), "Bo"))
	mock.ExpectQuery(`MOVE ABSOLUTE 0 FROM "cur_[0-9a-f]{8}"; FETCH FORWARD 2 FROM "cur_[0-9a-f]{8}";`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "Al"))
	mock.ExpectExec(`CLOSE "cur_[0-9a-f]{8}"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	s, err := p.Declare(ctx, "user-1", "SELECT id FROM employees WHERE active = $1", true)
	require.NoError(t, err)
	assert.Regexp(t, `^cur_[0-9a-f]{8}$`, s.CursorName)

	again, err := p.Declare(ctx, "user-1", "ignored")
	require.NoError(t, err)
	assert.Same(t, s, again)

	_, err = p.Declare(ctx, "user-2", "SELECT 1")
	assert.ErrorContains(t, err, "capacity reached")

	rows, err := p.Fetch(ctx, "user-1", Next, 2)
	require.NoError(t, err)
	assert.Equal(t, []record.Row{{"id": int64(1), "name": "Al"}, {"id": int64(2), "name": "Bo"}}, rows)

	rows, err = p.Fetch(ctx, "user-1", First, 2)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	require.NoError(t, p.Close(ctx, "user-1"))
	assert.Equal(t, 0, p.Len())
	require.NoError(t, mock.ExpectationsWereMet())

	_, err = p.Fetch(ctx, "user-1", Next, 2)
	assert.Error(t, err)
	assert.NoError(t, p.Close(ctx, "user-1"))
}

func TestExpiredSessionsAreCleanedUp(t *testing.T) {
	p, mock := newPool(t, Options{IdleTimeout: time.Minute, AbsTimeout: time.Hour})
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	mock.ExpectBegin()
	mock.ExpectExec(`DECLARE cur_`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := p.Declare(context.Background(), "s", "SELECT 1")
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	p.cleanupTimeouts()
	assert.Equal(t, 1, p.Len())

	now = now.Add(2 * time.Minute)
	p.cleanupTimeouts()
	assert.Equal(t, 0, p.Len())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLazyStreamsInBatches(t *testing.T) {
	p, mock := newPool(t, Options{})

	mock.ExpectBegin()
	mock.ExpectExec(`DECLARE cur_[0-9a-f]{8} NO SCROLL CURSOR FOR SELECT id FROM employees`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FETCH FORWARD 2 FROM "cur_`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)))
	mock.ExpectQuery(`FETCH FORWARD 2 FROM "cur_`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectExec(`CLOSE "cur_`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	var batches [][]record.Row
	err := p.Lazy(context.Background(), "SELECT id FROM employees", nil, 2, func(rows []record.Row) error {
		batches = append(batches, rows)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 2)
	assert.Equal(t, int64(3), batches[1][0]["id"])
}

func TestLazyRollsBackOnCallbackError(t *testing.T) {
	p, mock := newPool(t, Options{})
	stop := errors.New("disk full")

	mock.ExpectBegin()
	mock.ExpectExec(`DECLARE cur_`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FETCH FORWARD 5 FROM "cur_`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectRollback()

	err := p.Lazy(context.Background(), "SELECT id FROM employees", nil, 5, func([]record.Row) error { return stop })
	assert.ErrorIs(t, err, stop)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Error(t, p.Lazy(context.Background(), "SELECT 1", nil, 0, nil))
}
