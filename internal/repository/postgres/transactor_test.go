package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubTx satisfies pgx.Tx just enough to observe commit/rollback calls.
type stubTx struct {
	commits   int
	rollbacks int
}

func (s *stubTx) Begin(context.Context) (pgx.Tx, error) { return s, nil }

func (s *stubTx) Commit(context.Context) error {
	s.commits++
	return nil
}

func (s *stubTx) Rollback(context.Context) error {
	s.rollbacks++
	return nil
}

func (s *stubTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}

func (s *stubTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }

func (s *stubTx) LargeObjects() pgx.LargeObjects { return pgx.LargeObjects{} }

func (s *stubTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}

func (s *stubTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (s *stubTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }

func (s *stubTx) QueryRow(context.Context, string, ...any) pgx.Row { return nil }

func (s *stubTx) Conn() *pgx.Conn { return nil }

func TestWithTx_NestedJoinsOuterTx(t *testing.T) {
	outer := &stubTx{}
	tr := NewTransactor(&DB{}, zap.NewNop())
	ctx := context.WithValue(context.Background(), txInjector{}, pgx.Tx(outer))

	var sawOuter bool
	err := tr.WithTx(ctx, func(inner context.Context) error {
		tx, err := extractTx(inner)
		sawOuter = err == nil && tx == pgx.Tx(outer)
		return nil
	})
	require.NoError(t, err)
	require.True(t, sawOuter)

	// The outer WithTx owns the lifecycle; the nested one must not end it.
	require.Zero(t, outer.commits)
	require.Zero(t, outer.rollbacks)
}

func TestWithTx_NestedErrorLeavesOuterTxOpen(t *testing.T) {
	outer := &stubTx{}
	tr := NewTransactor(&DB{}, zap.NewNop())
	ctx := context.WithValue(context.Background(), txInjector{}, pgx.Tx(outer))

	err := tr.WithTx(ctx, func(context.Context) error {
		return errors.New("boom")
	})
	require.Error(t, err)
	require.Zero(t, outer.commits)
	require.Zero(t, outer.rollbacks)
}
