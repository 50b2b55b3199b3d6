package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nlowe-sp/spindex/internal/chainmodel"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleBlock(height uint64) Block {
	return Block{
		Height: height,
		Hash:   "deadbeef",
		Transactions: []IndexedTransaction{
			{
				TxID:           "txid1",
				Scalar:         "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798",
				LowestOutpoint: chainmodel.OutPoint{Index: 0},
				Outputs: []IndexedOutput{
					{Vout: 0, Value: 1000, ScriptPubKey: "5120aa"},
				},
			},
		},
	}
}

func TestSyncedHeightNotFoundWhenEmpty(t *testing.T) {
	s := openTestStore(t)
	_, err := s.SyncedHeight(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAppendThenQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, sampleBlock(100)))

	height, err := s.SyncedHeight(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 100, height)

	scalars, err := s.LatestScalars(ctx)
	require.NoError(t, err)
	require.Len(t, scalars, 1)

	txs, err := s.LatestTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Len(t, txs[0].Outputs, 1)

	tx, err := s.TransactionByTxID(ctx, "txid1")
	require.NoError(t, err)
	require.Equal(t, "txid1", tx.TxID)
}

func TestAppendRejectsOutOfOrderHeight(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, sampleBlock(100)))
	err := s.Append(ctx, sampleBlock(102))
	require.Error(t, err)
}

func TestScalarsAtHeightDisambiguatesNotFoundFromEmpty(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	empty := Block{Height: 5, Hash: "h5"}
	require.NoError(t, s.Append(ctx, empty))

	scalars, err := s.ScalarsAtHeight(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, scalars)
	require.Empty(t, scalars)

	_, err = s.ScalarsAtHeight(ctx, 999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAppendPublishesAfterCommit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sub := s.Subscribe()
	defer sub.Unsubscribe()

	require.NoError(t, s.Append(ctx, sampleBlock(1)))

	select {
	case b := <-sub.C():
		require.EqualValues(t, 1, b.Height)
	default:
		t.Fatal("expected a published block after successful append")
	}
}

func TestScalarByTxIDNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.ScalarByTxID(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}
