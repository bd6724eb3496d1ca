package fraud

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/fraudgate/internal/pagination"
)

func newAssessment(id, user string, at time.Time) *Assessment {
	return &Assessment{
		ID:              id,
		UserID:          user,
		TransactionType: "Purchase",
		Amount:          10,
		Probability:     0.2,
		Decision:        DecisionApprove,
		ModelID:         "mdl_test",
		Features:        []float64{1, 2},
		EvaluatedAt:     at,
	}
}

func TestMemoryStore_RecordAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a := newAssessment("fa_1", "u1", time.Now().UTC())

	require.NoError(t, s.Record(ctx, a))

	// Mutating the caller's copy must not leak into the store.
	a.Features[0] = 42

	got, err := s.Get(ctx, "fa_1")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, got.Features)

	got.Features[1] = 42
	again, err := s.Get(ctx, "fa_1")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, again.Features)
}

func TestMemoryStore_GetUnknown(t *testing.T) {
	_, err := NewMemoryStore().Get(context.Background(), "fa_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListByUserNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	// Recorded out of order, as background writers may do.
	for _, i := range []int{2, 0, 4, 1, 3} {
		require.NoError(t, s.Record(ctx, newAssessment(fmt.Sprintf("fa_%d", i), "u1", base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, s.Record(ctx, newAssessment("fa_other", "u2", base)))

	list, err := s.ListByUser(ctx, "u1", nil, 3)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "fa_4", list[0].ID)
	assert.Equal(t, "fa_3", list[1].ID)
	assert.Equal(t, "fa_2", list[2].ID)

	empty, err := s.ListByUser(ctx, "nobody", nil, 3)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryStore_ListByUserCursor(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	at := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	// Identical timestamps fall back to the id for ordering.
	for _, id := range []string{"fa_a", "fa_b", "fa_c"} {
		require.NoError(t, s.Record(ctx, newAssessment(id, "u1", at)))
	}

	list, err := s.ListByUser(ctx, "u1", &pagination.Cursor{At: at, ID: "fa_c"}, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "fa_b", list[0].ID)
	assert.Equal(t, "fa_a", list[1].ID)

	list, err = s.ListByUser(ctx, "u1", &pagination.Cursor{At: at.Add(time.Second), ID: ""}, 10)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}
