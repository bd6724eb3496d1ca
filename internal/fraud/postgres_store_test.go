package fraud

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/fraudgate/internal/pagination"
	"github.com/mbd888/fraudgate/internal/testutil"
)

func TestPostgresStore_RecordGetList(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	s := NewPostgresStore(db)
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx), "already migrated schema is a no-op")

	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"fa_pg1", "fa_pg2", "fa_pg3"} {
		a := newAssessment(id, "u-pg", base.Add(time.Duration(i)*time.Minute))
		if i == 2 {
			a.Decision = DecisionBlock
			a.Probability = 0.93
		}
		require.NoError(t, s.Record(ctx, a))
	}

	got, err := s.Get(ctx, "fa_pg3")
	require.NoError(t, err)
	assert.Equal(t, DecisionBlock, got.Decision)
	assert.InDelta(t, 0.93, got.Probability, 1e-12)
	assert.Equal(t, []float64{1, 2}, got.Features)
	assert.True(t, base.Add(2*time.Minute).Equal(got.EvaluatedAt))

	_, err = s.Get(ctx, "fa_missing")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := s.ListByUser(ctx, "u-pg", nil, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "fa_pg3", list[0].ID)
	assert.Equal(t, "fa_pg2", list[1].ID)

	rest, err := s.ListByUser(ctx, "u-pg", &pagination.Cursor{At: list[1].EvaluatedAt, ID: list[1].ID}, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "fa_pg1", rest[0].ID)
}

func TestPostgresStore_RejectsInvalidDecision(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	a := newAssessment("fa_bad", "u-pg", time.Now().UTC())
	a.Decision = "maybe"
	assert.Error(t, NewPostgresStore(db).Record(context.Background(), a))
}
