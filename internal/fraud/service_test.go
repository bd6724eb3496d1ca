package fraud

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/fraudgate/internal/circuitbreaker"
	"github.com/mbd888/fraudgate/internal/classifier"
	"github.com/mbd888/fraudgate/internal/features"
	"github.com/mbd888/fraudgate/internal/pagination"
)

func sampleTransaction() *features.Transaction {
	return &features.Transaction{
		Amount:                      1500,
		UserID:                      "user-42",
		TransactionType:             "Purchase",
		Time:                        "2024-01-15T10:30:00Z",
		Location:                    "New York",
		CurrentDevice:               "mobile",
		CurrentDeviceID:             "device-123",
		LastDevice:                  "desktop",
		LastDeviceID:                "device-456",
		LastTransactionLocation:     "Boston",
		LastTransactionAmount:       100,
		UserAge:                     35,
		AccountBalance:              5000,
		TransactionsInLast24h:       1,
		TimeSinceLastTransaction:    7200,
		TransactionAmountDifference: 1400,
	}
}

// constantDataset labels a handful of extracted transactions with the same
// label, so a model trained on it scores those transactions confidently.
func constantDataset(t *testing.T, label float64) func() []classifier.Example {
	t.Helper()
	ex := features.NewExtractor()
	var data []classifier.Example
	for i, amount := range []float64{1500, 20, 300, 7000, 55} {
		tx := sampleTransaction()
		tx.Amount = amount
		tx.AccountBalance = amount * 3
		v, err := ex.Extract(tx)
		require.NoError(t, err)
		data = append(data, classifier.Example{ID: string(rune('a' + i)), Features: v, Label: label})
	}
	return func() []classifier.Example { return data }
}

// newTrainedService returns a ready service whose model approves (label 0)
// or blocks (label 1) the sample transaction.
func newTrainedService(t *testing.T, label float64, opts ...Option) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	opts = append([]Option{
		withDataset(constantDataset(t, label)),
		WithTrainingOptions(classifier.WithSeed(1), classifier.WithEpochs(200), classifier.WithLearningRate(0.05)),
	}, opts...)
	svc := NewService(store, opts...)
	require.NoError(t, svc.InitializeModel(context.Background()))
	return svc, store
}

type recordingPublisher struct {
	mu    sync.Mutex
	calls int
	got   []*Assessment
	err   error
}

func (p *recordingPublisher) Publish(_ context.Context, a *Assessment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return p.err
	}
	p.got = append(p.got, a)
	return nil
}

func (p *recordingPublisher) snapshot() (int, []*Assessment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls, append([]*Assessment(nil), p.got...)
}

type failingStore struct{ *MemoryStore }

func (failingStore) Record(context.Context, *Assessment) error { return errors.New("db down") }

func TestService_NotReadyBeforeInitialize(t *testing.T) {
	svc := NewService(nil)

	assert.False(t, svc.Ready())
	assert.Nil(t, svc.Model())

	a, err := svc.Score(context.Background(), sampleTransaction())
	assert.Nil(t, a)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestService_ScoreWithBootstrapModel(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, WithTrainingOptions(classifier.WithSeed(7)))
	require.NoError(t, svc.InitializeModel(context.Background()))
	require.True(t, svc.Ready())
	assert.Len(t, svc.Model().LossHistory(), classifier.DefaultEpochs)

	a, err := svc.Score(context.Background(), sampleTransaction())
	require.NoError(t, err)

	assert.Contains(t, a.ID, "fa_")
	assert.Equal(t, "user-42", a.UserID)
	assert.Equal(t, "Purchase", a.TransactionType)
	assert.Equal(t, 1500.0, a.Amount)
	assert.Equal(t, svc.Model().ID(), a.ModelID)
	assert.Len(t, a.Features, features.Width)
	assert.GreaterOrEqual(t, a.Probability, 0.0)
	assert.LessOrEqual(t, a.Probability, 1.0)
	assert.Equal(t, Decide(a.Probability), a.Decision)
	assert.WithinDuration(t, time.Now(), a.EvaluatedAt, 5*time.Second)

	svc.Flush()
	stored, err := svc.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, a, stored)
}

func TestService_ScoreIsIdempotent(t *testing.T) {
	svc, _ := newTrainedService(t, 1)

	first, err := svc.Score(context.Background(), sampleTransaction())
	require.NoError(t, err)
	second, err := svc.Score(context.Background(), sampleTransaction())
	require.NoError(t, err)

	assert.Equal(t, first.Probability, second.Probability)
	assert.Equal(t, first.Decision, second.Decision)
	assert.Equal(t, first.Features, second.Features)
	assert.NotEqual(t, first.ID, second.ID)
	svc.Flush()
}

func TestService_TrainedDecisions(t *testing.T) {
	blocker, _ := newTrainedService(t, 1)
	a, err := blocker.Score(context.Background(), sampleTransaction())
	require.NoError(t, err)
	assert.Equal(t, DecisionBlock, a.Decision)
	assert.Greater(t, a.Probability, 0.5)

	approver, _ := newTrainedService(t, 0)
	a, err = approver.Score(context.Background(), sampleTransaction())
	require.NoError(t, err)
	assert.Equal(t, DecisionApprove, a.Decision)
	assert.LessOrEqual(t, a.Probability, 0.5)

	blocker.Flush()
	approver.Flush()
}

func TestService_MalformedTimeIsRejected(t *testing.T) {
	svc, store := newTrainedService(t, 0)

	tx := sampleTransaction()
	tx.Time = "yesterday at noon"
	a, err := svc.Score(context.Background(), tx)
	require.Error(t, err)
	assert.Nil(t, a)

	var extractErr *features.ExtractionError
	require.True(t, errors.As(err, &extractErr))
	assert.Equal(t, "time", extractErr.Field)

	svc.Flush()
	list, err := store.ListByUser(context.Background(), "user-42", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, list, "no assessment for a rejected transaction")
}

func TestService_InitializeOnlyOnce(t *testing.T) {
	svc, _ := newTrainedService(t, 1)
	first := svc.Model()

	err := svc.InitializeModel(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
	assert.Same(t, first, svc.Model(), "serving model is never replaced")
	assert.True(t, svc.Ready())
}

func TestService_InitializeRejectsWidthMismatch(t *testing.T) {
	svc := NewService(nil, withDataset(func() []classifier.Example {
		return []classifier.Example{{ID: "short", Features: []float64{1, 2, 3}, Label: 1}}
	}))

	err := svc.InitializeModel(context.Background())
	require.Error(t, err)

	var startupErr *StartupTrainingError
	require.True(t, errors.As(err, &startupErr))
	assert.ErrorIs(t, err, classifier.ErrInputWidth)
	assert.False(t, svc.Ready())
}

func TestService_InitializeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := NewService(nil)
	err := svc.InitializeModel(ctx)
	require.Error(t, err)

	var startupErr *StartupTrainingError
	var trainErr *classifier.TrainingError
	assert.True(t, errors.As(err, &startupErr))
	assert.True(t, errors.As(err, &trainErr))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, svc.Ready())
}

func TestService_PublishesAssessments(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _ := newTrainedService(t, 1, WithPublisher("test", pub))

	a, err := svc.Score(context.Background(), sampleTransaction())
	require.NoError(t, err)
	svc.Flush()

	calls, got := pub.snapshot()
	assert.Equal(t, 1, calls)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)
	assert.NotSame(t, a, got[0])
}

func TestService_SinkFailuresStayOffRequestPath(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	store := failingStore{MemoryStore: NewMemoryStore()}
	svc := NewService(store,
		withDataset(constantDataset(t, 0)),
		WithTrainingOptions(classifier.WithSeed(1)),
		WithPublisher("events", pub),
		WithBreaker(circuitbreaker.New(2, time.Hour)),
	)
	require.NoError(t, svc.InitializeModel(context.Background()))

	for i := 0; i < 4; i++ {
		_, err := svc.Score(context.Background(), sampleTransaction())
		require.NoError(t, err)
		svc.Flush()
	}

	calls, _ := pub.snapshot()
	assert.Equal(t, 2, calls, "breaker stops calling a failing publisher")
}

func TestService_ConcurrentScoring(t *testing.T) {
	svc, store := newTrainedService(t, 1)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Score(context.Background(), sampleTransaction()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	svc.Flush()
	list, err := store.ListByUser(context.Background(), "user-42", nil, 100)
	require.NoError(t, err)
	assert.Len(t, list, 16)
}

func TestService_ListByUserPassesCursor(t *testing.T) {
	svc, _ := newTrainedService(t, 0)
	for i := 0; i < 3; i++ {
		_, err := svc.Score(context.Background(), sampleTransaction())
		require.NoError(t, err)
	}
	svc.Flush()

	first, err := svc.ListByUser(context.Background(), "user-42", nil, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)

	last := first[1]
	rest, err := svc.ListByUser(context.Background(), "user-42",
		&pagination.Cursor{At: last.EvaluatedAt, ID: last.ID}, 10)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}
