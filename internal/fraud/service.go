package fraud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/mbd888/fraudgate/internal/circuitbreaker"
	"github.com/mbd888/fraudgate/internal/classifier"
	"github.com/mbd888/fraudgate/internal/features"
	"github.com/mbd888/fraudgate/internal/idgen"
	"github.com/mbd888/fraudgate/internal/logging"
	"github.com/mbd888/fraudgate/internal/metrics"
	"github.com/mbd888/fraudgate/internal/pagination"
	"github.com/mbd888/fraudgate/internal/traces"
)

const (
	storeSink   = "store"
	sinkTimeout = 5 * time.Second
)

type namedPublisher struct {
	name string
	pub  Publisher
}

// Service owns the trained model and scores transactions against it.
type Service struct {
	model      atomic.Pointer[classifier.Model]
	extractor  *features.Extractor
	store      Store
	publishers []namedPublisher
	breaker    *circuitbreaker.Breaker
	trainOpts  []classifier.Option
	dataset    func() []classifier.Example
	logger     *slog.Logger
	pending    sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithExtractor replaces the default UTC extractor.
func WithExtractor(e *features.Extractor) Option {
	return func(s *Service) { s.extractor = e }
}

// WithPublisher adds a sink that receives every assessment. name labels the
// sink in logs, metrics, and the circuit breaker.
func WithPublisher(name string, p Publisher) Option {
	return func(s *Service) { s.publishers = append(s.publishers, namedPublisher{name: name, pub: p}) }
}

// WithTrainingOptions passes options through to classifier.Train.
func WithTrainingOptions(opts ...classifier.Option) Option {
	return func(s *Service) { s.trainOpts = append(s.trainOpts, opts...) }
}

// WithBreaker replaces the default sink circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(s *Service) { s.breaker = b }
}

// WithLogger sets the logger used for background sink failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// withDataset overrides the bootstrap dataset in tests.
func withDataset(fn func() []classifier.Example) Option {
	return func(s *Service) { s.dataset = fn }
}

// NewService creates a service recording assessments to store. A nil store
// selects an in-memory one. The service refuses to score until
// InitializeModel succeeds.
func NewService(store Store, opts ...Option) *Service {
	if store == nil {
		store = NewMemoryStore()
	}
	s := &Service{
		extractor: features.NewExtractor(),
		store:     store,
		breaker:   circuitbreaker.New(5, 30*time.Second),
		dataset:   classifier.Bootstrap,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitializeModel trains the classifier on the bootstrap dataset and makes it
// available to Score. Any failure is a *StartupTrainingError. The model is
// built once: later calls return ErrAlreadyInitialized and keep serving it.
func (s *Service) InitializeModel(ctx context.Context) error {
	if s.Ready() {
		return ErrAlreadyInitialized
	}
	ctx, span := traces.StartSpan(ctx, "classifier.train")
	defer span.End()

	data := s.dataset()
	for _, ex := range data {
		if len(ex.Features) != features.Width {
			err := &StartupTrainingError{Err: fmt.Errorf("%w: bootstrap row %s has %d columns, extractor produces %d",
				classifier.ErrInputWidth, ex.ID, len(ex.Features), features.Width)}
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}

	start := time.Now()
	model, err := classifier.Train(ctx, data, s.trainOpts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "training failed")
		return &StartupTrainingError{Err: err}
	}
	elapsed := time.Since(start)

	losses := model.LossHistory()
	final := losses[len(losses)-1]
	span.SetAttributes(traces.ModelID(model.ID()), traces.Epochs(len(losses)))

	if !s.model.CompareAndSwap(nil, model) {
		return ErrAlreadyInitialized
	}
	metrics.ModelTrainingSeconds.Set(elapsed.Seconds())
	metrics.ModelTrainingLoss.Set(final)
	metrics.ModelReady.Set(1)

	logging.L(ctx).Info("model trained",
		"model_id", model.ID(),
		"epochs", len(losses),
		"initial_loss", losses[0],
		"final_loss", final,
		"seed", model.Seed(),
		"duration", elapsed,
	)
	return nil
}

// Ready reports whether a trained model is available.
func (s *Service) Ready() bool {
	return s.model.Load() != nil
}

// Model returns the serving model, or nil before InitializeModel.
func (s *Service) Model() *classifier.Model {
	return s.model.Load()
}

// Score extracts features from tx, predicts its fraud probability, and
// returns the resulting assessment. The assessment is recorded and
// published in the background; those failures never reach the caller.
func (s *Service) Score(ctx context.Context, tx *features.Transaction) (*Assessment, error) {
	model := s.model.Load()
	if model == nil {
		return nil, ErrNotReady
	}

	ctx, span := traces.StartSpan(ctx, "fraud.score")
	defer span.End()

	_, extractSpan := traces.StartSpan(ctx, "fraud.extract")
	vec, err := s.extractor.Extract(tx)
	extractSpan.End()
	if err != nil {
		metrics.ExtractionErrorsTotal.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "extraction failed")
		return nil, err
	}

	p, err := model.Predict(vec)
	if err != nil {
		span.SetStatus(codes.Error, "prediction failed")
		return nil, fmt.Errorf("predict: %w", err)
	}
	decision := Decide(p)

	a := &Assessment{
		ID:              idgen.WithPrefix("fa_"),
		UserID:          tx.UserID,
		TransactionType: tx.TransactionType,
		Amount:          tx.Amount,
		Probability:     p,
		Decision:        decision,
		ModelID:         model.ID(),
		Features:        vec,
		EvaluatedAt:     time.Now().UTC().Truncate(time.Microsecond),
	}

	span.SetAttributes(
		traces.UserID(tx.UserID),
		traces.TransactionType(tx.TransactionType),
		traces.Decision(string(decision)),
		traces.Probability(p),
		traces.ModelID(model.ID()),
	)
	metrics.DecisionsTotal.WithLabelValues(string(decision)).Inc()
	metrics.FraudProbability.Observe(p)

	s.dispatch(a.clone())
	return a, nil
}

// Get returns a recorded assessment.
func (s *Service) Get(ctx context.Context, id string) (*Assessment, error) {
	return s.store.Get(ctx, id)
}

// ListByUser returns a user's assessments newest first.
func (s *Service) ListByUser(ctx context.Context, userID string, cursor *pagination.Cursor, limit int) ([]*Assessment, error) {
	return s.store.ListByUser(ctx, userID, cursor, limit)
}

// Flush blocks until every background write started so far has finished.
// Call it after traffic has stopped.
func (s *Service) Flush() {
	s.pending.Wait()
}

// dispatch writes a to the store and every publisher off the request path.
func (s *Service) dispatch(a *Assessment) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		defer cancel()

		s.deliver(storeSink, a.ID, func() error { return s.store.Record(ctx, a) })
		for _, p := range s.publishers {
			s.deliver(p.name, a.ID, func() error { return p.pub.Publish(ctx, a) })
		}
	}()
}

func (s *Service) deliver(sink, assessmentID string, fn func() error) {
	err := s.breaker.Execute(sink, fn)
	if err == nil {
		return
	}
	metrics.AssessmentsDroppedTotal.WithLabelValues(sink).Inc()
	if errors.Is(err, circuitbreaker.ErrOpen) {
		s.logger.Debug("sink circuit open, assessment dropped", "sink", sink, "assessment_id", assessmentID)
		return
	}
	s.logger.Warn("failed to deliver assessment", "sink", sink, "assessment_id", assessmentID, "error", err)
}
