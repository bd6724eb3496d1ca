// Package classifier implements the fraud model: a small feed-forward
// network (input → 16 ReLU → 8 ReLU → 1 sigmoid) trained once with Adam on
// binary cross-entropy and then used read-only.
package classifier

import (
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"
)

const (
	hiddenUnits1 = 16
	hiddenUnits2 = 8

	// DefaultEpochs is the number of full-batch passes at start-up.
	DefaultEpochs = 10
)

var (
	// ErrInputWidth is returned when a vector does not match the width the
	// model was trained on.
	ErrInputWidth = errors.New("classifier: input width mismatch")
	// ErrEmptyDataset is returned when Train receives no examples.
	ErrEmptyDataset = errors.New("classifier: empty training set")
)

// TrainingError reports a failed training run.
type TrainingError struct {
	Epoch int // 0 when the failure precedes the first epoch
	Err   error
}

func (e *TrainingError) Error() string {
	if e.Epoch == 0 {
		return fmt.Sprintf("training failed: %v", e.Err)
	}
	return fmt.Sprintf("training failed at epoch %d: %v", e.Epoch, e.Err)
}

func (e *TrainingError) Unwrap() error { return e.Err }

// Model is a trained network. It is immutable once returned by Train and
// safe for concurrent Predict calls.
type Model struct {
	id        string
	width     int
	net       *network
	scaler    *scaler
	losses    []float64
	trainedAt time.Time
	seed      uint64
}

// ID identifies this training run.
func (m *Model) ID() string { return m.id }

// InputWidth is the vector length the model accepts.
func (m *Model) InputWidth() int { return m.width }

// Seed returns the seed used for weight initialisation.
func (m *Model) Seed() uint64 { return m.seed }

// TrainedAt is when training completed.
func (m *Model) TrainedAt() time.Time { return m.trainedAt }

// LossHistory returns the mean loss of each epoch, measured before that
// epoch's update.
func (m *Model) LossHistory() []float64 {
	out := make([]float64, len(m.losses))
	copy(out, m.losses)
	return out
}

// Predict returns the fraud probability in [0, 1] for one feature vector.
func (m *Model) Predict(features []float64) (float64, error) {
	if len(features) != m.width {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrInputWidth, len(features), m.width)
	}
	x := mat.NewDense(1, m.width, m.scaler.transform(nil, features))
	caches := m.net.forward(x)
	return caches[len(caches)-1].a.At(0, 0), nil
}
