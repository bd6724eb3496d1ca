package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/mbd888/fraudgate/internal/idgen"
	"gonum.org/v1/gonum/mat"
)

// clipEpsilon bounds predictions away from 0 and 1 inside the loss.
const clipEpsilon = 1e-7

type trainConfig struct {
	seed   uint64
	epochs int
	lr     float64
}

// Option tunes a training run. Production start-up uses the defaults.
type Option func(*trainConfig)

// WithSeed fixes weight initialisation. Zero picks a random seed.
func WithSeed(seed uint64) Option {
	return func(c *trainConfig) { c.seed = seed }
}

// WithEpochs overrides DefaultEpochs.
func WithEpochs(n int) Option {
	return func(c *trainConfig) {
		if n > 0 {
			c.epochs = n
		}
	}
}

// WithLearningRate overrides DefaultLearningRate.
func WithLearningRate(lr float64) Option {
	return func(c *trainConfig) {
		if lr > 0 {
			c.lr = lr
		}
	}
}

// Train fits a new model on examples using full-batch Adam. It blocks until
// every epoch has run or ctx is cancelled.
func Train(ctx context.Context, examples []Example, opts ...Option) (*Model, error) {
	cfg := trainConfig{epochs: DefaultEpochs, lr: DefaultLearningRate}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.seed == 0 {
		cfg.seed = rand.Uint64()
	}

	y, rows, err := labelled(examples)
	if err != nil {
		return nil, &TrainingError{Err: err}
	}
	width := len(examples[0].Features)

	sc := fitScaler(rows, width)
	scaled := mat.NewDense(len(rows), width, nil)
	for i, r := range rows {
		scaled.SetRow(i, sc.transform(nil, r))
	}

	rng := rand.New(rand.NewPCG(cfg.seed, cfg.seed^0x9e3779b97f4a7c15))
	net := newNetwork(width, rng)
	optimizer := newAdam(net, cfg.lr)

	losses := make([]float64, 0, cfg.epochs)
	for epoch := 1; epoch <= cfg.epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, &TrainingError{Epoch: epoch, Err: err}
		}

		caches := net.forward(scaled)
		loss := crossEntropy(caches[len(caches)-1].a, y)
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return nil, &TrainingError{Epoch: epoch, Err: fmt.Errorf("loss diverged: %v", loss)}
		}
		losses = append(losses, loss)

		optimizer.apply(net, net.backward(scaled, y, caches))
	}

	return &Model{
		id:        idgen.WithPrefix("mdl_"),
		width:     width,
		net:       net,
		scaler:    sc,
		losses:    losses,
		trainedAt: time.Now(),
		seed:      cfg.seed,
	}, nil
}

// labelled validates examples and splits them into feature rows and a label
// vector.
func labelled(examples []Example) (*mat.VecDense, [][]float64, error) {
	if len(examples) == 0 {
		return nil, nil, ErrEmptyDataset
	}
	width := len(examples[0].Features)
	if width == 0 {
		return nil, nil, errors.New("examples have no features")
	}

	y := mat.NewVecDense(len(examples), nil)
	rows := make([][]float64, len(examples))
	for i, ex := range examples {
		if len(ex.Features) != width {
			return nil, nil, fmt.Errorf("%w: example %s has %d features, want %d",
				ErrInputWidth, ex.ID, len(ex.Features), width)
		}
		if ex.Label != 0 && ex.Label != 1 {
			return nil, nil, fmt.Errorf("example %s: label %v is not 0 or 1", ex.ID, ex.Label)
		}
		for _, v := range ex.Features {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, nil, fmt.Errorf("example %s: non-finite feature", ex.ID)
			}
		}
		y.SetVec(i, ex.Label)
		rows[i] = ex.Features
	}
	return y, rows, nil
}

// crossEntropy is the mean binary cross-entropy of predictions p (rows × 1)
// against labels y.
func crossEntropy(p *mat.Dense, y *mat.VecDense) float64 {
	rows, _ := p.Dims()
	var sum float64
	for i := 0; i < rows; i++ {
		pi := math.Min(math.Max(p.At(i, 0), clipEpsilon), 1-clipEpsilon)
		yi := y.AtVec(i)
		sum -= yi*math.Log(pi) + (1-yi)*math.Log(1-pi)
	}
	return sum / float64(rows)
}
