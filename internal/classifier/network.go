package classifier

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

type activation int

const (
	relu activation = iota
	sigmoid
)

// dense is a fully connected layer: out = act(in·W + b).
type dense struct {
	w   *mat.Dense    // in × out
	b   *mat.VecDense // out
	act activation
}

func newDense(in, out int, act activation, rng *rand.Rand) *dense {
	// He-uniform for ReLU, Glorot-uniform for the sigmoid head.
	limit := math.Sqrt(6.0 / float64(in))
	if act == sigmoid {
		limit = math.Sqrt(6.0 / float64(in+out))
	}
	data := make([]float64, in*out)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * limit
	}
	return &dense{
		w:   mat.NewDense(in, out, data),
		b:   mat.NewVecDense(out, nil),
		act: act,
	}
}

// layerCache keeps the pre- and post-activation outputs of one layer for
// backpropagation.
type layerCache struct {
	z *mat.Dense
	a *mat.Dense
}

// forward runs x (rows × in) through the layer. The layer is only read.
func (l *dense) forward(x mat.Matrix) layerCache {
	var z mat.Dense
	z.Mul(x, l.w)
	z.Apply(func(_, j int, v float64) float64 { return v + l.b.AtVec(j) }, &z)

	var a mat.Dense
	switch l.act {
	case relu:
		a.Apply(func(_, _ int, v float64) float64 { return math.Max(0, v) }, &z)
	case sigmoid:
		a.Apply(func(_, _ int, v float64) float64 { return logistic(v) }, &z)
	}
	return layerCache{z: &z, a: &a}
}

// logistic is a numerically stable sigmoid.
func logistic(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// gradients of one layer's parameters.
type gradients struct {
	w *mat.Dense
	b *mat.VecDense
}

// network is the fixed Width → 16 → 8 → 1 stack.
type network struct {
	layers []*dense
}

func newNetwork(inputWidth int, rng *rand.Rand) *network {
	return &network{layers: []*dense{
		newDense(inputWidth, hiddenUnits1, relu, rng),
		newDense(hiddenUnits1, hiddenUnits2, relu, rng),
		newDense(hiddenUnits2, 1, sigmoid, rng),
	}}
}

// forward returns the per-layer caches; the last cache's a is the
// probability column.
func (n *network) forward(x mat.Matrix) []layerCache {
	caches := make([]layerCache, len(n.layers))
	in := x
	for i, l := range n.layers {
		caches[i] = l.forward(in)
		in = caches[i].a
	}
	return caches
}

// backward computes mean binary cross-entropy gradients for a batch. The
// sigmoid head lets the output delta collapse to (p - y) / rows.
func (n *network) backward(x mat.Matrix, y *mat.VecDense, caches []layerCache) []gradients {
	rows, _ := x.Dims()
	out := caches[len(caches)-1].a

	delta := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		delta.Set(i, 0, (out.At(i, 0)-y.AtVec(i))/float64(rows))
	}

	grads := make([]gradients, len(n.layers))
	for li := len(n.layers) - 1; li >= 0; li-- {
		var input mat.Matrix = x
		if li > 0 {
			input = caches[li-1].a
		}

		var gw mat.Dense
		gw.Mul(input.T(), delta)

		_, outCols := delta.Dims()
		gb := mat.NewVecDense(outCols, nil)
		for j := 0; j < outCols; j++ {
			gb.SetVec(j, mat.Sum(delta.ColView(j)))
		}
		grads[li] = gradients{w: &gw, b: gb}

		if li == 0 {
			break
		}

		var prev mat.Dense
		prev.Mul(delta, n.layers[li].w.T())
		z := caches[li-1].z
		prev.Apply(func(i, j int, v float64) float64 {
			if z.At(i, j) > 0 {
				return v
			}
			return 0
		}, &prev)
		delta = &prev
	}
	return grads
}
