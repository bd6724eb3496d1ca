package classifier

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Adam defaults (matching the common Keras/TF.js settings).
const (
	DefaultLearningRate = 0.001
	adamBeta1           = 0.9
	adamBeta2           = 0.999
	adamEpsilon         = 1e-7
)

type moments struct {
	mw, vw *mat.Dense
	mb, vb *mat.VecDense
}

// adam holds first and second moment estimates for every layer.
type adam struct {
	lr    float64
	step  int
	state []moments
}

func newAdam(n *network, lr float64) *adam {
	state := make([]moments, len(n.layers))
	for i, l := range n.layers {
		r, c := l.w.Dims()
		state[i] = moments{
			mw: mat.NewDense(r, c, nil),
			vw: mat.NewDense(r, c, nil),
			mb: mat.NewVecDense(c, nil),
			vb: mat.NewVecDense(c, nil),
		}
	}
	return &adam{lr: lr, state: state}
}

// apply performs one bias-corrected Adam update in place.
func (o *adam) apply(n *network, grads []gradients) {
	o.step++
	t := float64(o.step)
	stepSize := o.lr * math.Sqrt(1-math.Pow(adamBeta2, t)) / (1 - math.Pow(adamBeta1, t))

	for i, l := range n.layers {
		s := o.state[i]
		g := grads[i]

		r, c := l.w.Dims()
		for a := 0; a < r; a++ {
			for b := 0; b < c; b++ {
				gv := g.w.At(a, b)
				m := adamBeta1*s.mw.At(a, b) + (1-adamBeta1)*gv
				v := adamBeta2*s.vw.At(a, b) + (1-adamBeta2)*gv*gv
				s.mw.Set(a, b, m)
				s.vw.Set(a, b, v)
				l.w.Set(a, b, l.w.At(a, b)-stepSize*m/(math.Sqrt(v)+adamEpsilon))
			}
		}
		for j := 0; j < c; j++ {
			gv := g.b.AtVec(j)
			m := adamBeta1*s.mb.AtVec(j) + (1-adamBeta1)*gv
			v := adamBeta2*s.vb.AtVec(j) + (1-adamBeta2)*gv*gv
			s.mb.SetVec(j, m)
			s.vb.SetVec(j, v)
			l.b.SetVec(j, l.b.AtVec(j)-stepSize*m/(math.Sqrt(v)+adamEpsilon))
		}
	}
}
