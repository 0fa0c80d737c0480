package regression

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// MLP is a one hidden layer ReLU network trained with Adam on mean squared error.
type MLP struct {
	Hidden       int
	Epochs       int
	BatchSize    int
	LearningRate float64
}

// Name returns the registry name
func (m *MLP) Name() string { return "mlp" }

// Fit trains the network on shuffled mini-batches. Weights are Glorot-uniform
// initialized from seed.
func (m *MLP) Fit(x [][]float64, y []float64, seed int64) (Fitted, error) {
	n, d, err := checkShape(x, y)
	if err != nil {
		return nil, err
	}
	hidden := max(m.Hidden, 1)
	batch := max(m.BatchSize, 1)
	lr := m.LearningRate
	if lr <= 0 {
		lr = 0.001
	}

	rng := rand.New(rand.NewSource(seed))
	net := newNetwork(max(d, 1), hidden, rng)
	opt := newAdam(lr, len(net.w1.RawMatrix().Data), hidden, hidden, 1)

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	for epoch := 0; epoch < max(m.Epochs, 1); epoch++ {
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
		for start := 0; start < n; start += batch {
			end := min(start+batch, n)
			xb, yb := net.batch(x, y, order[start:end])
			g := net.gradients(xb, yb)
			opt.step(
				[][]float64{net.w1.RawMatrix().Data, net.b1, net.w2, net.b2[:]},
				[][]float64{g.w1, g.b1, g.w2, {g.b2}},
			)
		}
	}

	return &mlpFit{net: net, features: d}, nil
}

type network struct {
	inputs int
	w1     *mat.Dense // inputs x hidden
	b1     []float64
	w2     []float64
	b2     [1]float64
}

func newNetwork(inputs, hidden int, rng *rand.Rand) *network {
	glorot := func(fanIn, fanOut int) float64 {
		limit := math.Sqrt(6 / float64(fanIn+fanOut))
		return (rng.Float64()*2 - 1) * limit
	}

	w1 := make([]float64, inputs*hidden)
	for i := range w1 {
		w1[i] = glorot(inputs, hidden)
	}
	w2 := make([]float64, hidden)
	for i := range w2 {
		w2[i] = glorot(hidden, 1)
	}
	return &network{
		inputs: inputs,
		w1:     mat.NewDense(inputs, hidden, w1),
		b1:     make([]float64, hidden),
		w2:     w2,
	}
}

// batch copies the selected rows into a dense matrix. Zero-feature inputs
// become a single constant zero column.
func (n *network) batch(x [][]float64, y []float64, rows []int) (*mat.Dense, []float64) {
	xb := mat.NewDense(len(rows), n.inputs, nil)
	yb := make([]float64, len(rows))
	for i, r := range rows {
		for j, v := range x[r] {
			xb.Set(i, j, v)
		}
		yb[i] = y[r]
	}
	return xb, yb
}

// forward returns the pre-activations and the network output.
func (n *network) forward(xb *mat.Dense) (*mat.Dense, []float64) {
	rows, _ := xb.Dims()
	_, hidden := n.w1.Dims()

	z := mat.NewDense(rows, hidden, nil)
	z.Mul(xb, n.w1)
	out := make([]float64, rows)
	for i := 0; i < rows; i++ {
		sum := n.b2[0]
		for j := 0; j < hidden; j++ {
			v := z.At(i, j) + n.b1[j]
			z.Set(i, j, v)
			if v > 0 {
				sum += v * n.w2[j]
			}
		}
		out[i] = sum
	}
	return z, out
}

type gradients struct {
	w1 []float64
	b1 []float64
	w2 []float64
	b2 float64
}

func (n *network) gradients(xb *mat.Dense, yb []float64) gradients {
	z, out := n.forward(xb)
	rows, hidden := z.Dims()

	g := gradients{b1: make([]float64, hidden), w2: make([]float64, hidden)}
	dz := mat.NewDense(rows, hidden, nil)
	for i := 0; i < rows; i++ {
		dOut := 2 * (out[i] - yb[i]) / float64(rows)
		g.b2 += dOut
		for j := 0; j < hidden; j++ {
			v := z.At(i, j)
			if v <= 0 {
				continue
			}
			g.w2[j] += dOut * v
			dv := dOut * n.w2[j]
			dz.Set(i, j, dv)
			g.b1[j] += dv
		}
	}

	var dw1 mat.Dense
	dw1.Mul(xb.T(), dz)
	g.w1 = dw1.RawMatrix().Data
	return g
}

// adam keeps first and second moment estimates per parameter group.
type adam struct {
	lr, beta1, beta2, eps float64
	t                     int
	m, v                  [][]float64
}

func newAdam(lr float64, sizes ...int) *adam {
	a := &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-7}
	for _, size := range sizes {
		a.m = append(a.m, make([]float64, size))
		a.v = append(a.v, make([]float64, size))
	}
	return a
}

func (a *adam) step(params, grads [][]float64) {
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	for k, p := range params {
		m, v, g := a.m[k], a.v[k], grads[k]
		for i := range p {
			m[i] = a.beta1*m[i] + (1-a.beta1)*g[i]
			v[i] = a.beta2*v[i] + (1-a.beta2)*g[i]*g[i]
			p[i] -= a.lr * (m[i] / c1) / (math.Sqrt(v[i]/c2) + a.eps)
		}
	}
}

type mlpFit struct {
	net      *network
	features int
}

func (f *mlpFit) Predict(x [][]float64) ([]float64, error) {
	if err := checkWidth(x, f.features); err != nil {
		return nil, err
	}
	if len(x) == 0 {
		return []float64{}, nil
	}

	rows := make([]int, len(x))
	for i := range rows {
		rows[i] = i
	}
	xb, _ := f.net.batch(x, make([]float64, len(x)), rows)
	_, out := f.net.forward(xb)
	return out, nil
}
