package layers

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/samuelsimko/scaling-mlps/tensor"
)

// module is the executable form of a LayerSpec. Forward caches whatever
// backward needs; backward accumulates parameter gradients and returns
// the gradient with respect to the module input.
type module interface {
	forward(x *tensor.Tensor) (*tensor.Tensor, error)
	backward(grad *tensor.Tensor) (*tensor.Tensor, error)
	parameters() []namedParam
}

type namedParam struct {
	name string
	t    *tensor.Tensor
}

func newParam(t *tensor.Tensor) *tensor.Tensor {
	t.SetRequiresGrad(true)
	return t
}

func buildModules(specs []LayerSpec, rng *rand.Rand) ([]module, error) {
	modules := make([]module, 0, len(specs))
	for _, spec := range specs {
		m, err := buildModule(spec, rng)
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, nil
}

func buildModule(spec LayerSpec, rng *rand.Rand) (module, error) {
	switch spec.Type {
	case Dense:
		in := getIntParam(spec.Parameters, "input_size", 0)
		out := getIntParam(spec.Parameters, "output_size", 0)
		return newLinear(spec.Name, in, out, getBoolParam(spec.Parameters, "use_bias", true), rng)
	case LayerNorm:
		return newLayerNorm(spec.Name, spec.InputShape[1], getFloatParam(spec.Parameters, "eps", 1e-5))
	case GELU:
		return &gelu{}, nil
	case ReLU:
		return &relu{}, nil
	case Residual:
		body, err := buildModules(spec.Children, rng)
		if err != nil {
			return nil, err
		}
		return &residual{body: body}, nil
	default:
		return nil, fmt.Errorf("unsupported layer type: %s", spec.Type.String())
	}
}

// linear computes x @ W + b with W stored as [in, out].
type linear struct {
	name   string
	weight *tensor.Tensor
	bias   *tensor.Tensor
	input  *tensor.Tensor
}

func newLinear(name string, in, out int, useBias bool, rng *rand.Rand) (*linear, error) {
	if in <= 0 || out <= 0 {
		return nil, fmt.Errorf("dense layer %s: invalid size %dx%d", name, in, out)
	}
	// U(-1/sqrt(in), 1/sqrt(in)), the usual fan-in initialisation.
	bound := 1 / math.Sqrt(float64(in))

	w, err := tensor.RandUniform([]int{in, out}, bound, rng)
	if err != nil {
		return nil, err
	}
	l := &linear{name: name, weight: newParam(w)}
	if useBias {
		b, err := tensor.RandUniform([]int{out}, bound, rng)
		if err != nil {
			return nil, err
		}
		l.bias = newParam(b)
	}
	return l, nil
}

func (l *linear) forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	y, err := tensor.MatMul(x, l.weight)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.name, err)
	}
	if l.bias != nil {
		if err := tensor.AddRowVector(y, l.bias); err != nil {
			return nil, fmt.Errorf("%s: %w", l.name, err)
		}
	}
	l.input = x
	return y, nil
}

func (l *linear) backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if l.input == nil {
		return nil, fmt.Errorf("%s: backward called before forward", l.name)
	}
	dw, err := tensor.MatMulTransA(l.input, grad)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.name, err)
	}
	if err := l.weight.AccumulateGrad(dw.Data); err != nil {
		return nil, fmt.Errorf("%s: %w", l.name, err)
	}
	if l.bias != nil {
		db, err := tensor.SumRows(grad)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", l.name, err)
		}
		if err := l.bias.AccumulateGrad(db); err != nil {
			return nil, fmt.Errorf("%s: %w", l.name, err)
		}
	}
	return tensor.MatMulTransB(grad, l.weight)
}

func (l *linear) parameters() []namedParam {
	params := []namedParam{{name: l.name + ".weight", t: l.weight}}
	if l.bias != nil {
		params = append(params, namedParam{name: l.name + ".bias", t: l.bias})
	}
	return params
}

// layerNorm normalizes each row to zero mean and unit variance.
type layerNorm struct {
	name  string
	eps   float32
	gamma *tensor.Tensor
	beta  *tensor.Tensor

	xhat *tensor.Tensor
	rstd []float32
}

func newLayerNorm(name string, features int, eps float32) (*layerNorm, error) {
	gamma, err := tensor.Full([]int{features}, 1)
	if err != nil {
		return nil, err
	}
	beta, err := tensor.Zeros([]int{features})
	if err != nil {
		return nil, err
	}
	return &layerNorm{
		name:  name,
		eps:   eps,
		gamma: newParam(gamma),
		beta:  newParam(beta),
	}, nil
}

func (n *layerNorm) forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 2 || x.Shape[1] != n.gamma.NumElems {
		return nil, fmt.Errorf("%s: expected [batch, %d] input, got %v", n.name, n.gamma.NumElems, x.Shape)
	}
	rows, cols := x.Shape[0], x.Shape[1]

	out, err := tensor.Zeros(x.Shape)
	if err != nil {
		return nil, err
	}
	xhat, err := tensor.Zeros(x.Shape)
	if err != nil {
		return nil, err
	}
	rstd := make([]float32, rows)

	for i := 0; i < rows; i++ {
		row := x.Row(i)
		var mean float64
		for _, v := range row {
			mean += float64(v)
		}
		mean /= float64(cols)
		var variance float64
		for _, v := range row {
			d := float64(v) - mean
			variance += d * d
		}
		variance /= float64(cols)
		r := 1 / math.Sqrt(variance+float64(n.eps))
		rstd[i] = float32(r)

		hrow := xhat.Row(i)
		orow := out.Row(i)
		for j, v := range row {
			h := float32((float64(v) - mean) * r)
			hrow[j] = h
			orow[j] = h*n.gamma.Data[j] + n.beta.Data[j]
		}
	}

	n.xhat = xhat
	n.rstd = rstd
	return out, nil
}

func (n *layerNorm) backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if n.xhat == nil {
		return nil, fmt.Errorf("%s: backward called before forward", n.name)
	}
	rows, cols := grad.Shape[0], grad.Shape[1]

	dgamma := make([]float32, cols)
	dbeta := make([]float32, cols)
	dx, err := tensor.Zeros(grad.Shape)
	if err != nil {
		return nil, err
	}
	dxhat := make([]float32, cols)

	for i := 0; i < rows; i++ {
		g := grad.Row(i)
		h := n.xhat.Row(i)

		var meanDxhat, meanDxhatXhat float64
		for j := range g {
			dgamma[j] += g[j] * h[j]
			dbeta[j] += g[j]
			dxhat[j] = g[j] * n.gamma.Data[j]
			meanDxhat += float64(dxhat[j])
			meanDxhatXhat += float64(dxhat[j] * h[j])
		}
		meanDxhat /= float64(cols)
		meanDxhatXhat /= float64(cols)

		drow := dx.Row(i)
		for j := range drow {
			drow[j] = n.rstd[i] * float32(float64(dxhat[j])-meanDxhat-float64(h[j])*meanDxhatXhat)
		}
	}

	if err := n.gamma.AccumulateGrad(dgamma); err != nil {
		return nil, err
	}
	if err := n.beta.AccumulateGrad(dbeta); err != nil {
		return nil, err
	}
	return dx, nil
}

func (n *layerNorm) parameters() []namedParam {
	return []namedParam{
		{name: n.name + ".weight", t: n.gamma},
		{name: n.name + ".bias", t: n.beta},
	}
}

type gelu struct {
	input *tensor.Tensor
}

func (g *gelu) forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out := x.Clone()
	for i, v := range out.Data {
		out.Data[i] = tensor.GELU(v)
	}
	g.input = x
	return out, nil
}

func (g *gelu) backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if g.input == nil {
		return nil, fmt.Errorf("gelu: backward called before forward")
	}
	dx := grad.Clone()
	for i, v := range g.input.Data {
		dx.Data[i] *= tensor.GELUGrad(v)
	}
	return dx, nil
}

func (g *gelu) parameters() []namedParam { return nil }

type relu struct {
	input *tensor.Tensor
}

func (r *relu) forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	r.input = x
	return tensor.ReLU(x), nil
}

func (r *relu) backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if r.input == nil {
		return nil, fmt.Errorf("relu: backward called before forward")
	}
	dx := grad.Clone()
	for i, v := range r.input.Data {
		if v <= 0 {
			dx.Data[i] = 0
		}
	}
	return dx, nil
}

func (r *relu) parameters() []namedParam { return nil }

// residual computes x + body(x).
type residual struct {
	body []module
}

func (r *residual) forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	h, err := forwardAll(r.body, x)
	if err != nil {
		return nil, err
	}
	if err := tensor.AddScaled(h, x, 1); err != nil {
		return nil, err
	}
	return h, nil
}

func (r *residual) backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	dx, err := backwardAll(r.body, grad)
	if err != nil {
		return nil, err
	}
	if err := tensor.AddScaled(dx, grad, 1); err != nil {
		return nil, err
	}
	return dx, nil
}

func (r *residual) parameters() []namedParam {
	var params []namedParam
	for _, m := range r.body {
		params = append(params, m.parameters()...)
	}
	return params
}

func forwardAll(modules []module, x *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	for _, m := range modules {
		if x, err = m.forward(x); err != nil {
			return nil, err
		}
	}
	return x, nil
}

func backwardAll(modules []module, grad *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	for i := len(modules) - 1; i >= 0; i-- {
		if grad, err = modules[i].backward(grad); err != nil {
			return nil, err
		}
	}
	return grad, nil
}
