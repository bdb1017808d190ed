package engine

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/san-kum/livesim/internal/circuit"
	"github.com/san-kum/livesim/internal/signal"
)

type Method int

const (
	BackwardEuler Method = iota
	Trapezoidal
)

func (m Method) String() string {
	if m == Trapezoidal {
		return "trapezoidal"
	}
	return "euler"
}

func ParseMethod(s string) (Method, error) {
	switch s {
	case "", "euler", "backward-euler":
		return BackwardEuler, nil
	case "trapezoidal", "trap":
		return Trapezoidal, nil
	}
	return 0, fmt.Errorf("%w: unknown method %q", ErrParameter, s)
}

const (
	gmin            = 1e-12
	convergenceTol  = 1e-6
	divergenceLimit = 1e6
	singularPivot   = 1e-18
)

// Simulation is a transient nodal-analysis engine. Capacitors are replaced
// by companion models for the chosen Method and diodes are linearized with
// Newton iteration, capped per step by the iterations argument to Process.
type Simulation struct {
	c          *circuit.Circuit
	method     Method
	rate       float64
	h          float64
	oversample int
	nodes      int
	size       int

	a      []float64
	z      []float64
	x      []float64
	capV   []float64
	capI   []float64
	diodeV []float64
	vcrit  []float64
	prevIn float64

	sample atomic.Int64
	taps   []tap
}

type tap struct {
	out  []float64
	node int
}

// New constructs an engine for c running oversample sub-steps per audio
// sample. Networks that cannot be solved are rejected here rather than on
// the audio thread.
func New(c *circuit.Circuit, sampleRate float64, oversample int, method Method) (*Simulation, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil circuit", ErrParameter)
	}
	if !(sampleRate > 0) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("%w: sample rate %g", ErrParameter, sampleRate)
	}
	if oversample < 1 {
		return nil, fmt.Errorf("%w: oversample %d", ErrParameter, oversample)
	}

	nodes := len(c.Nodes)
	size := nodes + len(c.Sources)
	s := &Simulation{
		c:          c,
		method:     method,
		rate:       sampleRate,
		h:          1 / (sampleRate * float64(oversample)),
		oversample: oversample,
		nodes:      nodes,
		size:       size,
		a:          make([]float64, size*size),
		z:          make([]float64, size),
		x:          make([]float64, size),
		capV:       make([]float64, len(c.Capacitors)),
		capI:       make([]float64, len(c.Capacitors)),
		diodeV:     make([]float64, len(c.Diodes)),
		vcrit:      make([]float64, len(c.Diodes)),
	}
	for i, d := range c.Diodes {
		s.vcrit[i] = d.NVt * math.Log(d.NVt/(math.Sqrt2*d.Is))
	}

	s.stamp(-1, 0)
	if err := s.solve(); err != nil {
		return nil, err
	}
	s.Reset()
	return s, nil
}

func (s *Simulation) Sample() int64 { return s.sample.Load() }

func (s *Simulation) SampleRate() float64 { return s.rate }

// Reset returns the network to rest. The sample clock keeps counting.
func (s *Simulation) Reset() {
	clear(s.x)
	clear(s.capV)
	clear(s.capI)
	clear(s.diodeV)
	s.prevIn = 0
}

func (s *Simulation) Process(input string, samples []float64, signals signal.Map, iterations int) error {
	src, ok := s.c.Source(input)
	if !ok {
		return &ProcessError{Sample: s.Sample(), Wrapped: fmt.Errorf("%w: %q", ErrUnknownInput, input)}
	}

	n := len(samples)
	s.taps = s.taps[:0]
	for k, out := range signals {
		node, ok := s.c.NodeForKey(k)
		if !ok || len(out) < n {
			continue
		}
		s.taps = append(s.taps, tap{out: out, node: node})
	}

	over := float64(s.oversample)
	for i := 0; i < n; i++ {
		in := samples[i]
		for j := 1; j <= s.oversample; j++ {
			vin := s.prevIn + (in-s.prevIn)*float64(j)/over
			if err := s.step(src, vin, iterations); err != nil {
				return &ProcessError{Sample: s.Sample(), Wrapped: err}
			}
		}
		s.prevIn = in
		for _, t := range s.taps {
			t.out[i] = s.volt(t.node)
		}
		s.sample.Add(1)
	}
	return nil
}

func (s *Simulation) step(src int, vin float64, iterations int) error {
	if iterations < 1 || !s.c.Nonlinear() {
		iterations = 1
	}
	for it := 0; it < iterations; it++ {
		s.stamp(src, vin)
		if err := s.solve(); err != nil {
			return err
		}
		if !s.valid() {
			return ErrOverflow
		}
		if s.updateDiodes() {
			break
		}
	}
	s.commitCapacitors()
	return nil
}

func (s *Simulation) stamp(src int, vin float64) {
	clear(s.a)
	clear(s.z)

	for _, r := range s.c.Resistors {
		s.conductance(r.A, r.B, r.G)
	}
	for i, cp := range s.c.Capacitors {
		geq, ieq := s.companion(i, cp.C)
		s.conductance(cp.A, cp.B, geq)
		s.current(cp.A, cp.B, ieq)
	}
	for i, d := range s.c.Diodes {
		vd := s.diodeV[i]
		e := math.Exp(vd / d.NVt)
		id := d.Is * (e - 1)
		gd := d.Is / d.NVt * e
		s.conductance(d.Anode, d.Cathode, gd+gmin)
		s.current(d.Anode, d.Cathode, gd*vd-id)
	}
	for k, so := range s.c.Sources {
		row := s.nodes + k
		if so.Pos >= 0 {
			s.a[so.Pos*s.size+row] += 1
			s.a[row*s.size+so.Pos] += 1
		}
		if so.Neg >= 0 {
			s.a[so.Neg*s.size+row] -= 1
			s.a[row*s.size+so.Neg] -= 1
		}
		if k == src {
			s.z[row] = vin
		}
	}
}

func (s *Simulation) companion(i int, c float64) (geq, ieq float64) {
	if s.method == Trapezoidal {
		geq = 2 * c / s.h
		return geq, geq*s.capV[i] + s.capI[i]
	}
	geq = c / s.h
	return geq, geq * s.capV[i]
}

func (s *Simulation) commitCapacitors() {
	for i, cp := range s.c.Capacitors {
		v := s.volt(cp.A) - s.volt(cp.B)
		geq, ieq := s.companion(i, cp.C)
		s.capI[i] = geq*v - ieq
		s.capV[i] = v
	}
}

// updateDiodes moves each linearization point towards the new solution and
// reports whether all of them have settled.
func (s *Simulation) updateDiodes() bool {
	converged := true
	for i, d := range s.c.Diodes {
		vnew := s.volt(d.Anode) - s.volt(d.Cathode)
		vold := s.diodeV[i]
		vnew = limitJunction(vnew, vold, d.NVt, s.vcrit[i])
		if math.Abs(vnew-vold) > convergenceTol {
			converged = false
		}
		s.diodeV[i] = vnew
	}
	return converged
}

func limitJunction(vnew, vold, nvt, vcrit float64) float64 {
	if vnew <= vcrit || math.Abs(vnew-vold) <= 2*nvt {
		return vnew
	}
	if vold > 0 {
		if arg := 1 + (vnew-vold)/nvt; arg > 0 {
			return vold + nvt*math.Log(arg)
		}
		return vcrit
	}
	return nvt * math.Log(vnew/nvt)
}

func (s *Simulation) conductance(a, b int, g float64) {
	if a >= 0 {
		s.a[a*s.size+a] += g
	}
	if b >= 0 {
		s.a[b*s.size+b] += g
	}
	if a >= 0 && b >= 0 {
		s.a[a*s.size+b] -= g
		s.a[b*s.size+a] -= g
	}
}

// current injects j into node a and draws it from node b.
func (s *Simulation) current(a, b int, j float64) {
	if a >= 0 {
		s.z[a] += j
	}
	if b >= 0 {
		s.z[b] -= j
	}
}

func (s *Simulation) volt(node int) float64 {
	if node < 0 {
		return 0
	}
	return s.x[node]
}

func (s *Simulation) valid() bool {
	for _, v := range s.x {
		if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > divergenceLimit {
			return false
		}
	}
	return true
}

// solve runs Gaussian elimination with partial pivoting on a|z into x. The
// matrix is consumed.
func (s *Simulation) solve() error {
	n := s.size
	a, z := s.a, s.z
	for col := 0; col < n; col++ {
		piv := col
		best := math.Abs(a[col*n+col])
		for r := col + 1; r < n; r++ {
			if v := math.Abs(a[r*n+col]); v > best {
				piv, best = r, v
			}
		}
		if math.IsNaN(best) {
			return ErrOverflow
		}
		if best < singularPivot {
			return ErrSingular
		}
		if piv != col {
			for k := 0; k < n; k++ {
				a[col*n+k], a[piv*n+k] = a[piv*n+k], a[col*n+k]
			}
			z[col], z[piv] = z[piv], z[col]
		}
		for r := col + 1; r < n; r++ {
			f := a[r*n+col] / a[col*n+col]
			if f == 0 {
				continue
			}
			for k := col; k < n; k++ {
				a[r*n+k] -= f * a[col*n+k]
			}
			z[r] -= f * z[col]
		}
	}
	for r := n - 1; r >= 0; r-- {
		sum := z[r]
		for k := r + 1; k < n; k++ {
			sum -= a[r*n+k] * s.x[k]
		}
		s.x[r] = sum / a[r*n+r]
	}
	return nil
}
