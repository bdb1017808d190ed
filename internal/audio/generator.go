package audio

import "math"

// Generator produces input for backends without a capture device.
type Generator interface {
	Fill(buf []float64, rate int)
}

type Sine struct {
	Freq  float64
	Amp   float64
	phase float64
}

func (s *Sine) Fill(buf []float64, rate int) {
	dp := s.Freq / float64(rate)
	for i := range buf {
		buf[i] = s.Amp * math.Sin(2*math.Pi*s.phase)
		s.phase += dp
		if s.phase >= 1 {
			s.phase -= 1
		}
	}
}

type Silence struct{}

func (Silence) Fill(buf []float64, rate int) { clear(buf) }
