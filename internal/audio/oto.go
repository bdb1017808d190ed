package audio

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Oto is an output-only backend. Input comes from opts.Source.
type Oto struct {
	opts Options
	cb   Callback

	mu      sync.Mutex
	ctx     *oto.Context
	player  *oto.Player
	closed  bool
	scratch []float64
}

func NewOto(opts Options, cb Callback) *Oto {
	if opts.Source == nil {
		opts.Source = Silence{}
	}
	return &Oto{opts: opts, cb: cb, scratch: make([]float64, opts.Frames)}
}

func (o *Oto) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	latency := time.Duration(float64(o.opts.Frames) / float64(o.opts.Rate) * float64(time.Second))
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   o.opts.Rate,
		ChannelCount: 1,
		Format:       oto.FormatFloat32LE,
		BufferSize:   latency,
	})
	if err != nil {
		return err
	}
	<-ready

	o.ctx = ctx
	o.player = ctx.NewPlayer(o)
	o.player.Play()
	return nil
}

// Read is called by oto's mixer goroutine.
func (o *Oto) Read(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := len(p) / 4
	if o.closed {
		clear(p)
		return len(p), nil
	}
	if cap(o.scratch) < n {
		o.scratch = make([]float64, n)
	}
	buf := o.scratch[:n]
	o.opts.Source.Fill(buf, o.opts.Rate)

	o.cb(buf, o.opts.Rate)

	for i, v := range buf {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(float32(Quantize(v, o.opts.BitDepth))))
	}
	return n * 4, nil
}

func (o *Oto) Close() error {
	o.mu.Lock()
	o.closed = true
	player := o.player
	o.player = nil
	o.mu.Unlock()

	if player == nil {
		return nil
	}
	return player.Close()
}
