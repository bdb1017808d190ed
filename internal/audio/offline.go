package audio

import (
	"sync"
	"time"
)

// Offline drives the callback from a generator without sound hardware.
// Started, it paces buffers at real time; Run processes as fast as possible.
type Offline struct {
	opts Options
	cb   Callback
	buf  []float64

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

func NewOffline(opts Options, cb Callback) *Offline {
	if opts.Source == nil {
		opts.Source = Silence{}
	}
	return &Offline{opts: opts, cb: cb, buf: make([]float64, opts.Frames)}
}

// Run processes buffers synchronously, handing each output to sink.
func (d *Offline) Run(buffers int, sink func([]float64)) {
	for i := 0; i < buffers; i++ {
		d.next(sink)
	}
}

func (d *Offline) next(sink func([]float64)) {
	d.opts.Source.Fill(d.buf, d.opts.Rate)
	d.cb(d.buf, d.opts.Rate)
	if sink != nil {
		sink(d.buf)
	}
}

func (d *Offline) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return nil
	}
	d.stop = make(chan struct{})
	period := time.Duration(float64(d.opts.Frames) / float64(d.opts.Rate) * float64(time.Second))

	d.wg.Add(1)
	go func(stop chan struct{}) {
		defer d.wg.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				d.next(nil)
			}
		}
	}(d.stop)
	return nil
}

func (d *Offline) Close() error {
	d.mu.Lock()
	stop := d.stop
	d.stop = nil
	d.mu.Unlock()

	if stop != nil {
		close(stop)
		d.wg.Wait()
	}
	return nil
}
