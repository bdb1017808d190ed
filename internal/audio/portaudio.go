package audio

import (
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudio is a mono duplex stream on the default devices.
type PortAudio struct {
	opts Options
	cb   Callback

	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []float64
}

func NewPortAudio(opts Options, cb Callback) *PortAudio {
	return &PortAudio{opts: opts, cb: cb, buf: make([]float64, opts.Frames)}
}

func (a *PortAudio) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := portaudio.Initialize(); err != nil {
		return err
	}
	stream, err := portaudio.OpenDefaultStream(1, 1, float64(a.opts.Rate), a.opts.Frames, a.process)
	if err != nil {
		portaudio.Terminate()
		return err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return err
	}
	a.stream = stream
	return nil
}

func (a *PortAudio) process(in, out []float32) {
	if cap(a.buf) < len(in) {
		a.buf = make([]float64, len(in))
	}
	buf := a.buf[:len(in)]
	for i, v := range in {
		buf[i] = float64(v)
	}

	a.cb(buf, a.opts.Rate)

	for i := range out {
		if i < len(buf) {
			out[i] = float32(Quantize(buf[i], a.opts.BitDepth))
		} else {
			out[i] = 0
		}
	}
}

func (a *PortAudio) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stream == nil {
		return nil
	}
	err := a.stream.Stop()
	if cerr := a.stream.Close(); err == nil {
		err = cerr
	}
	a.stream = nil
	if terr := portaudio.Terminate(); err == nil {
		err = terr
	}
	return err
}
