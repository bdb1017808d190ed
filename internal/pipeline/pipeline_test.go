package pipeline

import (
	"errors"
	"fmt"
	"math"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/livesim/internal/config"
	"github.com/san-kum/livesim/internal/engine"
	"github.com/san-kum/livesim/internal/signal"
)

func ramp(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = float64(i+1) / float64(n)
	}
	return s
}

var _ = Describe("Pipeline", func() {
	var (
		settings *config.Settings
		buf      *signal.Buffer
		vis      *fakeVisualizer
		p        *Pipeline
	)

	BeforeEach(func() {
		settings = config.DefaultSettings()
		buf = signal.NewBuffer()
		buf.Refresh([]signal.Key{"V(in)", "V(mid)"}, nil)
		vis = &fakeVisualizer{}
		p = New(settings, buf, "Vin", "V(out)", WithVisualizer(vis), WithLogger(discard))
	})

	Context("with no engine bound", func() {
		It("silences the buffer", func() {
			samples := ramp(64)
			p.OnBuffer(samples, 48000)

			Expect(samples).To(HaveEach(0.0))
			Expect(p.Stats().Silenced).To(Equal(uint64(1)))
			Expect(vis.calls).To(BeEmpty())
		})
	})

	Context("with an engine bound", func() {
		var eng *fakeEngine

		BeforeEach(func() {
			eng = &fakeEngine{value: 0.25}
			Expect(p.Bind(eng)).To(BeNil())
		})

		It("writes output into the callback buffer", func() {
			samples := ramp(32)
			p.OnBuffer(samples, 48000)

			Expect(samples).To(HaveEach(0.25))
			Expect(eng.Calls()).To(Equal(1))
		})

		It("forwards each buffer to the visualizer with its start index", func() {
			p.OnBuffer(ramp(32), 48000)
			p.OnBuffer(ramp(16), 48000)

			Expect(vis.calls).To(HaveLen(2))
			Expect(vis.calls[0]).To(Equal(displayCall{start: 0, n: 32, rate: 48000, keys: 3}))
			Expect(vis.calls[1].start).To(Equal(int64(32)))
			Expect(vis.calls[1].n).To(Equal(16))
		})

		It("keeps every tracked sequence at least as long as the largest buffer", func() {
			maxLen := 0
			for _, n := range []int{128, 64, 512, 32, 256} {
				p.OnBuffer(ramp(n), 48000)
				if n > maxLen {
					maxLen = n
				}
				Expect(buf.Len("V(in)")).To(BeNumerically(">=", maxLen))
				Expect(buf.Len("V(mid)")).To(BeNumerically(">=", maxLen))
				Expect(buf.Len("V(out)")).To(Equal(n))
			}
		})

		It("re-aliases the output key on every callback", func() {
			first := ramp(64)
			p.OnBuffer(first, 48000)
			second := ramp(16)
			p.OnBuffer(second, 48000)

			buf.View(func(m signal.Map) {
				Expect(m["V(out)"]).To(HaveLen(16))
				m["V(out)"][0] = 9
			})
			Expect(second[0]).To(Equal(9.0))
			Expect(first[0]).To(Equal(0.25))
		})
	})

	Describe("gain staging", func() {
		var eng *fakeEngine

		BeforeEach(func() {
			eng = &fakeEngine{passthrough: true}
			p.Bind(eng)
		})

		DescribeTable("applies input and output gain",
			func(in, out float64, scale float64) {
				settings.InputGain.Set(in)
				settings.OutputGain.Set(out)
				samples := ramp(16)
				want := ramp(16)

				p.OnBuffer(samples, 48000)

				for i := range samples {
					Expect(samples[i]).To(BeNumerically("~", want[i]*scale, 1e-12))
				}
			},
			Entry("unity", 1.0, 1.0, 1.0),
			Entry("near-unity input is skipped", 1.005, 1.0, 1.0),
			Entry("near-unity output is skipped", 1.0, 0.991, 1.0),
			Entry("input gain", 2.0, 1.0, 2.0),
			Entry("output gain", 1.0, 0.5, 0.5),
			Entry("both", 2.0, 0.25, 0.5),
		)

		It("reads gain changes on the next callback", func() {
			samples := ramp(4)
			p.OnBuffer(samples, 48000)
			Expect(samples[3]).To(Equal(1.0))

			settings.OutputGain.Set(3)
			samples = ramp(4)
			p.OnBuffer(samples, 48000)
			Expect(samples[3]).To(BeNumerically("~", 3.0, 1e-12))
		})
	})

	Describe("divergence recovery", func() {
		It("resets the engine and keeps it bound", func() {
			eng := &fakeEngine{value: 0.5, failOn: map[int]error{
				2: &engine.ProcessError{Sample: 64, Wrapped: engine.ErrOverflow},
			}}
			p.Bind(eng)

			p.OnBuffer(ramp(32), 48000)
			p.OnBuffer(ramp(32), 48000)

			Expect(p.Engine()).To(BeIdenticalTo(engine.Engine(eng)))
			Expect(eng.Resets()).To(Equal(1))
			Expect(p.Stats().Overflows).To(Equal(uint64(1)))
			Expect(p.LastError().Kind).To(Equal(engine.KindOverflow))

			samples := ramp(32)
			Expect(func() { p.OnBuffer(samples, 48000) }).NotTo(Panic())
			Expect(samples).To(HaveEach(0.5))
			Expect(eng.Calls()).To(Equal(3))
		})

		It("does not forward a failed buffer to the visualizer", func() {
			eng := &fakeEngine{failOn: map[int]error{1: engine.ErrOverflow}}
			p.Bind(eng)
			p.OnBuffer(ramp(8), 48000)
			Expect(vis.calls).To(BeEmpty())
		})
	})

	Describe("fatal failures", func() {
		DescribeTable("unbind the engine and silence later callbacks",
			func(eng *fakeEngine) {
				p.Bind(eng)
				p.OnBuffer(ramp(32), 48000)
				Expect(func() { p.OnBuffer(ramp(32), 48000) }).NotTo(Panic())

				Expect(p.Engine()).To(BeNil())
				Expect(eng.Resets()).To(BeZero())
				Expect(p.Stats().Failures).To(Equal(uint64(1)))
				Expect(p.LastError().Kind).To(Equal(engine.KindFatal))

				samples := ramp(32)
				p.OnBuffer(samples, 48000)
				Expect(samples).To(HaveEach(0.0))
				Expect(eng.Calls()).To(Equal(2))
			},
			Entry("error", &fakeEngine{failOn: map[int]error{2: errors.New("singular matrix")}}),
			Entry("panic", &fakeEngine{panicOn: map[int]bool{2: true}}),
		)

		It("records the failure with its kind and time", func() {
			Expect(p.LastError()).To(BeNil())
			p.Bind(&fakeEngine{failOn: map[int]error{1: errors.New("boom")}})
			p.OnBuffer(ramp(8), 48000)

			f := p.LastError()
			Expect(f).NotTo(BeNil())
			Expect(f.Err).To(MatchError("boom"))
			Expect(f.Kind).To(Equal(engine.KindFatal))
			Expect(f.At).NotTo(BeZero())
		})

		It("reports panics as ErrPanic", func() {
			p.Bind(&fakeEngine{panicOn: map[int]bool{1: true}})
			p.OnBuffer(ramp(8), 48000)
			Expect(p.LastError().Err).To(MatchError(ErrPanic))
		})

		It("does not undo a rebuild that lands during the failing callback", func() {
			replacement := &fakeEngine{value: 1}
			failing := &fakeEngine{failOn: map[int]error{1: errors.New("boom")}}
			failing.onProcess = func() { p.Bind(replacement) }
			p.Bind(failing)

			p.OnBuffer(ramp(8), 48000)

			Expect(p.Engine()).To(BeIdenticalTo(engine.Engine(replacement)))
		})
	})

	Describe("rebuild atomicity", func() {
		It("lets every callback see exactly one live engine", func() {
			engines := make([]*fakeEngine, 8)
			for i := range engines {
				engines[i] = &fakeEngine{value: float64(i + 1)}
			}
			p = New(settings, buf, "Vin", "V(out)", WithLogger(discard))
			p.Bind(engines[0])

			var wg sync.WaitGroup
			done := make(chan struct{})
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				for i := 0; ; i++ {
					select {
					case <-done:
						return
					default:
					}
					p.Bind(engines[i%len(engines)])
				}
			}()

			var mixed []string
			for i := 0; i < 2000; i++ {
				samples := ramp(64)
				p.OnBuffer(samples, 48000)
				for _, v := range samples {
					if v != samples[0] {
						mixed = append(mixed, fmt.Sprintf("callback %d: %v vs %v", i, v, samples[0]))
						break
					}
				}
				if samples[0] == 0 || math.IsNaN(samples[0]) {
					mixed = append(mixed, fmt.Sprintf("callback %d observed no engine", i))
				}
			}
			close(done)
			wg.Wait()

			Expect(mixed).To(BeEmpty())
			Expect(p.Stats().Silenced).To(BeZero())
		})
	})

	Describe("Bind", func() {
		It("returns the replaced engine", func() {
			a := &fakeEngine{}
			b := &fakeEngine{}
			Expect(p.Bind(a)).To(BeNil())
			Expect(p.Bind(b)).To(BeIdenticalTo(engine.Engine(a)))
			Expect(p.Unbind()).To(BeIdenticalTo(engine.Engine(b)))
			Expect(p.Engine()).To(BeNil())
		})
	})
})
