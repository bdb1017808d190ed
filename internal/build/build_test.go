package build

import (
	"io"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/livesim/internal/circuit"
	"github.com/san-kum/livesim/internal/config"
	"github.com/san-kum/livesim/internal/engine"
	"github.com/san-kum/livesim/internal/pipeline"
	"github.com/san-kum/livesim/internal/schematic"
	"github.com/san-kum/livesim/internal/signal"
)

var _ = Describe("Coordinator", func() {
	var (
		settings *config.Settings
		p        *pipeline.Pipeline
		c        *Coordinator
		log      = slog.New(slog.NewTextHandler(io.Discard, nil))
	)

	BeforeEach(func() {
		settings = config.DefaultSettings()
		p = pipeline.New(settings, signal.NewBuffer(), "Vin", "V(out)", pipeline.WithLogger(log))
		c = New(p, settings, engine.BackwardEuler, log)
	})

	It("binds a freshly built engine", func() {
		s, err := schematic.Builtin("rc-lowpass")
		Expect(err).NotTo(HaveOccurred())

		e, err := c.Build(s)
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Engine()).To(BeIdenticalTo(e))
		Expect(c.Builds()).To(Equal(uint64(1)))
	})

	It("replaces the previous engine on rebuild", func() {
		s, _ := schematic.Builtin("rc-lowpass")
		first, err := c.Build(s)
		Expect(err).NotTo(HaveOccurred())

		second, err := c.Build(s)
		Expect(err).NotTo(HaveOccurred())
		Expect(second).NotTo(BeIdenticalTo(first))
		Expect(p.Engine()).To(BeIdenticalTo(second))
	})

	It("keeps the previous engine when compilation fails", func() {
		s, _ := schematic.Builtin("rc-lowpass")
		good, err := c.Build(s)
		Expect(err).NotTo(HaveOccurred())

		Expect(s.Add(schematic.Element{ID: "L1", Kind: "inductor", Nodes: []string{"out", "gnd"}})).To(Succeed())
		_, err = c.Build(s)

		var berr *Error
		Expect(err).To(BeAssignableToTypeOf(berr))
		Expect(err).To(MatchError(circuit.ErrUnknownKind))
		Expect(err.(*Error).Stage).To(Equal(StageCompile))
		Expect(p.Engine()).To(BeIdenticalTo(good))
		Expect(c.Builds()).To(Equal(uint64(1)))
	})

	It("leaves no engine bound when the first build fails", func() {
		_, err := c.Build(schematic.New("empty"))
		Expect(err).To(MatchError(circuit.ErrEmptySchematic))
		Expect(p.Engine()).To(BeNil())
	})

	It("reports construction failures", func() {
		settings.Oversample.Set(0)
		s, _ := schematic.Builtin("rc-lowpass")
		_, err := c.Build(s)
		Expect(err).To(MatchError(engine.ErrParameter))
		Expect(err.(*Error).Stage).To(Equal(StageConstruct))
		Expect(p.Engine()).To(BeNil())
	})

	It("builds at the sample rate it was created with", func() {
		settings.SampleRate.Set(96000)
		Expect(c.Rate()).To(Equal(48000.0))

		s, _ := schematic.Builtin("voltage-divider")
		e, err := c.Build(s)
		Expect(err).NotTo(HaveOccurred())
		Expect(e.(*engine.Simulation).SampleRate()).To(Equal(48000.0))

		samples := []float64{1, 1, 1, 1}
		p.OnBuffer(samples, 48000)
		Expect(samples).To(HaveEach(BeNumerically("~", 0.5, 1e-9)))
	})

	It("takes the sample rate current at construction", func() {
		settings.SampleRate.Set(96000)
		c2 := New(p, settings, engine.BackwardEuler, log)
		s, _ := schematic.Builtin("voltage-divider")
		e, err := c2.Build(s)
		Expect(err).NotTo(HaveOccurred())
		Expect(e.(*engine.Simulation).SampleRate()).To(Equal(96000.0))
	})

	It("rejects an output signal that is not a circuit node", func() {
		s, _ := schematic.Builtin("voltage-divider")
		good, err := c.Build(s)
		Expect(err).NotTo(HaveOccurred())

		other := pipeline.New(settings, signal.NewBuffer(), "Vin", "V(nope)", pipeline.WithLogger(log))
		oc := New(other, settings, engine.BackwardEuler, log)
		_, err = oc.Build(s)
		Expect(err).To(MatchError(ErrUnknownOutput))
		Expect(err.(*Error).Stage).To(Equal(StageCompile))
		Expect(other.Engine()).To(BeNil())
		Expect(oc.Builds()).To(BeZero())

		samples := []float64{0.1, 0.2, 0.3, 0.4}
		other.OnBuffer(samples, 48000)
		Expect(samples).To(HaveEach(0.0))
		Expect(p.Engine()).To(BeIdenticalTo(good))
	})

	It("accepts the ground node as output", func() {
		other := pipeline.New(settings, signal.NewBuffer(), "Vin", "V(gnd)", pipeline.WithLogger(log))
		s, _ := schematic.Builtin("voltage-divider")
		_, err := New(other, settings, engine.BackwardEuler, log).Build(s)
		Expect(err).NotTo(HaveOccurred())
	})

	It("recovers from a fatal engine failure only after an explicit rebuild", func() {
		s, _ := schematic.Builtin("voltage-divider")
		_, err := c.Build(s)
		Expect(err).NotTo(HaveOccurred())

		// a pipeline driving a source that does not exist fails fatally
		bad := pipeline.New(settings, signal.NewBuffer(), "Vmissing", "V(out)", pipeline.WithLogger(log))
		bc := New(bad, settings, engine.BackwardEuler, log)
		_, err = bc.Build(s)
		Expect(err).NotTo(HaveOccurred())

		bad.OnBuffer([]float64{1, 1}, 48000)
		Expect(bad.Engine()).To(BeNil())

		samples := []float64{1, 1}
		bad.OnBuffer(samples, 48000)
		Expect(samples).To(HaveEach(0.0))

		_, err = bc.Build(s)
		Expect(err).NotTo(HaveOccurred())
		Expect(bad.Engine()).NotTo(BeNil())
	})
})
