package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/san-kum/livesim/internal/audio"
	"github.com/san-kum/livesim/internal/build"
	"github.com/san-kum/livesim/internal/circuit"
	"github.com/san-kum/livesim/internal/config"
	"github.com/san-kum/livesim/internal/quantity"
	"github.com/san-kum/livesim/internal/schematic"
	"github.com/san-kum/livesim/internal/scope"
	"github.com/san-kum/livesim/internal/session"
	"github.com/san-kum/livesim/internal/storage"
)

var (
	configFile string
	preset     string
	backend    string
	method     string
	inputName  string
	outputName string
	tone       float64
	oversample int
	iterations int
	bitDepth   int
	logLevel   string
	dataDir    string

	frameRate int
	buffers   int
	width     int
	height    int
	spectrum  bool
	save      bool

	rate       = quantity.New(config.DefaultSampleRate, quantity.Hertz)
	latency    = quantity.New(config.DefaultLatency, quantity.Seconds)
	inputGain  = quantity.New(config.DefaultGain, quantity.None)
	outputGain = quantity.New(config.DefaultGain, quantity.None)
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "livesim",
		Short:        "real-time circuit simulation for audio",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run [circuit]",
		Short: "run a circuit on the audio device with a live scope",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLive,
	}
	addPipelineFlags(runCmd)
	runCmd.Flags().IntVar(&frameRate, "fps", 30, "scope frame rate")

	renderCmd := &cobra.Command{
		Use:   "render [circuit]",
		Short: "process a test tone offline and plot the probes",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRender,
	}
	addPipelineFlags(renderCmd)
	renderCmd.Flags().IntVar(&buffers, "buffers", 20, "number of buffers to process")
	renderCmd.Flags().IntVar(&width, "width", 80, "plot width")
	renderCmd.Flags().IntVar(&height, "height", 15, "plot height")
	renderCmd.Flags().BoolVar(&spectrum, "spectrum", false, "plot the spectrum of the first probe")
	renderCmd.Flags().BoolVar(&save, "save", false, "save the traces as a capture")

	checkCmd := &cobra.Command{
		Use:   "check [circuit]",
		Short: "compile a circuit without running it",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheck,
	}

	circuitsCmd := &cobra.Command{
		Use:   "circuits",
		Short: "list built-in circuits",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range schematic.ListBuiltins() {
				fmt.Println(name)
			}
		},
	}

	presetsCmd := &cobra.Command{
		Use:   "presets [circuit]",
		Short: "list available presets for a circuit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			presets := config.ListPresets(args[0])
			if len(presets) == 0 {
				fmt.Printf("no presets for circuit: %s\n", args[0])
				return nil
			}
			fmt.Printf("presets for %s:\n", args[0])
			for _, p := range presets {
				fmt.Printf("  %s\n", p)
			}
			return nil
		},
	}

	capturesCmd := &cobra.Command{
		Use:   "captures",
		Short: "list saved captures",
		RunE:  listCaptures,
	}
	capturesCmd.Flags().StringVar(&dataDir, "data", ".livesim", "capture directory")

	rootCmd.AddCommand(runCmd, renderCmd, checkCmd, circuitsCmd, presetsCmd, capturesCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addPipelineFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&configFile, "config", "", "config file path (yaml)")
	f.StringVar(&preset, "preset", "", "use preset configuration")
	f.StringVar(&backend, "backend", config.DefaultBackend, "audio backend (portaudio, oto, offline)")
	f.StringVar(&method, "method", "euler", "integration method (euler, trapezoidal)")
	f.StringVar(&inputName, "input", config.DefaultInput, "input source element")
	f.StringVar(&outputName, "output", config.DefaultOutput, "signal sent to the output")
	f.Float64Var(&tone, "tone", config.DefaultTone, "test tone frequency for output-only backends")
	f.IntVar(&oversample, "oversample", config.DefaultOversample, "simulation steps per sample")
	f.IntVar(&iterations, "iterations", config.DefaultIterations, "max Newton iterations per step")
	f.IntVar(&bitDepth, "bits", config.DefaultBitDepth, "output bit depth")
	f.Var(quantity.Flag{Q: rate}, "rate", "sample rate, e.g. 44.1k")
	f.Var(quantity.Flag{Q: latency}, "latency", "buffer latency, e.g. 10ms")
	f.Var(quantity.Flag{Q: inputGain}, "input-gain", "input gain")
	f.Var(quantity.Flag{Q: outputGain}, "output-gain", "output gain")
	f.StringVar(&dataDir, "data", "", "capture directory (overrides config)")
}

// resolveConfig layers defaults, preset, config file and explicit flags, in
// that order.
func resolveConfig(cmd *cobra.Command, circuitName string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if circuitName != "" {
		cfg.Circuit = circuitName
	}

	if preset != "" {
		p := config.GetPreset(cfg.Circuit, preset)
		if p == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(cfg.Circuit))
		}
		cfg = p
	}

	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		if circuitName != "" {
			loaded.Circuit = circuitName
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = backend
	}
	if flags.Changed("method") {
		cfg.Method = method
	}
	if flags.Changed("input") {
		cfg.Input = inputName
	}
	if flags.Changed("output") {
		cfg.Output = outputName
	}
	if flags.Changed("tone") {
		cfg.Tone = tone
	}
	if flags.Changed("oversample") {
		cfg.Oversample = oversample
	}
	if flags.Changed("iterations") {
		cfg.Iterations = iterations
	}
	if flags.Changed("bits") {
		cfg.BitDepth = bitDepth
	}
	if flags.Changed("rate") {
		cfg.SampleRate = rate.Value()
	}
	if flags.Changed("latency") {
		cfg.Latency = latency.Value()
	}
	if flags.Changed("input-gain") {
		cfg.InputGain = inputGain.Value()
	}
	if flags.Changed("output-gain") {
		cfg.OutputGain = outputGain.Value()
	}
	if flags.Changed("data") {
		cfg.CaptureDir = dataDir
	}
	return cfg, cfg.Validate()
}

// loadSchematic accepts a built-in circuit name or a netlist file.
func loadSchematic(name string) (*schematic.Schematic, error) {
	if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
		return schematic.Load(name)
	}
	if _, err := os.Stat(name); err == nil {
		return schematic.Load(name)
	}
	return schematic.Builtin(name)
}

func newLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", logLevel)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

func argOrEmpty(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, argOrEmpty(args))
	if err != nil {
		return err
	}
	sch, err := loadSchematic(cfg.Circuit)
	if err != nil {
		return err
	}

	logs := scope.NewLogBuffer(200)
	log, err := newLogger(logs)
	if err != nil {
		return err
	}

	s, err := session.New(cfg, sch,
		session.WithLogger(log),
		session.WithSource(&audio.Sine{Freq: cfg.Tone, Amp: 0.5}))
	if err != nil {
		return err
	}
	if err := s.Open(); err != nil {
		// a failed build leaves the device running silent; the scope shows
		// the error and r rebuilds
		var be *build.Error
		if !errors.As(err, &be) {
			return err
		}
	}
	defer s.Close()

	return scope.Run(scope.NewModel(s.Scope(), s, logs, frameRate))
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, argOrEmpty(args))
	if err != nil {
		return err
	}
	sch, err := loadSchematic(cfg.Circuit)
	if err != nil {
		return err
	}
	log, err := newLogger(os.Stderr)
	if err != nil {
		return err
	}

	s, err := session.New(cfg, sch, session.WithLogger(log))
	if err != nil {
		return err
	}

	var peak float64
	if err := s.Render(buffers, func(out []float64) {
		for _, v := range out {
			if v > peak {
				peak = v
			} else if -v > peak {
				peak = -v
			}
		}
	}); err != nil {
		return err
	}

	snap := s.Scope().Snapshot()
	fmt.Println(scope.Plot(snap, width, height))
	fmt.Println(scope.Legend(snap))

	if spectrum && len(snap.Traces) > 0 {
		mag, binHz, err := s.Scope().Spectrum(snap.Traces[0].Key)
		if err != nil {
			return err
		}
		fmt.Printf("\nspectrum of %s\n", snap.Traces[0].Key)
		fmt.Println(scope.PlotSpectrum(mag, binHz, width, height))
	}

	st := s.Pipeline().Stats()
	fmt.Printf("\ncircuit:    %s\n", cfg.Circuit)
	fmt.Printf("samples:    %d at %s\n", snap.Sample, s.Settings().SampleRate)
	fmt.Printf("peak out:   %.4f\n", peak)
	fmt.Printf("overflows:  %d\n", st.Overflows)
	for _, t := range snap.Traces {
		m := scope.Measure(t.Samples)
		fmt.Printf("%-10s  peak %.4f  rms %.4f\n", t.Key, m.Peak, m.RMS)
	}

	if save {
		id, err := s.Capture()
		if err != nil {
			return err
		}
		fmt.Printf("saved capture: %s\n", id)
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	sch, err := loadSchematic(args[0])
	if err != nil {
		return err
	}
	c, err := circuit.Compile(sch)
	if err != nil {
		return err
	}

	fmt.Printf("circuit:     %s\n", c.Name)
	fmt.Printf("nodes:       %s\n", strings.Join(c.Nodes, ", "))
	fmt.Printf("resistors:   %d\n", len(c.Resistors))
	fmt.Printf("capacitors:  %d\n", len(c.Capacitors))
	fmt.Printf("diodes:      %d\n", len(c.Diodes))
	fmt.Printf("sources:     %d\n", len(c.Sources))
	keys := c.Keys()
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = string(k)
	}
	fmt.Printf("signals:     %s\n", strings.Join(names, ", "))
	return nil
}

func listCaptures(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	caps, err := st.List()
	if err != nil {
		return err
	}

	if len(caps) == 0 {
		fmt.Println("no captures found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCIRCUIT\tTIME\tRATE\tSAMPLES\tSIGNALS")

	for _, c := range caps {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			c.ID,
			c.Circuit,
			c.Timestamp.Format("2006-01-02 15:04:05"),
			quantity.Format(c.Rate, quantity.Hertz),
			c.Length,
			strings.Join(c.Signals, ","),
		)
	}

	return w.Flush()
}
