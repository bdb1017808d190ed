package scope

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/san-kum/livesim/internal/pipeline"
)

const (
	graphWidth  = 72
	graphHeight = 14
	logLines    = 6
	gainStep    = 1.122 // ~1 dB
)

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true).MarginBottom(1)
	graphStyle  = lipgloss.NewStyle().Padding(0, 1)
	statsStyle  = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, false, false, true).BorderForeground(lipgloss.Color("240")).Padding(0, 2).Width(40)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(12)
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("49"))
	logStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginTop(1)
)

// Controller is what the TUI drives. Calls happen on the UI goroutine.
type Controller interface {
	Rebuild() error
	Capture() (string, error)
	ScaleGain(input bool, factor float64)
	Status() Status
}

type Status struct {
	Circuit    string
	Bound      bool
	Builds     uint64
	Stats      pipeline.Stats
	LastError  string
	Rate       string
	Latency    string
	InputGain  float64
	OutputGain float64
}

type TickMsg time.Time

type Model struct {
	scope    *Scope
	ctl      Controller
	logs     *LogBuffer
	fps      int
	spectrum bool
	message  string
}

func NewModel(s *Scope, ctl Controller, logs *LogBuffer, fps int) Model {
	if fps <= 0 {
		fps = 30
	}
	return Model{scope: s, ctl: ctl, logs: logs, fps: fps}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(time.Second/time.Duration(m.fps), func(t time.Time) tea.Msg { return TickMsg(t) })
}

func (m Model) Init() tea.Cmd { return m.tick() }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			if err := m.ctl.Rebuild(); err != nil {
				m.message = errorStyle.Render(err.Error())
			} else {
				m.message = okStyle.Render("rebuilt")
			}
		case "+", "=":
			m.ctl.ScaleGain(false, gainStep)
		case "-":
			m.ctl.ScaleGain(false, 1/gainStep)
		case "]":
			m.ctl.ScaleGain(true, gainStep)
		case "[":
			m.ctl.ScaleGain(true, 1/gainStep)
		case "tab":
			m.scope.SelectNext()
		case "f":
			m.spectrum = !m.spectrum
		case "s":
			if id, err := m.ctl.Capture(); err != nil {
				m.message = errorStyle.Render(err.Error())
			} else {
				m.message = okStyle.Render("saved " + id)
			}
		}
		return m, nil
	case TickMsg:
		return m, m.tick()
	}
	return m, nil
}

func (m Model) View() string {
	st := m.ctl.Status()
	snap := m.scope.Snapshot()

	var graph string
	if m.spectrum && snap.Selected != "" {
		mag, bin, err := m.scope.Spectrum(snap.Selected)
		if err != nil {
			graph = err.Error()
		} else {
			graph = PlotSpectrum(mag, bin, graphWidth, graphHeight)
		}
	} else {
		graph = Plot(snap, graphWidth, graphHeight)
	}

	left := lipgloss.JoinVertical(lipgloss.Left,
		headerStyle.Render("livesim · "+st.Circuit),
		graphStyle.Render(graph),
		Legend(snap))

	engineState := okStyle.Render("running")
	if !st.Bound {
		engineState = errorStyle.Render("stopped")
	}
	rows := []string{
		row("engine", engineState),
		row("rate", st.Rate),
		row("latency", st.Latency),
		row("in gain", fmt.Sprintf("%.2f", st.InputGain)),
		row("out gain", fmt.Sprintf("%.2f", st.OutputGain)),
		row("builds", fmt.Sprintf("%d", st.Builds)),
		row("callbacks", fmt.Sprintf("%d", st.Stats.Callbacks)),
		row("silenced", fmt.Sprintf("%d", st.Stats.Silenced)),
		row("overflows", fmt.Sprintf("%d", st.Stats.Overflows)),
		row("failures", fmt.Sprintf("%d", st.Stats.Failures)),
	}
	if st.LastError != "" {
		rows = append(rows, "", errorStyle.Width(36).Render(st.LastError))
	}
	if m.message != "" {
		rows = append(rows, "", m.message)
	}
	right := statsStyle.Render(strings.Join(rows, "\n"))

	body := lipgloss.JoinHorizontal(lipgloss.Top, left, right)
	var logs string
	if m.logs != nil {
		logs = logStyle.Render(strings.Join(m.logs.Tail(logLines), "\n"))
	}
	help := helpStyle.Render("r rebuild · +/- output gain · [/] input gain · tab trace · f spectrum · s save · q quit")
	return lipgloss.JoinVertical(lipgloss.Left, body, logs, help)
}

func row(label, value string) string {
	return labelStyle.Render(label) + valueStyle.Render(value)
}

// Run blocks until the user quits.
func Run(m Model) error {
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}
