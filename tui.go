package main

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"moodwire/clipboard"
	"moodwire/conn"
	"moodwire/history"
	"moodwire/pipeline"
	"moodwire/protocol"
)

// TUI message types
type ResultMsg struct{ Msg protocol.Inbound }
type FailureMsg struct{ Msg protocol.Inbound }
type ConnectedMsg struct{ Message string }
type ChunkMsg struct{ Report pipeline.ChunkReport }
type FrameMsg struct {
	Bytes int
	Sent  bool
}
type NoticeMsg struct{ Text string }
type tickMsg time.Time

const speechMinRatio = 0.10

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex
)

func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// tuiSink forwards session events to the program. Every event is sent
// from its own goroutine: Update stops pipelines, and a pipeline being
// stopped must never wait on Update.
type tuiSink struct{}

func (tuiSink) Connected(msg protocol.Inbound) { go tuiSend(ConnectedMsg{Message: msg.Message}) }
func (tuiSink) Result(msg protocol.Inbound)    { go tuiSend(ResultMsg{Msg: msg}) }
func (tuiSink) Failure(msg protocol.Inbound)   { go tuiSend(FailureMsg{Msg: msg}) }
func (tuiSink) Chunk(r pipeline.ChunkReport)   { go tuiSend(ChunkMsg{Report: r}) }
func (tuiSink) Frame(n int, sent bool)         { go tuiSend(FrameMsg{Bytes: n, Sent: sent}) }
func (tuiSink) TextSent(string, bool)          {}
func (tuiSink) Notice(text string)             { go tuiSend(NoticeMsg{Text: text}) }

var emotionColors = map[string]lipgloss.Color{
	"happy":    "#4CAF50",
	"sad":      "#2196F3",
	"angry":    "#F44336",
	"neutral":  "#9E9E9E",
	"surprise": "#FF9800",
	"fear":     "#9C27B0",
	"disgust":  "#795548",
}

var (
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	keyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("246")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	panelStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238")).Padding(0, 1)
	emotionStyle = map[string]lipgloss.Style{}
)

func init() {
	for e, c := range emotionColors {
		emotionStyle[e] = lipgloss.NewStyle().Foreground(c)
	}
}

func styleFor(emotion string) lipgloss.Style {
	if s, ok := emotionStyle[emotion]; ok {
		return s
	}
	return dimStyle
}

type tuiModel struct {
	s       *session
	input   textinput.Model
	spinner spinner.Model

	width, height int
	connState     conn.State
	greeting      string
	lastError     string
	status        string
	level         float64
	micOn, camOn  bool
	lang          protocol.Language
	analyzing     bool
	lastChunk     *pipeline.ChunkReport
	frames        int
	lastFrame     int
}

func NewTUIProgram(s *session) *tea.Program {
	return tea.NewProgram(newTUIModel(s), tea.WithAltScreen())
}

func newTUIModel(s *session) tuiModel {
	in := textinput.New()
	in.Placeholder = "Type how you feel..."
	in.CharLimit = s.cfg.Text.MaxChars
	in.Prompt = "> "
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = warnStyle

	return tuiModel{s: s, input: in, spinner: sp, lang: s.typing.Language()}
}

func tuiTick() tea.Cmd {
	return tea.Tick(60*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(tuiTick(), textinput.Blink, m.spinner.Tick)
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(msg.Width-6, 10)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "ctrl+a":
			if err := m.s.toggleMic(); err != nil {
				m.status = errorStyle.Render("mic: " + err.Error())
			} else {
				m.status = ""
			}
			return m, nil
		case "ctrl+f":
			if err := m.s.toggleCamera(); err != nil {
				m.status = errorStyle.Render("camera: " + err.Error())
			} else {
				m.status = ""
			}
			return m, nil
		case "ctrl+l":
			m.lang = m.s.cycleLanguage()
			m.status = dimStyle.Render("language: " + string(m.lang))
			return m, nil
		case "ctrl+y":
			if err := clipboard.Copy(m.s.summary()); err != nil {
				m.status = errorStyle.Render("clipboard: " + err.Error())
			} else {
				m.status = okStyle.Render("[✓ summary copied]")
			}
			return m, nil
		}
		prev := m.input.Value()
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		if v := m.input.Value(); v != prev {
			m.s.typing.Update(v)
		}
		return m, cmd

	case tickMsg:
		m.connState = m.s.mgr.State()
		m.micOn = m.s.micOn()
		m.camOn = m.s.cameraOn()
		m.analyzing = m.s.analyzingText()
		m.level = m.level*0.6 + m.s.audioLevel()*0.4
		if !m.micOn {
			m.level = 0
		}
		return m, tuiTick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case ConnectedMsg:
		if msg.Message != "" {
			m.greeting = msg.Message
		}
		m.lastError = ""

	case ResultMsg:
		if msg.Msg.Modality == protocol.Text {
			m.analyzing = false
		}

	case FailureMsg:
		if msg.Msg.Modality != "" {
			m.lastError = fmt.Sprintf("%s: %s", msg.Msg.Modality, msg.Msg.Message)
		} else {
			m.lastError = msg.Msg.Message
		}

	case ChunkMsg:
		r := msg.Report
		m.lastChunk = &r

	case FrameMsg:
		if msg.Sent {
			m.frames++
		}
		m.lastFrame = msg.Bytes

	case NoticeMsg:
		m.status = warnStyle.Render(msg.Text)

	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var lines []string
	lines = append(lines, m.statusLine())
	if m.greeting != "" {
		lines = append(lines, dimStyle.Render(m.greeting))
	}
	if m.lastError != "" {
		lines = append(lines, errorStyle.Render("⚠ "+m.lastError))
	}
	lines = append(lines, "")

	panelWidth := max((m.width-2)/3-2, 24)
	panels := lipgloss.JoinHorizontal(lipgloss.Top,
		m.panel("Facial", protocol.Facial, panelWidth),
		m.panel("Voice", protocol.Voice, panelWidth),
		m.panel("Text", protocol.Text, panelWidth),
	)
	lines = append(lines, panels, "")

	inputLine := m.input.View()
	if m.analyzing {
		inputLine = m.spinner.View() + " " + inputLine
	}
	lines = append(lines, inputLine)
	lines = append(lines, dimStyle.Render(fmt.Sprintf("%d/%d  language: %s",
		len([]rune(m.input.Value())), m.input.CharLimit, m.lang)))
	if m.status != "" {
		lines = append(lines, m.status)
	}
	lines = append(lines, "", m.helpLine())

	return strings.Join(lines, "\n")
}

func (m tuiModel) statusLine() string {
	var state string
	switch m.connState {
	case conn.Open:
		state = okStyle.Render("● connected")
	case conn.Connecting:
		state = warnStyle.Render("◌ connecting")
	default:
		state = errorStyle.Render("○ disconnected")
	}
	parts := []string{state + dimStyle.Render(" "+m.s.mgr.URL())}

	if m.micOn {
		parts = append(parts, lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true).Render("● MIC")+" "+levelBar(m.level, 10))
	} else if m.s.audio != nil {
		parts = append(parts, dimStyle.Render("○ mic off"))
	}
	if m.camOn {
		parts = append(parts, okStyle.Render(fmt.Sprintf("● CAM %d frames", m.frames)))
	} else if m.s.frames != nil {
		parts = append(parts, dimStyle.Render("○ camera off"))
	}
	if c := m.lastChunk; c != nil {
		parts = append(parts, dimStyle.Render(fmt.Sprintf("last chunk %.1f KB %s", float64(c.Bytes)/1024, c.Outcome)))
		if m.micOn && c.SpeechRatio >= 0 && c.SpeechRatio < speechMinRatio {
			parts = append(parts, warnStyle.Render("⚠ no voice detected"))
		}
	}
	return strings.Join(parts, "   ")
}

func (m tuiModel) panel(title string, mod protocol.Modality, width int) string {
	buf := m.s.buffer(mod)
	var b strings.Builder
	b.WriteString(titleStyle.Render(title) + "\n")

	last, ok := buf.Last()
	if !ok {
		b.WriteString(dimStyle.Render("waiting for results"))
		return panelStyle.Width(width).Render(b.String())
	}

	st := styleFor(last.Emotion)
	b.WriteString(st.Bold(true).Render(strings.ToUpper(last.Emotion)) + "\n")
	b.WriteString(st.Render(confidenceBar(last.Confidence, width-8)) + fmt.Sprintf(" %3.0f%%\n", last.Confidence*100))
	b.WriteString(historyDots(buf.Entries(), width) + "\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("avg %.0f%% over %d/%d", buf.AverageConfidence()*100, buf.Len(), buf.Cap())) + "\n")

	var shares []history.Share
	if mod == protocol.Facial {
		if r := m.s.lastFacial.Load(); r != nil && len(r.AllEmotions) > 0 {
			shares = topEmotions(r.AllEmotions, 5)
		}
	}
	if shares == nil {
		shares = buf.Distribution()
		if len(shares) > 5 {
			shares = shares[:5]
		}
	}
	for _, sh := range shares {
		b.WriteString(styleFor(sh.Emotion).Render(fmt.Sprintf("%-9s %s %3.0f%%", sh.Emotion, confidenceBar(sh.Percent/100, 10), sh.Percent)) + "\n")
	}
	return panelStyle.Width(width).Render(strings.TrimRight(b.String(), "\n"))
}

func (m tuiModel) helpLine() string {
	keys := []struct{ key, what string }{
		{"ctrl+a", "mic"},
		{"ctrl+f", "camera"},
		{"ctrl+l", "language"},
		{"ctrl+y", "copy summary"},
		{"esc", "quit"},
	}
	var parts []string
	for _, k := range keys {
		parts = append(parts, keyStyle.Render(k.key)+helpStyle.Render(" "+k.what))
	}
	return strings.Join(parts, helpStyle.Render("  ·  ")) + helpStyle.Render("  moodwire "+version)
}

func confidenceBar(v float64, width int) string {
	if width < 1 {
		width = 1
	}
	v = math.Max(0, math.Min(1, v))
	n := int(math.Round(v * float64(width)))
	return strings.Repeat("█", n) + strings.Repeat("░", width-n)
}

// levelBar maps an RMS level onto a short meter. Speech sits around 0.05.
func levelBar(level float64, width int) string {
	return confidenceBar(math.Min(1, level*10), width)
}

// historyDots renders one colored dot per entry, newest last, keeping the
// most recent entries that fit.
func historyDots(entries []history.Entry, width int) string {
	if len(entries) > width {
		entries = entries[len(entries)-width:]
	}
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(styleFor(e.Emotion).Render("●"))
	}
	return b.String()
}
