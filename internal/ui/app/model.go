package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	anomalydto "sosguard/internal/modules/anomaly/dto"
	escalationdto "sosguard/internal/modules/escalation/dto"
	sessiondto "sosguard/internal/modules/session/dto"
	voicedto "sosguard/internal/modules/voice/dto"
	"sosguard/internal/ui/components"
	"sosguard/internal/ui/theme"
)

const (
	refreshEvery = 250 * time.Millisecond
	noticeLimit  = 8
)

type sessionPort interface {
	Current(ctx context.Context) (sessiondto.SessionOutput, error)
}

type escalationPort interface {
	Trigger(ctx context.Context, kind, detail string) (bool, error)
	Cancel() bool
	Pending() (escalationdto.PendingOutput, bool)
}

type anomalyPort interface {
	Status() anomalydto.StatusOutput
	History() []anomalydto.ScoreOutput
}

type voicePort interface {
	Status() voicedto.StatusOutput
	ResetCooldown()
}

// Notice is a line for the activity log.
type Notice struct {
	At      time.Time
	Kind    string
	Message string
}

type Ports struct {
	Session    sessionPort
	Escalation escalationPort
	Anomaly    anomalyPort
	Voice      voicePort
	Notices    <-chan Notice
	// Threshold marks crash-level scores in the motion sparkline.
	Threshold float64
}

type tickMsg time.Time

type noticeMsg Notice

type triggeredMsg struct {
	started bool
	err     error
}

type snapshot struct {
	session    sessiondto.SessionOutput
	hasSession bool
	pending    escalationdto.PendingOutput
	counting   bool
	motion     anomalydto.StatusOutput
	scores     []float64
	voice      voicedto.StatusOutput
	now        time.Time
}

type keyMap struct {
	SOS    key.Binding
	Cancel key.Binding
	Reset  key.Binding
	Help   key.Binding
	Quit   key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		SOS:    key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "raise SOS")),
		Cancel: key.NewBinding(key.WithKeys("c", "esc"), key.WithHelp("c", "cancel countdown")),
		Reset:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reset voice cooldown")),
		Help:   key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:   key.NewBinding(key.WithKeys("ctrl+c", "q"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.SOS, k.Cancel, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.SOS, k.Cancel, k.Reset},
		{k.Help, k.Quit},
	}
}

// Model is the live dashboard: the tracked session, any running escalation
// countdown, both monitors and recent activity. It polls the ports on a tick
// and never blocks the update loop on the network except for a manual SOS.
type Model struct {
	ports   Ports
	keys    keyMap
	help    help.Model
	snap    snapshot
	notices []Notice
	status  string
	width   int
	height  int
}

func NewModel(ports Ports) Model {
	return Model{
		ports:  ports,
		keys:   defaultKeys(),
		help:   help.New(),
		status: "monitoring",
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), m.waitNotice())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case tickMsg:
		m.snap = m.collect(time.Time(msg))
		return m, tickCmd()

	case noticeMsg:
		m.notices = append(m.notices, Notice(msg))
		if len(m.notices) > noticeLimit {
			m.notices = m.notices[len(m.notices)-noticeLimit:]
		}
		return m, m.waitNotice()

	case triggeredMsg:
		switch {
		case msg.err != nil:
			m.status = "SOS failed: " + msg.err.Error()
		case !msg.started:
			m.status = "SOS ignored: a session or countdown is already active"
		default:
			m.status = "SOS requested"
		}
		m.snap = m.collect(time.Now())

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		case key.Matches(msg, m.keys.SOS):
			m.status = "raising SOS..."
			return m, m.triggerCmd()
		case key.Matches(msg, m.keys.Cancel):
			if m.ports.Escalation != nil && m.ports.Escalation.Cancel() {
				m.status = "countdown cancelled"
			} else {
				m.status = "no countdown to cancel"
			}
			m.snap = m.collect(time.Now())
		case key.Matches(msg, m.keys.Reset):
			if m.ports.Voice != nil {
				m.ports.Voice.ResetCooldown()
				m.status = "voice cooldown reset"
			}
		}
	}
	return m, nil
}

func (m Model) View() string {
	width := m.width
	if width <= 0 {
		width = 80
	}
	paneWidth := width/2 - 2
	if paneWidth < 30 {
		paneWidth = 30
	}

	top := lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderSession(paneWidth),
		m.renderEscalation(paneWidth),
	)
	middle := lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderMotion(paneWidth),
		m.renderVoice(paneWidth),
	)
	return lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("sosguard")+"  "+theme.Muted.Render(m.status),
		top,
		middle,
		m.renderNotices(width-2),
		m.help.View(m.keys),
	)
}

func (m Model) renderSession(width int) string {
	var sb strings.Builder
	sb.WriteString(theme.Title.Render("Session") + "\n")
	s := m.snap.session
	if !m.snap.hasSession {
		sb.WriteString(theme.Muted.Render("no active session"))
		return theme.Pane.Width(width).Render(sb.String())
	}
	status := s.Status
	if s.Placeholder {
		status += " (restoring)"
	}
	fmt.Fprintf(&sb, "id      %s\nstatus  %s\n", s.SessionID, statusStyle(s.Status).Render(status))
	if s.CounterpartyName != "" {
		fmt.Fprintf(&sb, "helper  %s %s\n", s.CounterpartyName, s.CounterpartyPhone)
	}
	if s.CounterpartyLatitude != nil && s.CounterpartyLongitude != nil {
		fmt.Fprintf(&sb, "helper@ %.5f, %.5f\n", *s.CounterpartyLatitude, *s.CounterpartyLongitude)
	}
	fmt.Fprintf(&sb, "origin  %.5f, %.5f", s.OriginLatitude, s.OriginLongitude)
	return theme.Pane.Width(width).Render(sb.String())
}

func (m Model) renderEscalation(width int) string {
	var sb strings.Builder
	sb.WriteString(theme.Title.Render("Escalation") + "\n")
	if !m.snap.counting {
		sb.WriteString(theme.Good.Render("idle"))
		return theme.Pane.Width(width).Render(sb.String())
	}
	p := m.snap.pending
	left := p.Deadline.Sub(m.snap.now).Round(time.Second)
	if left < 0 {
		left = 0
	}
	fmt.Fprintf(&sb, "%s\n", theme.Alert.Render(fmt.Sprintf("SOS in %s", left)))
	fmt.Fprintf(&sb, "trigger %s", p.Type)
	if p.Detail != "" {
		fmt.Fprintf(&sb, " (%s)", p.Detail)
	}
	sb.WriteString("\n" + theme.Muted.Render("press c to cancel"))
	return theme.PaneAlert.Width(width).Render(sb.String())
}

func (m Model) renderMotion(width int) string {
	var sb strings.Builder
	st := m.snap.motion
	sb.WriteString(theme.Title.Render("Motion") + "\n")
	state := st.State
	if state == "" {
		state = "stopped"
	}
	fmt.Fprintf(&sb, "state   %s\nscore   %.2f\n", stateStyle(state).Render(state), st.LastScore)
	if !st.LastConfirmedAt.IsZero() {
		fmt.Fprintf(&sb, "crash   %s\n", st.LastConfirmedAt.Local().Format(time.TimeOnly))
	}
	sb.WriteString(components.Sparkline(m.snap.scores, m.ports.Threshold, width-4))
	return theme.Pane.Width(width).Render(sb.String())
}

func (m Model) renderVoice(width int) string {
	var sb strings.Builder
	st := m.snap.voice
	sb.WriteString(theme.Title.Render("Voice") + "\n")
	switch {
	case !st.Listening:
		sb.WriteString(theme.Muted.Render("not listening"))
	case st.CoolingDown:
		left := st.CooldownUntil.Sub(m.snap.now).Round(time.Second)
		sb.WriteString(theme.Warn.Render(fmt.Sprintf("cooling down %s", left)))
	default:
		sb.WriteString(theme.Good.Render("listening"))
	}
	if !st.LastTriggeredAt.IsZero() {
		fmt.Fprintf(&sb, "\nlast    %s", st.LastTriggeredAt.Local().Format(time.TimeOnly))
	}
	return theme.Pane.Width(width).Render(sb.String())
}

func (m Model) renderNotices(width int) string {
	var sb strings.Builder
	sb.WriteString(theme.Title.Render("Activity"))
	if len(m.notices) == 0 {
		sb.WriteString("\n" + theme.Muted.Render("nothing yet"))
	}
	for _, n := range m.notices {
		line := fmt.Sprintf("%s %-9s %s", n.At.Local().Format(time.TimeOnly), n.Kind, n.Message)
		if n.Kind == "error" {
			line = theme.Alert.Render(line)
		}
		sb.WriteString("\n" + line)
	}
	return theme.Pane.Width(width).Render(sb.String())
}

func (m Model) collect(now time.Time) snapshot {
	snap := snapshot{now: now}
	if m.ports.Session != nil {
		if current, err := m.ports.Session.Current(context.Background()); err == nil && current.Active() {
			snap.session = current
			snap.hasSession = true
		}
	}
	if m.ports.Escalation != nil {
		snap.pending, snap.counting = m.ports.Escalation.Pending()
	}
	if m.ports.Anomaly != nil {
		snap.motion = m.ports.Anomaly.Status()
		for _, point := range m.ports.Anomaly.History() {
			snap.scores = append(snap.scores, point.Score)
		}
	}
	if m.ports.Voice != nil {
		snap.voice = m.ports.Voice.Status()
	}
	return snap
}

func (m Model) triggerCmd() tea.Cmd {
	return func() tea.Msg {
		if m.ports.Escalation == nil {
			return triggeredMsg{err: fmt.Errorf("escalation is not configured")}
		}
		started, err := m.ports.Escalation.Trigger(context.Background(), "manual", "dashboard")
		return triggeredMsg{started: started, err: err}
	}
}

func (m Model) waitNotice() tea.Cmd {
	if m.ports.Notices == nil {
		return nil
	}
	return func() tea.Msg {
		n, ok := <-m.ports.Notices
		if !ok {
			return nil
		}
		return noticeMsg(n)
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func statusStyle(status string) lipgloss.Style {
	switch status {
	case "PENDING":
		return theme.Warn
	case "ACCEPTED", "ARRIVED":
		return theme.Hot
	case "COMPLETED":
		return theme.Good
	default:
		return theme.Muted
	}
}

func stateStyle(state string) lipgloss.Style {
	switch state {
	case "verifying":
		return theme.Alert
	case "armed":
		return theme.Good
	default:
		return theme.Muted
	}
}
