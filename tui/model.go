package tui

import (
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
)

// tickMsg is fired every second to update the elapsed timer.
type tickMsg time.Time

// state represents the current phase of a command.
type state int

const (
	stateInit    state = iota
	stateWorking       // request in flight
	stateSuccess       // all done
	stateExpired       // session ended, sign-in required
	stateError         // fatal error
)

// statusKind distinguishes line types in the status log.
type statusKind int

const (
	statusOK   statusKind = iota
	statusWarn            // warning / non-fatal
	statusInfo            // neutral info
)

// statusLine is one row in the scrolling status log.
type statusLine struct {
	kind statusKind
	text string
}

// Model is the BubbleTea model for the vytara CLI.
type Model struct {
	state   state
	spinner spinner.Model
	width   int
	height  int

	serverURL string
	label     string
	started   time.Time
	elapsed   time.Duration

	summary Summary
	errMsg  string

	// Scrolling status log shown below the main panel
	statusLines []statusLine
}

var (
	styleTitleBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("42")).
			Padding(0, 2)

	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleBold = lipgloss.NewStyle().Bold(true)
)

// NewModel creates the initial TUI model.
func NewModel() Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("42"))),
	)
	return Model{
		state:   stateInit,
		spinner: s,
	}
}

// Init starts the spinner animation.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		if m.state != stateWorking {
			return m, nil
		}
		m.elapsed = time.Time(msg).Sub(m.started)
		return m, tickAfterSecond()

	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil

	// ── command messages ─────────────────────────────────────────────────────

	case MsgBanner:
		m.serverURL = msg.ServerURL
		return m, nil

	case MsgWarning:
		m.addStatus(statusWarn, msg.Text)
		return m, nil

	case MsgWorking:
		ticking := m.state == stateWorking
		m.label = msg.Label
		m.state = stateWorking
		m.started = time.Now()
		m.elapsed = 0
		if ticking {
			return m, nil
		}
		return m, tickAfterSecond()

	case MsgSessionRestored:
		if msg.Name == "" {
			m.addStatus(statusOK, "Found a stored session")
		} else {
			m.addStatus(statusOK, "Found a stored session for "+msg.Name)
		}
		return m, nil

	case MsgNoSession:
		m.addStatus(statusInfo, "Not signed in")
		return m, nil

	case MsgLoginOK:
		m.addStatus(statusOK, fmt.Sprintf("Signed in as %s (%s session)", msg.Name, msg.Persistence))
		return m, nil

	case MsgLoggedOut:
		if msg.RevokeErr != nil {
			m.addStatus(statusWarn, fmt.Sprintf("Server logout failed: %v", msg.RevokeErr))
		}
		m.addStatus(statusOK, "Signed out, local credentials removed")
		return m, nil

	case MsgTokenRefreshed:
		text := "Access token refreshed"
		if msg.ExpiresIn > 0 {
			text += ", valid for " + formatDuration(msg.ExpiresIn)
		}
		m.addStatus(statusOK, text)
		return m, nil

	case MsgSessionExpired:
		m.addStatus(statusWarn, "Session expired")
		m.state = stateExpired
		return m, nil

	case MsgUploadOK:
		m.addStatus(statusOK, fmt.Sprintf("Uploaded %d bytes", msg.Size))
		m.addStatus(statusInfo, msg.URL)
		return m, nil

	case MsgProfileSaved:
		m.addStatus(statusOK, "Profile updated: "+strings.Join(msg.Fields, ", "))
		return m, nil

	case MsgDone:
		m.summary = msg.Summary
		m.state = stateSuccess
		return m, nil

	case MsgFatal:
		m.errMsg = msg.Err.Error()
		m.state = stateError
		return m, nil
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() tea.View {
	switch m.state {
	case stateSuccess:
		return tea.NewView(m.viewSuccess())
	case stateExpired:
		return tea.NewView(m.viewExpired())
	case stateError:
		return tea.NewView(m.viewError())
	default:
		return tea.NewView(m.viewMain())
	}
}

func (m Model) viewHeader() string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(styleTitleBox.Render("  Vytara  "))
	if m.serverURL != "" {
		b.WriteString("\n")
		b.WriteString(styleDim.Render(m.serverURL))
	}
	b.WriteString("\n\n")
	return b.String()
}

// viewMain is shown while a command is running.
func (m Model) viewMain() string {
	var b strings.Builder
	b.WriteString(m.viewHeader())

	b.WriteString(m.spinner.View())
	if m.state == stateWorking {
		b.WriteString(" " + m.label + "...")
		if m.elapsed >= time.Second {
			b.WriteString("  " + styleDim.Render(formatDuration(m.elapsed)))
		}
	} else {
		b.WriteString(" Initializing...")
	}
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewSuccess is shown after the command completes.
func (m Model) viewSuccess() string {
	s := m.summary
	var b strings.Builder
	b.WriteString(m.viewHeader())

	title := s.Title
	if title == "" {
		title = "Done"
	}
	b.WriteString(styleOK.Render("  ✓ " + title))
	b.WriteString("\n\n")

	field := func(label, value string) {
		if value == "" {
			return
		}
		b.WriteString(styleBold.Render(fmt.Sprintf("%-14s", label+":")))
		b.WriteString(value + "\n")
	}
	field("User", s.Name)
	field("Email", s.Email)
	field("User ID", s.UserID)
	field("Session", s.Persistence)
	if s.TokenPreview != "" {
		field("Access Token", s.TokenPreview+"...")
		field("Token Type", s.TokenType)
	}
	if s.ExpiresIn > 0 {
		field("Expires In", formatDuration(s.ExpiresIn))
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewExpired is shown when the session could not be renewed.
func (m Model) viewExpired() string {
	var b strings.Builder
	b.WriteString(m.viewHeader())
	b.WriteString(styleWarn.Render("  ⚠ Your session has expired"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  Run `vytara login` to sign in again."))
	b.WriteString("\n")
	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewError is shown when a fatal error occurs.
func (m Model) viewError() string {
	var b strings.Builder
	b.WriteString(m.viewHeader())
	b.WriteString(styleErr.Render("  ✗ Request failed"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  " + m.errMsg))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewStatusLog renders the scrolling status log.
func (m Model) viewStatusLog() string {
	if len(m.statusLines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")

	for _, line := range m.statusLines {
		switch line.kind {
		case statusOK:
			b.WriteString(styleOK.Render("  ✓ " + line.text))
		case statusWarn:
			b.WriteString(styleWarn.Render("  ⚠ " + line.text))
		default:
			b.WriteString(styleDim.Render("  · " + line.text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// addStatus appends a line to the status log.
func (m *Model) addStatus(kind statusKind, text string) {
	m.statusLines = append(m.statusLines, statusLine{kind: kind, text: text})
}

// tickAfterSecond returns a command that fires tickMsg after one second.
func tickAfterSecond() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// formatDuration formats a duration as "Xh Ym", "Xm Ys" or "Xs".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
