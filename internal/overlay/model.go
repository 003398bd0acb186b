// Package overlay is the terminal front end of the intervention presenter.
// It polls the control API and takes over the screen while an intervention
// is active.
package overlay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/eliteGoblin/focusd/app_limit/internal/control"
	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
)

const requestTimeout = 3 * time.Second

// API is the control surface the overlay drives.
type API interface {
	Intervention(ctx context.Context) (*control.Intervention, error)
	Dismiss(ctx context.Context) error
	SubmitPassword(ctx context.Context, password string) (bool, error)
	ForgotPassword(ctx context.Context) error
}

type action int

const (
	actionDismiss action = iota
	actionSubmit
	actionForgot
)

type pollMsg struct{}

type interventionMsg struct {
	iv  *control.Intervention
	err error
}

type actionMsg struct {
	action   action
	accepted bool
	err      error
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
	messageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	buttonStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1).Border(lipgloss.RoundedBorder())
	panelStyle   = lipgloss.NewStyle().Padding(1, 4).Border(lipgloss.DoubleBorder()).BorderForeground(lipgloss.Color("203"))
)

// Model is the bubbletea model of the overlay.
type Model struct {
	api     API
	poll    time.Duration
	current *control.Intervention
	input   textinput.Model
	status  string
	width   int
	height  int
}

// New creates an overlay model polling api every poll interval.
func New(api API, poll time.Duration) Model {
	input := textinput.New()
	input.Placeholder = "password"
	input.EchoMode = textinput.EchoPassword
	input.EchoCharacter = '•'
	input.CharLimit = 128
	input.Width = 24

	return Model{
		api:    api,
		poll:   poll,
		input:  input,
		width:  80,
		height: 24,
	}
}

// Run starts the overlay in the alternate screen until the user quits or ctx ends.
func Run(ctx context.Context, api API, poll time.Duration) error {
	p := tea.NewProgram(New(api, poll), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

// Init fetches the current intervention.
func (m Model) Init() tea.Cmd {
	return m.fetch()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case pollMsg:
		return m, m.fetch()

	case interventionMsg:
		return m.onIntervention(msg)

	case actionMsg:
		return m.onAction(msg)

	case tea.KeyMsg:
		return m.onKey(msg)
	}
	return m, nil
}

func (m Model) onIntervention(msg interventionMsg) (tea.Model, tea.Cmd) {
	next := tea.Tick(m.poll, func(time.Time) tea.Msg { return pollMsg{} })
	if msg.err != nil {
		m.status = fmt.Sprintf("engine unreachable: %v", msg.err)
		return m, next
	}
	if msg.iv == nil {
		m.current = nil
		m.input.Blur()
		return m, next
	}
	if m.current == nil || m.current.ID != msg.iv.ID {
		m.status = ""
		m.input.Reset()
	}
	m.current = msg.iv
	if m.current.RequiresPassword {
		m.input.Focus()
	}
	return m, next
}

func (m Model) onAction(msg actionMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.status = msg.err.Error()
		return m, nil
	}
	if msg.action == actionSubmit && !msg.accepted {
		m.status = "Wrong password"
		m.input.Reset()
		return m, nil
	}
	m.current = nil
	m.status = ""
	m.input.Reset()
	m.input.Blur()
	return m, nil
}

func (m Model) onKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}
	if m.current == nil {
		if msg.String() == "q" {
			return m, tea.Quit
		}
		return m, nil
	}

	if m.current.RequiresPassword {
		switch msg.String() {
		case "enter":
			return m, m.submit(m.input.Value())
		case "ctrl+f":
			return m, m.forgot()
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "enter", " ", "d":
		return m, m.dismiss()
	}
	return m, nil
}

// View renders the overlay.
func (m Model) View() string {
	if m.current == nil {
		line := hintStyle.Render("applimit overlay: no active intervention (q to quit)")
		if m.status != "" {
			line += "\n" + errorStyle.Render(m.status)
		}
		return line
	}

	title := m.current.DisplayName
	if title == "" {
		title = m.current.PackageID
	}
	lines := []string{
		titleStyle.Render(title),
		"",
		messageStyle.Render(m.current.Message),
	}
	if m.current.RequiresPassword {
		lines = append(lines, "", m.input.View(), "", hintStyle.Render("enter submit · ctrl+f forgot password"))
	}
	if m.status != "" {
		lines = append(lines, "", errorStyle.Render(m.status))
	}
	panel := panelStyle.Render(strings.Join(lines, "\n"))

	if m.current.RequiresPassword {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, panel)
	}

	// The dismiss button sits in the corner chosen by the engine.
	button := buttonStyle.Render("Dismiss")
	corner := control.ParseCorner(m.current.DismissCorner)
	align := lipgloss.Left
	if corner == domain.CornerTopRight || corner == domain.CornerBottomRight {
		align = lipgloss.Right
	}
	row := lipgloss.PlaceHorizontal(m.width, align, button)
	body := lipgloss.Place(m.width, max(m.height-lipgloss.Height(row), 1), lipgloss.Center, lipgloss.Center, panel)

	if corner == domain.CornerTopLeft || corner == domain.CornerTopRight {
		return lipgloss.JoinVertical(lipgloss.Left, row, body)
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, row)
}

func (m Model) fetch() tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		iv, err := api.Intervention(ctx)
		return interventionMsg{iv: iv, err: err}
	}
}

func (m Model) dismiss() tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return actionMsg{action: actionDismiss, err: api.Dismiss(ctx)}
	}
}

func (m Model) submit(password string) tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		ok, err := api.SubmitPassword(ctx, password)
		return actionMsg{action: actionSubmit, accepted: ok, err: err}
	}
}

func (m Model) forgot() tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return actionMsg{action: actionForgot, err: api.ForgotPassword(ctx)}
	}
}
