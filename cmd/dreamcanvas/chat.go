// This file implements the interactive chat interface using bubbletea.
package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dreamcanvas/internal/completion"
	"dreamcanvas/internal/engine"
	"dreamcanvas/internal/flow"
	"dreamcanvas/internal/routing"
	"dreamcanvas/internal/session"
	"dreamcanvas/internal/sessionlog"
)

var sessionID string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start or resume an interactive Dream Canvas session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	},
}

func init() {
	chatCmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id to resume (default: new session)")
}

// specialistInstructions is the opaque instruction content per specialist.
// Tuning these changes tone, not engine behavior.
var specialistInstructions = map[string]string{
	flow.SpecialistDreamCoach: "You are a warm coach helping the user articulate one personal dream. " +
		"Work toward a single, concrete dream statement and propose it as a refined formulation.",
	flow.SpecialistDreamMentor: "You are an experienced mentor guiding the user toward one personal dream. " +
		"Ask probing questions, then propose a refined dream statement.",
	flow.SpecialistValuesBuilder: "You help the user collect the personal values behind their dream, " +
		"one short statement per value.",
	flow.SpecialistRulesBuilder: "You help the user write the everyday rules that will carry their dream, " +
		"one short actionable statement per rule.",
	flow.SpecialistSummaryComposer: "You compose the user's dream, values and rules into one cohesive " +
		"canvas summary and propose it for confirmation.",
}

const sessionIntro = "Welcome to your Dream Canvas. Together we'll shape your dream, " +
	"name the values behind it, set your everyday rules, and wrap it all into one summary."

func runChat(ctx context.Context) error {
	if cfg.LLM.APIKey == "" {
		return fmt.Errorf("no API key configured (set GEMINI_API_KEY or llm.api_key)")
	}

	store, err := session.NewStore(filepath.Join(workspace, cfg.Session.StateDir))
	if err != nil {
		return err
	}

	newSession := sessionID == ""
	if newSession {
		sessionID = uuid.NewString()
	}
	state, err := store.Load(sessionID)
	if err != nil {
		return err
	}
	if state == nil {
		first := flow.FirstStep()
		state = session.New(first, flow.SpecialistFor(first, session.Mode(cfg.Mode)))
		// Persist right away so a later resume derives the same log path.
		if err := store.Save(sessionID, state); err != nil {
			return err
		}
	}

	usageLog, err := sessionlog.Open(filepath.Join(workspace, cfg.Session.LogDir), sessionID, state.StartedAt)
	if err != nil {
		return err
	}

	providerCfg := completion.DefaultGeminiConfig(cfg.LLM.APIKey)
	providerCfg.Timeout = cfg.ProviderTimeout()
	if cfg.LLM.BaseURL != "" {
		providerCfg.BaseURL = cfg.LLM.BaseURL
	}

	eng := engine.NewEngine(engine.EngineConfig{
		Client:   completion.NewClient(completion.NewGeminiProvider(providerCfg), cfg.CallTimeout()),
		Resolver: routing.NewResolver(),
		Log:      usageLog,
		Instructions: engine.Instructions{
			BySpecialist: specialistInstructions,
			SessionIntro: sessionIntro,
		},
		Mode:            session.Mode(cfg.Mode),
		FallbackModel:   cfg.LLM.Model,
		RoutingPath:     filepath.Join(workspace, cfg.Routing.ConfigPath),
		RoutingOn:       cfg.Routing.Enabled,
		Temperature:     cfg.LLM.Temperature,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
	})

	logger.Info("chat session started",
		zap.String("session", sessionID),
		zap.Bool("resumed", !newSession),
		zap.String("mode", cfg.Mode))

	p := tea.NewProgram(
		newChatModel(ctx, eng, store, state, sessionID, cfg.Mode),
		tea.WithAltScreen(),
	)
	if _, err := p.Run(); err != nil {
		return err
	}

	fmt.Printf("Session %s\nUsage log: %s\n", sessionID, usageLog.Path())
	return nil
}

// chatStyles groups the lipgloss styles of the chat view.
type chatStyles struct {
	header  lipgloss.Style
	userTag lipgloss.Style
	botTag  lipgloss.Style
	muted   lipgloss.Style
	errText lipgloss.Style
	spin    lipgloss.Style
}

func defaultChatStyles() chatStyles {
	return chatStyles{
		header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		userTag: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		botTag:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		errText: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		spin:    lipgloss.NewStyle().Foreground(lipgloss.Color("205")),
	}
}

type chatMessage struct {
	role    string // "user" or "canvas"
	content string
	time    time.Time
}

// Messages for tea updates.
type (
	turnDoneMsg   *engine.TurnResult
	turnFailedMsg *engine.TurnError
)

// chatModel is the main model for the interactive chat interface.
type chatModel struct {
	textinput textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	styles    chatStyles

	history   []chatMessage
	isLoading bool
	err       error
	width     int
	height    int
	ready     bool

	ctx       context.Context
	eng       *engine.Engine
	store     *session.Store
	state     *session.State
	sessionID string
	mode      string
	turnCount int
}

func newChatModel(ctx context.Context, eng *engine.Engine, store *session.Store, state *session.State, sessionID, mode string) chatModel {
	styles := defaultChatStyles()

	ti := textinput.New()
	ti.Placeholder = "Type your message... (Enter to send, Ctrl+C to exit)"
	ti.Focus()
	ti.Prompt = "│ "
	ti.CharLimit = 4096
	ti.Width = 80
	ti.PromptStyle = styles.userTag
	ti.TextStyle = lipgloss.NewStyle()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.spin

	vp := viewport.New(80, 20)
	vp.SetContent("")

	return chatModel{
		textinput: ti,
		viewport:  vp,
		spinner:   sp,
		styles:    styles,
		history:   []chatMessage{},
		ctx:       ctx,
		eng:       eng,
		store:     store,
		state:     state,
		sessionID: sessionID,
		mode:      mode,
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
	)
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		spCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit

		case tea.KeyEnter:
			if !m.isLoading {
				return m.handleSubmit()
			}
		}
		if !m.isLoading {
			m.textinput, tiCmd = m.textinput.Update(msg)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 3
		footerHeight := 1
		inputHeight := 3

		if !m.ready {
			m.viewport = viewport.New(msg.Width-4, msg.Height-headerHeight-footerHeight-inputHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 4
			m.viewport.Height = msg.Height - headerHeight - footerHeight - inputHeight
		}
		m.textinput.Width = msg.Width - 4
		m.viewport.SetContent(m.renderHistory())

	case spinner.TickMsg:
		if m.isLoading {
			m.spinner, spCmd = m.spinner.Update(msg)
			return m, spCmd
		}

	case turnDoneMsg:
		m.isLoading = false
		m.turnCount++
		res := (*engine.TurnResult)(msg)
		m.history = append(m.history, chatMessage{role: "canvas", content: res.Text, time: time.Now()})
		if res.State != nil {
			m.state = res.State
			if err := m.store.Save(m.sessionID, m.state); err != nil {
				logger.Warn("failed to persist session state", zap.Error(err))
			}
		}
		m.viewport.SetContent(m.renderHistory())
		m.viewport.GotoBottom()

	case turnFailedMsg:
		m.isLoading = false
		terr := (*engine.TurnError)(msg)
		text := terr.UserMessage
		if terr.RetryAfterMS > 0 {
			text += fmt.Sprintf(" (try again in about %ds)", terr.RetryAfterMS/1000)
		}
		m.history = append(m.history, chatMessage{role: "canvas", content: text, time: time.Now()})
		m.viewport.SetContent(m.renderHistory())
		m.viewport.GotoBottom()
	}

	m.viewport, vpCmd = m.viewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd, spCmd)
}

func (m chatModel) handleSubmit() (tea.Model, tea.Cmd) {
	input := strings.TrimSpace(m.textinput.Value())
	if input == "" {
		return m, nil
	}

	if strings.HasPrefix(input, "/") {
		return m.handleCommand(input)
	}

	m.history = append(m.history, chatMessage{role: "user", content: input, time: time.Now()})
	m.textinput.Reset()
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
	m.isLoading = true

	return m, tea.Batch(
		m.spinner.Tick,
		m.sendTurn(input),
	)
}

func (m chatModel) handleCommand(input string) (tea.Model, tea.Cmd) {
	switch strings.Fields(input)[0] {
	case "/quit", "/exit", "/q":
		return m, tea.Quit

	case "/clear":
		m.history = []chatMessage{}
		m.viewport.SetContent("")
		m.textinput.Reset()
		return m, nil

	default:
		m.history = append(m.history, chatMessage{
			role:    "canvas",
			content: "Commands: /clear clears the screen, /quit leaves the session.",
			time:    time.Now(),
		})
		m.textinput.Reset()
		m.viewport.SetContent(m.renderHistory())
		m.viewport.GotoBottom()
		return m, nil
	}
}

// sendTurn runs the turn pipeline off the UI loop and reports back as a msg.
func (m chatModel) sendTurn(input string) tea.Cmd {
	ctx, eng, state := m.ctx, m.eng, m.state
	return func() tea.Msg {
		res, terr := eng.HandleTurn(ctx, engine.TurnRequest{Message: input}, state)
		if terr != nil {
			return turnFailedMsg(terr)
		}
		return turnDoneMsg(res)
	}
}

func (m chatModel) renderHistory() string {
	width := m.viewport.Width
	if width <= 0 {
		width = 80
	}
	body := lipgloss.NewStyle().Width(width)

	var b strings.Builder
	for i, msg := range m.history {
		if i > 0 {
			b.WriteString("\n\n")
		}
		tag := m.styles.botTag.Render("Canvas")
		if msg.role == "user" {
			tag = m.styles.userTag.Render("You")
		}
		b.WriteString(tag)
		b.WriteString(" ")
		b.WriteString(m.styles.muted.Render(msg.time.Format("15:04")))
		b.WriteString("\n")
		b.WriteString(body.Render(msg.content))
	}
	return b.String()
}

func (m chatModel) View() string {
	if !m.ready {
		return "Initializing..."
	}

	header := m.renderHeader()

	chatView := m.viewport.View()
	if m.isLoading {
		chatView += "\n" + m.spinner.View() + m.styles.muted.Render(" Thinking...")
	}
	if m.err != nil {
		chatView += "\n" + m.styles.errText.Render("Error: "+m.err.Error())
	}

	inputStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(0, 1)
	inputArea := inputStyle.Render(m.textinput.View())

	footer := m.styles.muted.Render("Enter to send · /quit to leave")

	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		chatView,
		inputArea,
		footer,
	)
}

func (m chatModel) renderHeader() string {
	title := m.styles.header.Render(" Dream Canvas ")
	info := m.styles.muted.Render(fmt.Sprintf("session %s · mode %s · step %s",
		shortID(m.sessionID), m.mode, m.state.CurrentStep))

	var status string
	if m.isLoading {
		status = m.styles.spin.Render("● Working")
	} else {
		status = m.styles.muted.Render("● Ready")
	}

	line := lipgloss.JoinHorizontal(lipgloss.Center, title, "  ", status)
	divider := m.styles.muted.Render(strings.Repeat("─", max(m.width, 1)))
	return lipgloss.JoinVertical(lipgloss.Left, line, info, divider)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
