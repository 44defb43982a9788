package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"tradeq/internal/domain"
	apperrors "tradeq/internal/errors"
	"tradeq/internal/plan"
)

// QueryPort is the TUI-facing subset of the query service.
type QueryPort interface {
	Ask(ctx context.Context, text string) (*domain.Answer, error)
}

// Model is the Bubble Tea model for the query explorer.
type Model struct {
	service  QueryPort
	timeout  time.Duration
	input    textinput.Model
	viewport viewport.Model
	answer   *domain.Answer
	pipeline string
	banner   string
	status   string
	cursor   int
	ready    bool
	pending  bool
}

type answerMsg struct {
	answer *domain.Answer
	err    error
}

// New creates a new TUI model instance. banner is shown under the title,
// e.g. the store and inference provider in use.
func New(service QueryPort, banner string, timeout time.Duration) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about trades and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return Model{service: service, timeout: timeout, input: ti, viewport: vp, banner: banner, status: "Ready. Type a question."}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) ask(q string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		a, err := m.service.Ask(ctx, q)
		return answerMsg{answer: a, err: err}
	}
}

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		totalHeaderLines := 3 // title, banner, plan line
		totalFooterLines := 1
		reserved := totalHeaderLines + totalFooterLines + qh + 1
		vh := msg.Height - reserved
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.renderCurrentResult())
		return m, nil
	case answerMsg:
		m.pending = false
		if msg.err != nil {
			m.status = "Error: " + describe(msg.err)
			m.answer = nil
			m.pipeline = ""
		} else {
			m.answer = msg.answer
			m.cursor = 0
			m.status = fmt.Sprintf("%d result(s) from %s in %s", len(msg.answer.Results), msg.answer.Collection, msg.answer.Elapsed.Round(time.Millisecond))
			if msg.answer.Truncated {
				m.status += " (truncated)"
			}
			rendered, err := plan.Render(msg.answer.Pipeline)
			if err != nil {
				m.status += "; pipeline not shown: " + err.Error()
			}
			m.pipeline = rendered
		}
		m.viewport.SetContent(m.renderCurrentResult())
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" && !m.pending {
				m.pending = true
				m.status = fmt.Sprintf("Asking %q ...", q)
				return m, m.ask(q)
			}
		case "down":
			if n := m.resultCount(); n > 0 {
				m.cursor = (m.cursor + 1) % n
				m.viewport.SetContent(m.renderCurrentResult())
				return m, nil
			}
		case "up":
			if n := m.resultCount(); n > 0 {
				m.cursor = (m.cursor - 1 + n) % n
				m.viewport.SetContent(m.renderCurrentResult())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the TUI layout and current result.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Trade Query Explorer")
	banner := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.banner)
	planLine := planStyle.Render(truncate(m.pipeline, max(20, m.viewport.Width)))
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + banner + "\n" + planLine + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) resultCount() int {
	if m.answer == nil {
		return 0
	}
	return len(m.answer.Results)
}

func (m Model) renderCurrentResult() string {
	if m.resultCount() == 0 {
		if m.answer != nil {
			return "The query matched no documents."
		}
		return "No results yet."
	}
	doc := m.answer.Results[m.cursor]
	title := fmt.Sprintf("Document %d/%d  (%s)", m.cursor+1, len(m.answer.Results), m.answer.Collection)
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return title + "\n\n" + fmt.Sprint(doc)
	}
	return title + "\n\n" + highlightMatchingLines(string(body), m.answer.Query)
}

// describe prefixes pipeline errors with their kind.
func describe(err error) string {
	if e, ok := apperrors.As(err); ok {
		return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	}
	return err.Error()
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	planStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	unicodeWordRe  = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
)

// highlightMatchingLines emphasises JSON lines that share a word with the question.
func highlightMatchingLines(text, query string) string {
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if tokenOverlapScore(qTokens, line) > 0 {
			lines[i] = highlightStyle.Render(line)
		}
	}
	return strings.Join(lines, "\n")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, line string) int {
	score := 0
	tokens := unicodeWordRe.FindAllString(strings.ToLower(line), -1)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-3]) + "..."
}
