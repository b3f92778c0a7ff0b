package tui

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ragchat/internal/service"
)

// ChatPort is the TUI-facing subset of the pipeline.
type ChatPort interface {
	NewSession() (*service.Session, error)
	Query(ctx context.Context, session *service.Session, question string) (service.Answer, error)
}

type exchange struct {
	question string
	answer   service.Answer
	err      error
}

type answerMsg struct {
	exchange
}

// Model is the Bubble Tea model for the chat application.
type Model struct {
	port     ChatPort
	session  *service.Session
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	history  []exchange
	overview string
	status   string
	cursor   int
	busy     bool
	cancel   context.CancelFunc
	ready    bool
}

// New creates a chat model bound to a fresh session.
func New(port ChatPort, overview string) (Model, error) {
	session, err := port.NewSession()
	if err != nil {
		return Model{}, err
	}
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question (/clear resets the conversation, quit exits)"
	ti.Focus()
	ti.CharLimit = 0
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		port:     port,
		session:  session,
		input:    ti,
		viewport: viewport.New(0, 0),
		spinner:  sp,
		overview: overview,
		status:   "Ready. Ask anything about the documents.",
	}, nil
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and answer events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header+overview, status, spacer
		vh := msg.Height - reserved
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.refresh()
		return m, nil
	case answerMsg:
		m.busy = false
		m.cancel = nil
		m.history = append(m.history, msg.exchange)
		m.cursor = 0
		switch {
		case msg.err == nil:
			m.status = fmt.Sprintf("Answered from %d passage(s).", len(msg.answer.Sources))
		case errors.Is(msg.err, context.Canceled):
			m.status = "Cancelled."
		default:
			m.status = "Error: " + msg.err.Error()
		}
		m.refresh()
		return m, nil
	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
		switch msg.String() {
		case "esc":
			if m.busy && m.cancel != nil {
				m.cancel()
				m.status = "Cancelling..."
			}
			return m, nil
		case "enter":
			return m.submit()
		case "down":
			if n := len(m.lastSources()); n > 0 {
				m.cursor = (m.cursor + 1) % n
				m.refresh()
				return m, nil
			}
		case "up":
			if n := len(m.lastSources()); n > 0 {
				m.cursor = (m.cursor - 1 + n) % n
				m.refresh()
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	q := strings.TrimSpace(m.input.Value())
	if q == "" || m.busy {
		return m, nil
	}
	m.input.SetValue("")
	switch strings.ToLower(q) {
	case "quit", "exit":
		return m, tea.Quit
	case "/clear":
		session, err := m.port.NewSession()
		if err != nil {
			m.status = "Error: " + err.Error()
			return m, nil
		}
		m.session = session
		m.history = nil
		m.cursor = 0
		m.status = "Conversation cleared."
		m.refresh()
		return m, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.busy = true
	m.cancel = cancel
	m.status = "Thinking... (esc to cancel)"
	port, session := m.port, m.session
	ask := func() tea.Msg {
		defer cancel()
		a, err := port.Query(ctx, session, q)
		return answerMsg{exchange{question: q, answer: a, err: err}}
	}
	return m, tea.Batch(ask, m.spinner.Tick)
}

func (m Model) lastSources() []service.Source {
	if len(m.history) == 0 {
		return nil
	}
	return m.history[len(m.history)-1].answer.Sources
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

// View renders the TUI layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("RAG Chat")
	overview := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.overview)
	input := queryBoxStyle.Render(m.input.View())
	statusText := m.status
	if m.busy {
		statusText = m.spinner.View() + " " + statusText
	}
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(statusText)
	transcript := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + overview + "\n" + transcript + "\n" + input + "\n" + status
}

func (m Model) renderTranscript() string {
	if len(m.history) == 0 {
		return "No questions yet."
	}
	var b strings.Builder
	for i, ex := range m.history {
		b.WriteString(userStyle.Render("You: ") + ex.question + "\n")
		if ex.err != nil {
			b.WriteString(errorStyle.Render("Error: "+ex.err.Error()) + "\n\n")
			continue
		}
		b.WriteString(botStyle.Render("Bot: ") + ex.answer.Text + "\n")
		if !ex.answer.Grounded {
			b.WriteString(noteStyle.Render("(no matching passages; answer is not grounded in the documents)") + "\n")
		}
		if i == len(m.history)-1 && len(ex.answer.Sources) > 0 {
			b.WriteString(m.renderSource(ex))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderSource(ex exchange) string {
	src := ex.answer.Sources[m.cursor]
	title := fmt.Sprintf("Source %d/%d  %s  score=%.3f  (up/down to browse)",
		m.cursor+1, len(ex.answer.Sources), src.Source, src.Score)
	return noteStyle.Render(title) + "\n" + highlightBestSentence(src.Text, ex.question) + "\n"
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	botStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	noteStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	unicodeWordRe  = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe     = regexp.MustCompile(`[^.!?]+[.!?]+|[^.!?]+$`)
)

// highlightBestSentence emphasizes the sentence sharing the most words with query.
func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(trimAll(sentences), " ")
	}
	bestIdx, bestScore := 0, -1
	for i, s := range sentences {
		if score := tokenOverlapScore(qTokens, s); score > bestScore {
			bestScore, bestIdx = score, i
		}
	}
	out := trimAll(sentences)
	out[bestIdx] = highlightStyle.Render(out[bestIdx])
	return strings.Join(out, " ")
}

func trimAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.TrimSpace(s)
	}
	return out
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	seen := make(map[string]struct{})
	for _, t := range unicodeWordRe.FindAllString(strings.ToLower(sentence), -1) {
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
