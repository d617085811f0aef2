package tui

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"labrec/internal/domain"
	"labrec/internal/service"
)

// RecommendPort is the console-facing subset of the recommendation service.
type RecommendPort interface {
	Recommend(ctx context.Context, attrs domain.UserAttributes) (*service.Recommendation, error)
	RecommendCandidates(ctx context.Context, userID string, candidates []string) (*service.Recommendation, error)
}

type recommendationMsg struct {
	query string
	rec   *service.Recommendation
	err   error
}

// Model is the Bubble Tea model for the recommendation console.
type Model struct {
	service   RecommendPort
	userID    string
	timeout   time.Duration
	input     textinput.Model
	viewport  viewport.Model
	items     []service.Item
	status    string
	cursor    int
	ready     bool
	busy      bool
	lastQuery string
}

// New creates a new console model instance.
func New(svc RecommendPort, userID string, timeout time.Duration) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Test names, or goals: ...; diseases: ..."
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	if timeout <= 0 {
		timeout = time.Minute
	}
	return Model{service: svc, userID: userID, timeout: timeout, input: ti, viewport: vp, status: "Ready. Type test names and press Enter."}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + qh + 1 // header, status, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.viewport.SetContent(m.renderCurrentItem())
		return m, nil
	case recommendationMsg:
		m.busy = false
		m.lastQuery = msg.query
		m.cursor = 0
		m.items = nil
		if msg.rec != nil {
			m.items = msg.rec.Items
		}
		switch {
		case errors.Is(msg.err, domain.ErrNoRecommendations):
			m.status = fmt.Sprintf("No catalog tests matched %q", msg.query)
		case msg.err != nil:
			m.status = "Error: " + msg.err.Error()
		default:
			m.status = fmt.Sprintf("%d tests for %q", len(m.items), msg.query)
			if n := len(msg.rec.Failures); n > 0 {
				m.status += fmt.Sprintf(" (%d lookups failed)", n)
			}
		}
		m.viewport.SetContent(m.renderCurrentItem())
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" && !m.busy {
				m.busy = true
				m.status = "Resolving..."
				return m, m.recommend(q)
			}
		case "down":
			if len(m.items) > 0 {
				m.cursor = (m.cursor + 1) % len(m.items)
				m.viewport.SetContent(m.renderCurrentItem())
				return m, nil
			}
		case "up":
			if len(m.items) > 0 {
				m.cursor = (m.cursor - 1 + len(m.items)) % len(m.items)
				m.viewport.SetContent(m.renderCurrentItem())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) recommend(q string) tea.Cmd {
	svc, userID, timeout := m.service, m.userID, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		attrs, names, llm := ParseInput(q)
		var (
			rec *service.Recommendation
			err error
		)
		if llm {
			attrs.UserID = userID
			rec, err = svc.Recommend(ctx, attrs)
		} else {
			rec, err = svc.RecommendCandidates(ctx, userID, names)
		}
		return recommendationMsg{query: q, rec: rec, err: err}
	}
}

// ParseInput reads either a comma-separated list of test names or a
// "goals: a, b; diseases: c" attribute line. The bool reports the latter.
func ParseInput(q string) (domain.UserAttributes, []string, bool) {
	var attrs domain.UserAttributes
	lower := strings.ToLower(q)
	if !strings.HasPrefix(lower, "goals:") && !strings.HasPrefix(lower, "diseases:") {
		return attrs, splitList(q), false
	}
	for _, part := range strings.Split(q, ";") {
		key, val, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "goals":
			attrs.HealthGoals = splitList(val)
		case "diseases":
			attrs.CurrentDiseases = splitList(val)
		}
	}
	return attrs, nil, true
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// View renders the console layout and current item.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Lab Test Recommendations")
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) renderCurrentItem() string {
	if len(m.items) == 0 {
		return "No results yet."
	}
	it := m.items[m.cursor]
	r := it.Record
	var b strings.Builder
	fmt.Fprintf(&b, "Test %d/%d  %s match for %q  score=%.3f\n\n", m.cursor+1, len(m.items), it.Kind, it.Candidate, it.Score)
	fmt.Fprintf(&b, "%s\n", nameStyle.Render(r.Name))
	fmt.Fprintf(&b, "ID %s  CPT %s  Price %.2f AED\n", r.ID, orDash(r.CPTCode), r.Price)
	fmt.Fprintf(&b, "Sample %s  Container %s  TAT %s\n\n", orDash(r.SampleType), orDash(r.Container), orDash(r.TAT))
	desc := it.Excerpt
	if desc == "" {
		desc = r.Description
	}
	b.WriteString(highlightBestSentence(desc, it.Candidate))
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	nameStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	unicodeWordRe  = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe     = regexp.MustCompile(`[^.!?]+[.!?]+`)
)

func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	qTokens := toTokenSet(query)
	bestIdx, bestScore := -1, 0
	for i, s := range sentences {
		if score := tokenOverlapScore(qTokens, s); score > bestScore {
			bestScore, bestIdx = score, i
		}
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx {
			sent = highlightStyle.Render(sent)
		}
		sentences[i] = sent
	}
	return strings.Join(sentences, " ")
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
	seen := map[string]struct{}{}
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
