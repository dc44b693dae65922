// Package sessionlog persists the per-session token usage record: an
// append-only set of turn entries keyed by turn id, written to one document
// per session.
//
// The file is read, amended in memory, and rewritten in full per append.
// That is only safe with a single writer per session; concurrent processes
// appending to the same session file would race.
package sessionlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"dreamcanvas/internal/completion"
	"dreamcanvas/internal/logging"
)

// Entry is one turn's usage record. TurnID is the idempotency key: a second
// append with the same id is a no-op and its values are discarded.
type Entry struct {
	TurnID     string           `json:"turn_id"`
	Timestamp  time.Time        `json:"timestamp"`
	Step       string           `json:"step"`
	Specialist string           `json:"specialist"`
	Model      string           `json:"model"`
	Attempts   int              `json:"attempts"`
	Usage      completion.Usage `json:"usage"`
}

// Document is the machine-readable block persisted per session.
type Document struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
	Turns     []Entry   `json:"turns"`
}

// Log is the session token log bound to one file.
type Log struct {
	mu   sync.Mutex
	path string
	doc  Document
}

const (
	docBegin = "<!-- usage-data"
	docEnd   = "usage-data -->"
)

// PathFor derives the session log path from the session id and start time.
func PathFor(dir, sessionID string, startedAt time.Time) string {
	name := fmt.Sprintf("%s_%s.md", startedAt.UTC().Format("2006-01-02T15-04-05"), sessionID)
	return filepath.Join(dir, name)
}

// Open loads the log for a session, creating an empty one when the file does
// not exist yet. A corrupt file is treated as empty rather than failing the
// turn; the next append rewrites it whole.
func Open(dir, sessionID string, startedAt time.Time) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session log dir: %w", err)
	}
	l := &Log{
		path: PathFor(dir, sessionID, startedAt),
		doc:  Document{SessionID: sessionID, StartedAt: startedAt.UTC()},
	}

	raw, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session log: %w", err)
	}
	if doc, ok := parseDocument(raw); ok {
		l.doc = doc
	} else {
		logging.UsageWarn("session log %s unreadable, starting fresh", l.path)
	}
	return l, nil
}

// Append records one turn and rewrites the file. A duplicate turn id leaves
// the stored turn count and aggregate totals unchanged.
func (l *Log) Append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, existing := range l.doc.Turns {
		if existing.TurnID == e.TurnID {
			logging.Usage("duplicate turn_id=%s ignored", e.TurnID)
			return nil
		}
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	l.doc.Turns = append(l.doc.Turns, e)
	logging.Usage("turn=%s step=%s model=%s attempts=%d", e.TurnID, e.Step, e.Model, e.Attempts)
	return l.write()
}

// Turns returns a copy of the recorded entries in append order.
func (l *Log) Turns() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry{}, l.doc.Turns...)
}

// Path returns the log file path.
func (l *Log) Path() string { return l.path }

// StepTotals aggregates usage per step. Steps whose provider never reported
// counters aggregate to zero with Known=false.
type StepTotal struct {
	Step         string
	Turns        int
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	Known        bool
}

// Totals returns per-step aggregates in first-seen step order, plus the grand
// total as the final element's sum across steps.
func (l *Log) Totals() []StepTotal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return totalsOf(l.doc.Turns)
}

func totalsOf(turns []Entry) []StepTotal {
	byStep := make(map[string]*StepTotal)
	var order []string
	for _, e := range turns {
		st, ok := byStep[e.Step]
		if !ok {
			st = &StepTotal{Step: e.Step}
			byStep[e.Step] = st
			order = append(order, e.Step)
		}
		st.Turns++
		if e.Usage.ProviderAvailable {
			st.Known = true
			st.InputTokens += deref(e.Usage.InputTokens)
			st.OutputTokens += deref(e.Usage.OutputTokens)
			st.TotalTokens += deref(e.Usage.TotalTokens)
		}
	}
	out := make([]StepTotal, 0, len(byStep))
	for _, step := range order {
		out = append(out, *byStep[step])
	}
	return out
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

// write regenerates the whole document: the human-readable summary followed
// by the machine-readable JSON block.
func (l *Log) write() error {
	data, err := json.MarshalIndent(l.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session log: %w", err)
	}

	var b strings.Builder
	b.WriteString(l.renderSummary())
	b.WriteString("\n")
	b.WriteString(docBegin)
	b.WriteString("\n")
	b.Write(data)
	b.WriteString("\n")
	b.WriteString(docEnd)
	b.WriteString("\n")

	if err := os.WriteFile(l.path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write session log: %w", err)
	}
	return nil
}

func (l *Log) renderSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Session %s\n\n", l.doc.SessionID)
	fmt.Fprintf(&b, "Started: %s\n\n", l.doc.StartedAt.Format(time.RFC3339))

	b.WriteString("## Turns\n\n")
	b.WriteString("| # | Turn | Step | Specialist | Model | Attempts | Tokens |\n")
	b.WriteString("|---|------|------|------------|-------|----------|--------|\n")
	for i, e := range l.doc.Turns {
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s | %d | %s |\n",
			i+1, e.TurnID, e.Step, e.Specialist, e.Model, e.Attempts, tokensCell(e.Usage))
	}

	b.WriteString("\n## Per step\n\n")
	b.WriteString("| Step | Turns | Input | Output | Total |\n")
	b.WriteString("|------|-------|-------|--------|-------|\n")
	grand := StepTotal{Step: "all"}
	for _, st := range totalsOf(l.doc.Turns) {
		fmt.Fprintf(&b, "| %s | %d | %d | %d | %d |\n",
			st.Step, st.Turns, st.InputTokens, st.OutputTokens, st.TotalTokens)
		grand.Turns += st.Turns
		grand.InputTokens += st.InputTokens
		grand.OutputTokens += st.OutputTokens
		grand.TotalTokens += st.TotalTokens
	}
	fmt.Fprintf(&b, "\nGrand total: %d turns, %d input, %d output, %d total tokens.\n",
		grand.Turns, grand.InputTokens, grand.OutputTokens, grand.TotalTokens)
	return b.String()
}

func tokensCell(u completion.Usage) string {
	if !u.ProviderAvailable || u.TotalTokens == nil {
		return "n/a"
	}
	return fmt.Sprintf("%d", *u.TotalTokens)
}

// parseDocument extracts the JSON block from a previously written file.
func parseDocument(raw []byte) (Document, bool) {
	s := string(raw)
	start := strings.Index(s, docBegin)
	end := strings.LastIndex(s, docEnd)
	if start < 0 || end < 0 || end <= start {
		return Document{}, false
	}
	payload := s[start+len(docBegin) : end]

	var doc Document
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &doc); err != nil {
		return Document{}, false
	}
	if doc.SessionID == "" {
		return Document{}, false
	}
	sort.SliceStable(doc.Turns, func(i, j int) bool {
		return doc.Turns[i].Timestamp.Before(doc.Turns[j].Timestamp)
	})
	return doc, true
}
