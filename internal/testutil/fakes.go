package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/Veraticus/notesync/internal/connector"
	"github.com/Veraticus/notesync/internal/model"
)

// ScriptedLLM answers prompts with Respond and records every prompt.
type ScriptedLLM struct {
	Respond func(prompt string) (string, error)
	prompts []string
	mu      sync.Mutex
}

// StaticLLM answers every prompt with answer.
func StaticLLM(answer string) *ScriptedLLM {
	return &ScriptedLLM{Respond: func(string) (string, error) { return answer, nil }}
}

// Complete implements llm.Client.
func (m *ScriptedLLM) Complete(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.Respond(prompt)
}

// Calls returns how many prompts were sent.
func (m *ScriptedLLM) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// CallsContaining counts prompts that contain substr.
func (m *ScriptedLLM) CallsContaining(substr string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.prompts {
		if strings.Contains(p, substr) {
			n++
		}
	}
	return n
}

// FakeDestination records pushes and replays queued errors per result id.
type FakeDestination struct {
	Snapshot []model.DestinationRecord
	errs     map[string][]error
	pushed   []connector.UploadRequest
	attempts map[string]int
	mu       sync.Mutex
}

// NewFakeDestination creates a destination serving records.
func NewFakeDestination(records ...model.DestinationRecord) *FakeDestination {
	return &FakeDestination{
		Snapshot: records,
		errs:     make(map[string][]error),
		attempts: make(map[string]int),
	}
}

// FailNext queues errors returned by the next pushes of resultID.
func (d *FakeDestination) FailNext(resultID string, errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs[resultID] = append(d.errs[resultID], errs...)
}

// Records implements connector.Destination.
func (d *FakeDestination) Records(_ context.Context, dates model.DateRange) ([]model.DestinationRecord, error) {
	var out []model.DestinationRecord
	for _, r := range d.Snapshot {
		if dates.Contains(r.VisitDate) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Push implements connector.Destination.
func (d *FakeDestination) Push(_ context.Context, req connector.UploadRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.attempts[req.ResultID]++
	if queue := d.errs[req.ResultID]; len(queue) > 0 {
		d.errs[req.ResultID] = queue[1:]
		return queue[0]
	}
	d.pushed = append(d.pushed, req)
	return nil
}

// Pushed returns the requests delivered successfully.
func (d *FakeDestination) Pushed() []connector.UploadRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]connector.UploadRequest(nil), d.pushed...)
}

// Attempts returns how many pushes were tried for resultID.
func (d *FakeDestination) Attempts(resultID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts[resultID]
}
