package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/Veraticus/notesync/internal/model"
)

// maxExcerpt bounds how much of the cleaned note is shown per review.
const maxExcerpt = 800

// ErrReviewAborted is returned when the reviewer quits the session.
var ErrReviewAborted = errors.New("review session ended by user")

// Decision is the reviewer's choice for one note.
type Decision struct {
	Status  model.ReviewStatus
	Notes   string
	Skipped bool
}

// ReviewStats summarizes an interactive review session.
type ReviewStats struct {
	Duration      time.Duration
	Approved      int
	NeedsRevision int
	Rejected      int
	Skipped       int
}

// Reviewed counts notes that received a decision.
func (s ReviewStats) Reviewed() int {
	return s.Approved + s.NeedsRevision + s.Rejected
}

// Prompter walks a reviewer through the notes that need human attention.
type Prompter struct {
	startTime   time.Time
	writer      io.Writer
	reader      *NonBlockingReader
	progressBar *progressbar.ProgressBar
	stats       ReviewStats
	statsMutex  sync.Mutex
}

// NewPrompter creates a prompter reading answers from reader and writing to writer.
func NewPrompter(reader io.Reader, writer io.Writer) *Prompter {
	if reader == nil {
		reader = os.Stdin
	}
	if writer == nil {
		writer = os.Stdout
	}
	return &Prompter{
		reader:    NewNonBlockingReader(reader),
		writer:    writer,
		startTime: time.Now(),
	}
}

// SetTotal sizes the progress bar for a queue of total notes.
func (p *Prompter) SetTotal(total int) {
	if total > 0 {
		p.progressBar = NewProgressBar(p.writer, total, "Reviewing notes...")
	}
}

// ReviewNote shows one note and asks for a decision. Quitting returns
// ErrReviewAborted.
func (p *Prompter) ReviewNote(ctx context.Context, result *model.ProcessingResult) (Decision, error) {
	if _, err := fmt.Fprintln(p.writer, RenderBox("Note Review: "+result.PatientName, formatNote(result))); err != nil {
		return Decision{}, fmt.Errorf("failed to write note box: %w", err)
	}

	options := FormatPrompt("Decision:") + "\n" +
		"  [A] Approve for upload\n" +
		"  [N] Needs revision\n" +
		"  [R] Reject\n" +
		"  [S] Skip for now\n" +
		"  [Q] Quit review\n"
	if _, err := fmt.Fprintln(p.writer, options); err != nil {
		return Decision{}, fmt.Errorf("failed to write options: %w", err)
	}

	choice, err := p.promptChoice(ctx, "Choice", []string{"a", "n", "r", "s", "q"})
	if err != nil {
		return Decision{}, err
	}

	var decision Decision
	switch choice {
	case "a":
		decision.Status = model.ReviewApproved
		decision.Notes, err = p.promptText(ctx, "Notes (optional)", false)
	case "n":
		decision.Status = model.ReviewNeedsRevision
		decision.Notes, err = p.promptText(ctx, "What needs to change", true)
	case "r":
		decision.Status = model.ReviewRejected
		decision.Notes, err = p.promptText(ctx, "Reason for rejection", true)
	case "s":
		decision.Skipped = true
	case "q":
		return Decision{}, ErrReviewAborted
	}
	if err != nil {
		return Decision{}, err
	}

	p.record(decision)
	Advance(p.progressBar)
	return decision, nil
}

// Stats returns the session statistics so far.
func (p *Prompter) Stats() ReviewStats {
	p.statsMutex.Lock()
	defer p.statsMutex.Unlock()
	stats := p.stats
	stats.Duration = time.Since(p.startTime)
	return stats
}

// ShowCompletion prints the session summary.
func (p *Prompter) ShowCompletion() {
	if p.progressBar != nil {
		if err := p.progressBar.Finish(); err != nil {
			slog.Warn("Failed to finish progress bar", "error", err)
		}
	}

	stats := p.Stats()
	summary := ChartIcon + " Statistics:\n" +
		fmt.Sprintf("  • Reviewed: %d\n", stats.Reviewed()) +
		fmt.Sprintf("  • Approved: %d\n", stats.Approved) +
		fmt.Sprintf("  • Needs revision: %d\n", stats.NeedsRevision) +
		fmt.Sprintf("  • Rejected: %d\n", stats.Rejected) +
		fmt.Sprintf("  • Skipped: %d\n", stats.Skipped) +
		fmt.Sprintf("  • Time taken: %s\n", stats.Duration.Round(time.Second))

	if _, err := fmt.Fprintln(p.writer, RenderBox("Review Session Complete", summary)); err != nil {
		slog.Warn("Failed to write completion box", "error", err)
	}
}

func (p *Prompter) record(d Decision) {
	p.statsMutex.Lock()
	defer p.statsMutex.Unlock()
	switch {
	case d.Skipped:
		p.stats.Skipped++
	case d.Status == model.ReviewApproved:
		p.stats.Approved++
	case d.Status == model.ReviewNeedsRevision:
		p.stats.NeedsRevision++
	case d.Status == model.ReviewRejected:
		p.stats.Rejected++
	}
}

func (p *Prompter) promptChoice(ctx context.Context, prompt string, validChoices []string) (string, error) {
	for {
		if _, err := fmt.Fprintf(p.writer, "%s ", FormatPrompt(prompt)); err != nil {
			return "", fmt.Errorf("failed to write prompt: %w", err)
		}

		input, err := p.reader.ReadLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", fmt.Errorf("input terminated: %w", ErrReviewAborted)
			}
			return "", err
		}

		choice := strings.ToLower(input)
		for _, valid := range validChoices {
			if choice == valid {
				return choice, nil
			}
		}

		if _, err := fmt.Fprintln(p.writer, FormatError("Invalid choice. Please try again.")); err != nil {
			slog.Warn("Failed to write error message", "error", err)
		}
	}
}

func (p *Prompter) promptText(ctx context.Context, prompt string, required bool) (string, error) {
	for {
		if _, err := fmt.Fprintf(p.writer, "%s ", FormatPrompt(prompt)); err != nil {
			return "", fmt.Errorf("failed to write prompt: %w", err)
		}

		input, err := p.reader.ReadLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", fmt.Errorf("input terminated: %w", ErrReviewAborted)
			}
			return "", err
		}
		if input != "" || !required {
			return input, nil
		}

		if _, err := fmt.Fprintln(p.writer, FormatError("A note is required for this decision.")); err != nil {
			slog.Warn("Failed to write error message", "error", err)
		}
	}
}

func formatNote(r *model.ProcessingResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s Details:\n", InfoIcon)
	fmt.Fprintf(&b, "  Visit date: %s\n", r.VisitDate.Format("Jan 2, 2006"))
	fmt.Fprintf(&b, "  Match tier: %s\n", StyleStatus(string(r.MatchTier)))
	fmt.Fprintf(&b, "  Processing: %s (attempt %d)\n", StyleStatus(string(r.ProcessingStatus)), r.ProcessingAttempts)
	fmt.Fprintf(&b, "  Checks: %d/%d passed", r.PassedChecks, r.TotalChecks)
	if r.CriticalFailures > 0 {
		b.WriteString(ErrorStyle.Render(fmt.Sprintf(", %d critical", r.CriticalFailures)))
	}
	b.WriteString("\n")

	if len(r.InterventionReasons) > 0 {
		fmt.Fprintf(&b, "\n%s Needs review because:\n", WarningIcon)
		for _, reason := range r.InterventionReasons {
			fmt.Fprintf(&b, "  • %s\n", reason)
		}
	}

	var failed []model.ValidationCheck
	for _, check := range r.Checks {
		if !check.Passed {
			failed = append(failed, check)
		}
	}
	if len(failed) > 0 {
		fmt.Fprintf(&b, "\n%s Failed checks:\n", ErrorIcon)
		for _, check := range failed {
			fmt.Fprintf(&b, "  • [%s] %s", check.Priority, check.Name)
			if check.Message != "" {
				fmt.Fprintf(&b, ": %s", check.Message)
			}
			b.WriteString("\n")
		}
	}

	if r.LastError != "" {
		fmt.Fprintf(&b, "\n%s\n", ErrorStyle.Render("Last error: "+r.LastError))
	}

	text := r.FinalCleanedNote
	if text == "" {
		text = r.RawNote
	}
	if runes := []rune(text); len(runes) > maxExcerpt {
		text = string(runes[:maxExcerpt]) + "…"
	}
	fmt.Fprintf(&b, "\n%s\n%s", BoldStyle.Render("Note:"), SubtleStyle.Render(text))

	return b.String()
}
