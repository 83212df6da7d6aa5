// Package matcher pairs source notes with destination EHR records and scores
// the confidence of each pairing.
package matcher

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/notesync/internal/model"
)

// Weights combine the similarity terms into a score. They are renormalized
// when the content term does not apply.
type Weights struct {
	Name    float64
	Date    float64
	Content float64
}

// Config tunes the matcher.
type Config struct {
	Weights        Weights
	NameDistance   int
	DateWindowDays int
	TieEpsilon     float64
}

// DefaultConfig returns the calibrated defaults.
func DefaultConfig() Config {
	return Config{
		Weights:        Weights{Name: 0.5, Date: 0.35, Content: 0.15},
		NameDistance:   2,
		DateWindowDays: 30,
		TieEpsilon:     0.01,
	}
}

// Validate checks the configuration for nonsensical values.
func (c Config) Validate() error {
	if c.Weights.Name < 0 || c.Weights.Date < 0 || c.Weights.Content < 0 {
		return fmt.Errorf("matcher weights must be non-negative")
	}
	if c.Weights.Name+c.Weights.Date <= 0 {
		return fmt.Errorf("matcher name and date weights cannot both be zero")
	}
	if c.NameDistance < 0 {
		return fmt.Errorf("matcher name distance must be non-negative, got %d", c.NameDistance)
	}
	if c.DateWindowDays <= 0 {
		return fmt.Errorf("matcher date window must be positive, got %d", c.DateWindowDays)
	}
	if c.TieEpsilon < 0 {
		return fmt.Errorf("matcher tie epsilon must be non-negative")
	}
	return nil
}

// Matcher scores candidates. It holds no mutable state and is safe for
// concurrent use.
type Matcher struct {
	now func() time.Time
	cfg Config
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithClock sets the clock used to stamp MatchedAt.
func WithClock(now func() time.Time) Option {
	return func(m *Matcher) { m.now = now }
}

// New creates a matcher.
func New(cfg Config, opts ...Option) (*Matcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Matcher{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

type scored struct {
	record  *model.DestinationRecord
	name    float64
	date    float64
	content float64
	// rank orders candidates and includes the content term as a tie breaker.
	rank float64
	// total is the reported confidence. Unrelated text never lowers it below
	// the name and date score.
	total float64
}

// Match selects at most one destination record for source. Finding no match
// is a normal outcome reported as TierUnmatched.
func (m *Matcher) Match(source model.SourceNote, candidates []model.DestinationRecord) model.MatchResult {
	at := m.now()
	if len(candidates) == 0 {
		return model.Unmatched(source.ID, at)
	}

	srcName := NormalizeName(source.PatientName)
	var srcTokens map[string]struct{}
	if source.RawText != "" {
		srcTokens = tokens(source.RawText)
	}

	var survivors []scored
	for i := range candidates {
		cand := &candidates[i]
		dist, ok := m.block(srcName, NormalizeName(cand.PatientName))
		if !ok {
			continue
		}
		s := m.score(source, srcName, srcTokens, cand, dist)
		if s.total > 0 {
			survivors = append(survivors, s)
		}
	}

	if len(survivors) == 0 {
		return model.Unmatched(source.ID, at)
	}

	sort.Slice(survivors, func(i, j int) bool {
		if survivors[i].rank != survivors[j].rank {
			return survivors[i].rank > survivors[j].rank
		}
		return survivors[i].record.ID < survivors[j].record.ID
	})

	best := survivors[0]
	destID := best.record.ID
	result := model.MatchResult{
		SourceID:      source.ID,
		DestinationID: &destID,
		Confidence:    best.total,
		NameScore:     best.name,
		DateScore:     best.date,
		ContentScore:  best.content,
		Candidates:    len(survivors),
		Tier:          model.TierFor(best.total),
		MatchedAt:     at,
	}

	if len(survivors) > 1 && best.rank-survivors[1].rank <= m.cfg.TieEpsilon {
		result.Ambiguous = true
		result.Tier = model.TierLow
	}

	return result
}

// block reports whether two normalized names are close enough to compare.
func (m *Matcher) block(a, b string) (int, bool) {
	if a == "" || b == "" {
		return 0, false
	}
	if a == b {
		return 0, true
	}
	// Length difference is a lower bound on edit distance.
	if abs(utf8.RuneCountInString(a)-utf8.RuneCountInString(b)) > m.cfg.NameDistance {
		return 0, false
	}
	d := levenshtein(a, b)
	return d, d <= m.cfg.NameDistance
}

func (m *Matcher) score(source model.SourceNote, srcName string, srcTokens map[string]struct{}, cand *model.DestinationRecord, dist int) scored {
	s := scored{record: cand}

	longest := max(utf8.RuneCountInString(srcName), utf8.RuneCountInString(NormalizeName(cand.PatientName)))
	s.name = 1 - float64(dist)/float64(longest)
	s.date = m.dateProximity(source.VisitDate, cand.VisitDate)

	w := m.cfg.Weights
	base := (w.Name*s.name + w.Date*s.date) / (w.Name + w.Date)
	s.rank = base
	if srcTokens != nil && cand.Text != "" && w.Content > 0 {
		s.content = jaccard(srcTokens, tokens(cand.Text))
		s.rank = (w.Name*s.name + w.Date*s.date + w.Content*s.content) / (w.Name + w.Date + w.Content)
	}
	s.total = max(base, s.rank)

	s.name = round(s.name)
	s.date = round(s.date)
	s.content = round(s.content)
	s.rank = round(s.rank)
	s.total = round(s.total)
	return s
}

// dateProximity is 1.0 on the same day and decays linearly to 0 at the window edge.
func (m *Matcher) dateProximity(a, b time.Time) float64 {
	if a.IsZero() || b.IsZero() {
		return 0
	}
	days := math.Abs(model.DateOnly(a).Sub(model.DateOnly(b)).Hours() / 24)
	window := float64(m.cfg.DateWindowDays)
	if days >= window {
		return 0
	}
	return 1 - days/window
}

// MatchAll matches every source against the same candidate snapshot using up
// to workers goroutines. Results are returned in input order.
func (m *Matcher) MatchAll(ctx context.Context, sources []model.SourceNote, candidates []model.DestinationRecord, workers int) ([]model.MatchResult, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make([]model.MatchResult, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range sources {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = m.Match(sources[i], candidates)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("matching interrupted: %w", err)
	}
	return results, nil
}

func round(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
