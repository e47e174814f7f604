package tm

import (
	"context"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/lingvo-tools/tmpipeline/internal/similarity"
	"github.com/lingvo-tools/tmpipeline/pkg/log"
)

// MatcherConfig carries the fuzzy-match thresholds.
type MatcherConfig struct {
	MinSimilarity       float64 // fuzzy matches below this are discarded
	AutoAcceptThreshold float64 // matches at or above are applied without confirmation
	MaxResults          int
	CandidateLimit      int
	ScoreTimeout        time.Duration
}

func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		MinSimilarity:       0.85,
		AutoAcceptThreshold: 0.95,
		MaxResults:          5,
		CandidateLimit:      200,
		ScoreTimeout:        30 * time.Second,
	}
}

// Matcher performs exact (hash) and fuzzy lookup against stored translations.
// Safe for concurrent use by many batches; exact lookups go through a
// read-through cache with singleflight collapsing concurrent storage fetches
// for the same key.
type Matcher struct {
	storage Storage
	cfg     MatcherConfig
	calc    *similarity.Calculator
	scorer  *similarity.ScorerPool // optional off-thread batch scoring
	cache   *lookupCache
	group   singleflight.Group
}

// NewMatcher creates a matcher. scorer may be nil, in which case candidates
// are scored inline on the caller's goroutine.
func NewMatcher(storage Storage, cfg MatcherConfig, scorer *similarity.ScorerPool) *Matcher {
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = 0.85
	}
	if cfg.AutoAcceptThreshold <= 0 {
		cfg.AutoAcceptThreshold = 0.95
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = 200
	}
	return &Matcher{
		storage: storage,
		cfg:     cfg,
		calc:    similarity.NewCalculator(),
		scorer:  scorer,
		cache:   newLookupCache(),
	}
}

// FindExactMatch looks up the normalized-source hash for targetLang. Returns
// nil when no entry exists. Negative results are cached alongside hits.
func (m *Matcher) FindExactMatch(ctx context.Context, sourceText, targetLang string) (*Match, error) {
	hash := SourceHash(sourceText)
	key := hash + ":" + targetLang

	if match, ok := m.cache.get(key); ok {
		return match, nil
	}

	result, err, _ := m.group.Do(key, func() (interface{}, error) {
		entry, err := m.storage.FindByHash(ctx, hash, targetLang)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			m.cache.put(key, nil)
			return (*Match)(nil), nil
		}
		match := &Match{
			EntryID:     entry.ID,
			SourceText:  entry.SourceText,
			TargetText:  entry.TargetText,
			Similarity:  1.0,
			Type:        MatchExact,
			Breakdown:   similarity.Breakdown{Levenshtein: 1, JaroWinkler: 1, TokenSet: 1},
			AutoApplied: true,
		}
		m.cache.put(key, match)
		return match, nil
	})
	if err != nil {
		return nil, fmt.Errorf("exact match lookup: %w", err)
	}
	return result.(*Match), nil
}

// FindFuzzyMatches scores a bounded candidate set against sourceText and
// returns matches at or above MinSimilarity, best first, at most MaxResults.
// An unresolved target language yields no matches rather than an error: the
// absence of a configured language simply means TM cannot apply.
func (m *Matcher) FindFuzzyMatches(ctx context.Context, sourceText, targetLang, category string) ([]Match, error) {
	known, err := m.storage.HasLanguage(ctx, targetLang)
	if err != nil {
		return nil, fmt.Errorf("resolve language %q: %w", targetLang, err)
	}
	if !known {
		log.Debug("Target language %q has no language record, skipping TM fuzzy lookup", targetLang)
		return nil, nil
	}

	normalized := similarity.Normalize(sourceText)
	if normalized == "" {
		return nil, nil
	}

	// Cheap prefilter: similar texts have similar lengths.
	queryLen := utf8.RuneCountInString(normalized)
	candidates, err := m.storage.FetchCandidates(ctx, targetLang, queryLen/2, queryLen*2, m.cfg.CandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch fuzzy candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	scores, err := m.scoreCandidates(ctx, sourceText, category, candidates)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(candidates))
	for i, entry := range candidates {
		if scores[i].Score < m.cfg.MinSimilarity {
			continue
		}
		matches = append(matches, Match{
			EntryID:     entry.ID,
			SourceText:  entry.SourceText,
			TargetText:  entry.TargetText,
			Similarity:  scores[i].Score,
			Type:        MatchFuzzy,
			Breakdown:   scores[i].Breakdown,
			AutoApplied: scores[i].Score >= m.cfg.AutoAcceptThreshold,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > m.cfg.MaxResults {
		matches = matches[:m.cfg.MaxResults]
	}
	return matches, nil
}

// FindBestMatch tries exact first and only falls back to fuzzy when no exact
// entry exists. Returns nil when neither path produces a match.
func (m *Matcher) FindBestMatch(ctx context.Context, sourceText, targetLang, category string) (*Match, error) {
	exact, err := m.FindExactMatch(ctx, sourceText, targetLang)
	if err != nil {
		return nil, err
	}
	if exact != nil {
		return exact, nil
	}

	fuzzy, err := m.FindFuzzyMatches(ctx, sourceText, targetLang, category)
	if err != nil {
		return nil, err
	}
	if len(fuzzy) == 0 {
		return nil, nil
	}
	best := fuzzy[0]
	return &best, nil
}

// RecordUsage bumps the use count of an applied entry.
func (m *Matcher) RecordUsage(ctx context.Context, entryID string) error {
	return m.storage.IncrementUseCount(ctx, entryID)
}

// Store upserts a fresh translation into the TM and invalidates the lookup
// cache for its key so the next exact lookup sees it.
func (m *Matcher) Store(ctx context.Context, entry Entry) error {
	if entry.SourceHash == "" {
		entry.SourceHash = SourceHash(entry.SourceText)
	}
	if err := m.storage.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("upsert tm entry: %w", err)
	}
	m.cache.invalidate(entry.SourceHash + ":" + entry.TargetLang)
	return nil
}

func (m *Matcher) scoreCandidates(ctx context.Context, sourceText, category string, entries []Entry) ([]similarity.CandidateScore, error) {
	if m.scorer != nil {
		candidates := make([]similarity.Candidate, len(entries))
		for i, entry := range entries {
			candidates[i] = similarity.Candidate{ID: entry.ID, Text: entry.SourceText, Category: entry.Category}
		}
		scores, err := m.scorer.ScoreBatch(ctx, sourceText, category, candidates, m.cfg.ScoreTimeout)
		if err != nil {
			return nil, fmt.Errorf("batch scoring: %w", err)
		}
		return scores, nil
	}

	scores := make([]similarity.CandidateScore, len(entries))
	for i, entry := range entries {
		score, bd := m.calc.ScoreWithCategory(sourceText, entry.SourceText, category, entry.Category)
		scores[i] = similarity.CandidateScore{ID: entry.ID, Score: score, Breakdown: bd}
	}
	return scores, nil
}
