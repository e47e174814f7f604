package tm

import (
	"context"
	"encoding/hex"
	"hash/fnv"
	"time"

	"github.com/lingvo-tools/tmpipeline/internal/similarity"
)

type MatchType string

const (
	MatchExact MatchType = "exact"
	MatchFuzzy MatchType = "fuzzy"
)

// Match is a reusable translation found in the TM. Never persisted directly;
// the caller decides whether to apply or store it.
type Match struct {
	EntryID     string                `json:"entry_id"`
	SourceText  string                `json:"source_text"`
	TargetText  string                `json:"target_text"`
	Similarity  float64               `json:"similarity"`
	Type        MatchType             `json:"type"`
	Breakdown   similarity.Breakdown  `json:"breakdown"`
	AutoApplied bool                  `json:"auto_applied"`
}

// Entry is a stored source/target text pair.
type Entry struct {
	ID         string
	SourceHash string
	SourceText string
	TargetText string
	SourceLang string
	TargetLang string
	Category   string
	UseCount   int
	UpdatedAt  time.Time
}

// Storage is the persistence surface the matcher reads from.
type Storage interface {
	// FindByHash returns the entry for (hash, targetLang), or nil when absent.
	FindByHash(ctx context.Context, hash, targetLang string) (*Entry, error)
	// FetchCandidates returns up to limit entries for targetLang whose
	// normalized source length falls within [minLen, maxLen].
	FetchCandidates(ctx context.Context, targetLang string, minLen, maxLen, limit int) ([]Entry, error)
	Upsert(ctx context.Context, entry Entry) error
	IncrementUseCount(ctx context.Context, entryID string) error
	// HasLanguage reports whether a language record exists for code.
	HasLanguage(ctx context.Context, code string) (bool, error)
}

// SourceHash returns the stable hash of the normalized source text used for
// exact-match lookup and dedup keys.
func SourceHash(text string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(similarity.Normalize(text)))
	return hex.EncodeToString(h.Sum(nil))
}
