package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sony/gobreaker"

	"github.com/lingvo-tools/tmpipeline/pkg/log"
)

// subtitle-style separator between units inside one prompt; chosen so that no
// natural-language text is likely to contain it.
const unitSeparator = "|@|"

// Request is a provider-agnostic translation request for one sub-batch.
type Request struct {
	SourceLanguage string
	TargetLanguage string
	Model          string
	Texts          []string
	GlossaryTerms  map[string]string
	ProjectContext string
	MaxTokens      int
	Temperature    float32
}

// Response carries the translated texts in the same order as Request.Texts.
type Response struct {
	Translations []string
	TokensUsed   int
	Model        string
}

// StreamHandler receives incremental output during a streaming translation.
type StreamHandler func(delta string)

// Service is the outbound provider surface the pipeline calls. Implementations
// wrap a vendor SDK; the orchestrator never touches wire formats.
type Service interface {
	Translate(ctx context.Context, req Request, apiKey string) (*Response, error)
	TranslateStreaming(ctx context.Context, req Request, apiKey string, onDelta StreamHandler) (*Response, error)
	EstimateTokens(req Request) int
	ValidateAPIKey(ctx context.Context, apiKey string) error
}

// newBreaker builds the circuit breaker every adapter puts in front of its
// outbound calls, so a failing provider sheds load fast instead of burning
// the rate-limit budget on doomed requests.
func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Provider %s circuit breaker: %s -> %s", name, from, to)
		},
	})
}

// breakerError maps the breaker's own rejections onto the provider error
// taxonomy; adapter errors pass through unchanged.
func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return NewError(CategoryServer, "provider circuit breaker open", err)
	}
	return err
}

// estimateTokens is the shared character-based heuristic (~4 chars per token)
// plus a fixed prompt overhead.
func estimateTokens(req Request) int {
	chars := 0
	for _, text := range req.Texts {
		chars += utf8.RuneCountInString(text)
	}
	for source, target := range req.GlossaryTerms {
		chars += utf8.RuneCountInString(source) + utf8.RuneCountInString(target)
	}
	chars += utf8.RuneCountInString(req.ProjectContext)
	return chars/4 + 200
}

// buildSystemPrompt renders the translation instructions shared by adapters.
func buildSystemPrompt(req Request) string {
	var prompt strings.Builder

	prompt.WriteString("You are a professional translation engine. Translate each unit from " +
		req.SourceLanguage + " to " + req.TargetLanguage + ".\n\n")

	if req.ProjectContext != "" {
		prompt.WriteString("=== PROJECT CONTEXT ===\n")
		prompt.WriteString(req.ProjectContext + "\n\n")
	}

	if len(req.GlossaryTerms) > 0 {
		prompt.WriteString("=== GLOSSARY ===\n")
		prompt.WriteString("Use these exact translations for the following terms:\n")
		for source, target := range req.GlossaryTerms {
			prompt.WriteString(fmt.Sprintf("- %s => %s\n", source, target))
		}
		prompt.WriteString("\n")
	}

	prompt.WriteString("=== RULES ===\n")
	prompt.WriteString("1. Units are separated by " + unitSeparator + "; keep the separators in your output\n")
	prompt.WriteString("2. Preserve printf-style placeholders (%s, %d, %1$s) exactly as written\n")
	prompt.WriteString("3. Preserve inline markup tags\n")
	prompt.WriteString("4. Return ONLY the translated units, no explanations\n")
	prompt.WriteString("5. The number of output units must exactly match the number of input units\n")

	return prompt.String()
}

func joinUnits(texts []string) string {
	return strings.Join(texts, unitSeparator)
}

// splitUnits reverses joinUnits on the model output and verifies the count.
func splitUnits(content string, want int) ([]string, error) {
	parts := strings.Split(strings.TrimSpace(content), unitSeparator)
	if len(parts) != want {
		return nil, fmt.Errorf("translation count mismatch: got %d units, want %d", len(parts), want)
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts, nil
}
