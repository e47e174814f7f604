package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore_IdenticalTextsScoreExactlyOne(t *testing.T) {
	calc := NewCalculator()

	for _, s := range []string{"hello", "Attack the castle gate", "%s gold earned", "a"} {
		assert.Equal(t, 1.0, calc.Score(s, s), "text %q", s)
	}
}

func TestScore_IdenticalAfterNormalization(t *testing.T) {
	calc := NewCalculator()

	score := calc.Score("<b>Attack!</b>", "attack!")
	assert.Equal(t, 1.0, score)

	score = calc.Score("Hello   world", "hello world")
	assert.Equal(t, 1.0, score)

	score = calc.Score("“Quoted” — dash", `"quoted" - dash`)
	assert.Equal(t, 1.0, score)
}

func TestScore_EmptyTextScoresZero(t *testing.T) {
	calc := NewCalculator()

	assert.Equal(t, 0.0, calc.Score("hello", ""))
	assert.Equal(t, 0.0, calc.Score("", "hello"))
	assert.Equal(t, 0.0, calc.Score("", ""))
	// Markup-only text is empty after normalization.
	assert.Equal(t, 0.0, calc.Score("hello", "<br/>"))
}

func TestScore_AlwaysWithinRange(t *testing.T) {
	calc := NewCalculator()

	pairs := [][2]string{
		{"completely different", "nothing alike zzz"},
		{"short", "a much longer sentence with many words"},
		{"abc", "abd"},
		{"the quick brown fox", "the quick brown foxes"},
		{"x", "y"},
	}
	for _, p := range pairs {
		score := calc.Score(p[0], p[1])
		assert.GreaterOrEqual(t, score, 0.0, "%q vs %q", p[0], p[1])
		assert.LessOrEqual(t, score, 1.0, "%q vs %q", p[0], p[1])
	}
}

func TestScore_SymmetricForSimilarTexts(t *testing.T) {
	calc := NewCalculator()

	a, b := "open the door", "open the big door"
	assert.InDelta(t, calc.Score(a, b), calc.Score(b, a), 1e-9)
}

func TestScoreWithCategory_BoostAppliesOnlyOnMatch(t *testing.T) {
	calc := NewCalculator()

	a, b := "press the button", "press this button"
	base, _ := calc.ScoreWithCategory(a, b, "", "")
	boosted, bd := calc.ScoreWithCategory(a, b, "ui", "ui")
	unboosted, _ := calc.ScoreWithCategory(a, b, "ui", "dialog")

	assert.InDelta(t, base+0.03, boosted, 1e-9)
	assert.Equal(t, 0.03, bd.Boost)
	assert.InDelta(t, base, unboosted, 1e-9)
}

func TestScoreWithCategory_BoostClampedToOne(t *testing.T) {
	calc := NewCalculator()

	// Near-identical texts plus the boost must not exceed 1.
	score, _ := calc.ScoreWithCategory("save the file", "save the files", "io", "io")
	assert.LessOrEqual(t, score, 1.0)
}

func TestLevenshteinSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"abc", "abc", 1.0},
		{"abc", "abd", 1 - 1.0/3},
		{"abcd", "", 0.0},
		{"kitten", "sitting", 1 - 3.0/7},
	}
	for _, tt := range tests {
		got := levenshteinSimilarity([]rune(tt.a), []rune(tt.b))
		assert.InDelta(t, tt.want, got, 1e-9, "%q vs %q", tt.a, tt.b)
	}
}

func TestJaroWinkler_PrefixBonus(t *testing.T) {
	// Shared prefix pushes Jaro-Winkler above plain Jaro.
	a, b := []rune("prefixed"), []rune("prefixes")
	jaro := jaroScore(a, b)
	jw := jaroWinkler(a, b)
	assert.Greater(t, jw, jaro)

	// No common prefix: identical to Jaro.
	c, d := []rune("xbcdef"), []rune("ybcdef")
	assert.InDelta(t, jaroScore(c, d), jaroWinkler(c, d), 1e-9)
}

func TestTokenJaccard(t *testing.T) {
	assert.Equal(t, 1.0, tokenJaccard([]string{"a", "b"}, []string{"b", "a"}))
	assert.Equal(t, 0.0, tokenJaccard([]string{"a"}, []string{"b"}))
	assert.InDelta(t, 1.0/3, tokenJaccard([]string{"a", "b"}, []string{"b", "c"}), 1e-9)
}

func TestNormalize_PreservesPlaceholders(t *testing.T) {
	require.Equal(t, "you earned %d gold", Normalize("You earned <b>%d</b> gold"))
	require.Equal(t, "welcome, %1$s!", Normalize("[color=red]Welcome, %1$s![/color]"))
	require.Equal(t, "bold claim", Normalize("**Bold** claim"))
}
