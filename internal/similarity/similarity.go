package similarity

// Weighted similarity over three algorithms. The weights and the category
// boost are fixed: tuning them shifts every stored fuzzy-match threshold.
const (
	levenshteinWeight = 0.4
	jaroWinklerWeight = 0.3
	tokenWeight       = 0.3
	categoryBoost     = 0.03

	jaroWinklerPrefixScale = 0.1
	jaroWinklerMaxPrefix   = 4
)

// Breakdown carries the per-algorithm components of a combined score.
type Breakdown struct {
	Levenshtein float64 `json:"levenshtein"`
	JaroWinkler float64 `json:"jaro_winkler"`
	TokenSet    float64 `json:"token_set"`
	Boost       float64 `json:"boost"`
}

// Calculator scores text pairs. Stateless and safe for concurrent use.
type Calculator struct{}

func NewCalculator() *Calculator {
	return &Calculator{}
}

// Score computes the combined similarity of two texts in [0, 1].
func (c *Calculator) Score(a, b string) float64 {
	score, _ := c.ScoreWithCategory(a, b, "", "")
	return score
}

// ScoreWithCategory computes the combined similarity plus a small boost when
// both category labels are present and equal. Identical-after-normalization
// texts score exactly 1.0; either text empty after normalization scores 0.0.
func (c *Calculator) ScoreWithCategory(a, b, categoryA, categoryB string) (float64, Breakdown) {
	na := Normalize(a)
	nb := Normalize(b)

	if na == "" || nb == "" {
		return 0, Breakdown{}
	}
	if na == nb {
		return 1, Breakdown{Levenshtein: 1, JaroWinkler: 1, TokenSet: 1}
	}

	bd := Breakdown{
		Levenshtein: levenshteinSimilarity([]rune(na), []rune(nb)),
		JaroWinkler: jaroWinkler([]rune(na), []rune(nb)),
		TokenSet:    tokenJaccard(Tokenize(na), Tokenize(nb)),
	}
	if categoryA != "" && categoryA == categoryB {
		bd.Boost = categoryBoost
	}

	score := levenshteinWeight*bd.Levenshtein +
		jaroWinklerWeight*bd.JaroWinkler +
		tokenWeight*bd.TokenSet +
		bd.Boost
	return clamp01(score), bd
}

// levenshteinSimilarity is 1 - editDistance/max(len). Two-row rolling matrix
// keeps memory at O(min(len)).
func levenshteinSimilarity(a, b []rune) float64 {
	if len(a) < len(b) {
		a, b = b, a
	}
	if len(a) == 0 {
		return 1
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	distance := prev[len(b)]
	return 1 - float64(distance)/float64(len(a))
}

// jaroWinkler is the classic Jaro score with a prefix bonus of up to 4
// matching leading characters at scaling factor 0.1.
func jaroWinkler(a, b []rune) float64 {
	jaro := jaroScore(a, b)
	if jaro == 0 {
		return 0
	}

	prefix := 0
	for i := 0; i < len(a) && i < len(b) && i < jaroWinklerMaxPrefix; i++ {
		if a[i] != b[i] {
			break
		}
		prefix++
	}

	return jaro + float64(prefix)*jaroWinklerPrefixScale*(1-jaro)
}

func jaroScore(a, b []rune) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	window := max(len(a), len(b))/2 - 1
	if window < 0 {
		window = 0
	}

	aMatched := make([]bool, len(a))
	bMatched := make([]bool, len(b))
	matches := 0

	for i := range a {
		lo := i - window
		if lo < 0 {
			lo = 0
		}
		hi := i + window + 1
		if hi > len(b) {
			hi = len(b)
		}
		for j := lo; j < hi; j++ {
			if bMatched[j] || a[i] != b[j] {
				continue
			}
			aMatched[i] = true
			bMatched[j] = true
			matches++
			break
		}
	}

	if matches == 0 {
		return 0
	}

	// Count transpositions among matched characters.
	transpositions := 0
	j := 0
	for i := range a {
		if !aMatched[i] {
			continue
		}
		for !bMatched[j] {
			j++
		}
		if a[i] != b[j] {
			transpositions++
		}
		j++
	}

	m := float64(matches)
	t := float64(transpositions) / 2
	return (m/float64(len(a)) + m/float64(len(b)) + (m-t)/m) / 3
}

// tokenJaccard is set intersection over union of whitespace tokens.
func tokenJaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	setA := make(map[string]struct{}, len(a))
	for _, tok := range a {
		setA[tok] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, tok := range b {
		setB[tok] = struct{}{}
	}

	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
