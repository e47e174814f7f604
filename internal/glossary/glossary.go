package glossary

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Glossary maps source terms to their mandated target translations for one
// language pair.
type Glossary map[string]string

// Filename returns the glossary filename for a language pair, e.g.
// "glossary.en-es.yaml".
func Filename(sourceLang, targetLang string) string {
	return "glossary." + baseCode(sourceLang) + "-" + baseCode(targetLang) + ".yaml"
}

// FilePath returns the full glossary path inside dir.
func FilePath(dir, sourceLang, targetLang string) string {
	return filepath.Join(dir, Filename(sourceLang, targetLang))
}

// Load reads a glossary from a YAML file. A missing file is not an error;
// it yields an empty glossary.
func Load(path string) (Glossary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Glossary{}, nil
		}
		return nil, fmt.Errorf("read glossary %s: %w", path, err)
	}

	var g Glossary
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse glossary %s: %w", path, err)
	}
	if g == nil {
		g = Glossary{}
	}
	return g, nil
}

// Match filters the glossary to terms that appear in any of the given texts.
// Matching is case-sensitive substring containment.
func Match(g Glossary, texts []string) Glossary {
	matched := make(Glossary)

	for source, target := range g {
		for _, text := range texts {
			if strings.Contains(text, source) {
				matched[source] = target
				break
			}
		}
	}

	return matched
}

// baseCode reduces a BCP-47 tag to its primary subtag ("en-US" -> "en").
func baseCode(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		return lang[:i]
	}
	return lang
}
