package screening

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// NameMatcher scores the similarity of two entity names in [0,1]. It is a
// heuristic, not identity resolution; callers must treat scores as evidence
// strength, never as proof.
type NameMatcher interface {
	Similarity(query, candidate string) float64
}

// FuzzyMatcher combines edit-distance, Jaro-Winkler and token-overlap
// signals over normalized names
type FuzzyMatcher struct {
	substitutions map[string][]string
	affixes       map[string]bool
}

// NewFuzzyMatcher creates the default name matcher
func NewFuzzyMatcher() *FuzzyMatcher {
	affixes := make(map[string]bool)
	for _, a := range []string{
		"mr", "mrs", "ms", "dr", "prof", "sir", "dame", "lord", "lady",
		"jr", "sr", "ii", "iii", "iv", "phd", "md", "esq",
	} {
		affixes[a] = true
	}
	return &FuzzyMatcher{
		substitutions: map[string][]string{
			"ae": {"ä", "æ"},
			"oe": {"ö", "œ"},
			"ue": {"ü"},
			"ss": {"ß"},
			"a":  {"á", "à", "â", "ã"},
			"e":  {"é", "è", "ê"},
			"i":  {"í", "ì", "î"},
			"o":  {"ó", "ò", "ô", "õ"},
			"u":  {"ú", "ù", "û"},
			"n":  {"ñ"},
			"c":  {"ç"},
		},
		affixes: affixes,
	}
}

// Similarity computes the combined similarity of two names
func (m *FuzzyMatcher) Similarity(query, candidate string) float64 {
	a := m.normalize(query)
	b := m.normalize(candidate)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	scores := []float64{
		levenshteinSimilarity(a, b),
		jaroWinkler(a, b),
		tokenJaccard(a, b),
	}

	// Diminishing-weight average favors the strongest signal without
	// letting a single algorithm dominate
	sort.Sort(sort.Reverse(sort.Float64Slice(scores)))
	weightSum, weighted := 0.0, 0.0
	for i, s := range scores {
		w := 1.0 / float64(i+1)
		weighted += s * w
		weightSum += w
	}
	return weighted / weightSum
}

var nonAlnumPattern = regexp.MustCompile(`[^a-z0-9\s]`)

// normalize lowercases, folds common diacritics, strips punctuation and
// removes honorific affixes
func (m *FuzzyMatcher) normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	for standard, alts := range m.substitutions {
		for _, alt := range alts {
			name = strings.ReplaceAll(name, alt, standard)
		}
	}
	name = nonAlnumPattern.ReplaceAllString(name, " ")

	tokens := strings.Fields(name)
	kept := tokens[:0]
	for _, tok := range tokens {
		if !m.affixes[tok] {
			kept = append(kept, tok)
		}
	}
	return strings.Join(kept, " ")
}

func levenshteinSimilarity(a, b string) float64 {
	distance := levenshtein.ComputeDistance(a, b)
	maxLen := math.Max(float64(len(a)), float64(len(b)))
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(distance)/maxLen
}

func jaroWinkler(a, b string) float64 {
	jaro := jaroSimilarity(a, b)
	if jaro == 0 {
		return 0
	}

	prefix := 0
	for i := 0; i < len(a) && i < len(b) && i < 4; i++ {
		if a[i] != b[i] {
			break
		}
		prefix++
	}
	return jaro + 0.1*float64(prefix)*(1-jaro)
}

func jaroSimilarity(a, b string) float64 {
	la, lb := len(a), len(b)
	if la == 0 || lb == 0 {
		return 0
	}

	window := max(la, lb)/2 - 1
	if window < 0 {
		window = 0
	}

	aMatched := make([]bool, la)
	bMatched := make([]bool, lb)

	matches := 0
	for i := 0; i < la; i++ {
		lo := max(0, i-window)
		hi := min(lb, i+window+1)
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

	transpositions := 0
	k := 0
	for i := 0; i < la; i++ {
		if !aMatched[i] {
			continue
		}
		for !bMatched[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	fm := float64(matches)
	return (fm/float64(la) + fm/float64(lb) + (fm-float64(transpositions)/2)/fm) / 3
}

func tokenJaccard(a, b string) float64 {
	at := strings.Fields(a)
	bt := strings.Fields(b)
	if len(at) == 0 || len(bt) == 0 {
		return 0
	}

	setA := make(map[string]bool, len(at))
	for _, t := range at {
		setA[t] = true
	}
	setB := make(map[string]bool, len(bt))
	for _, t := range bt {
		setB[t] = true
	}

	intersection := 0
	for t := range setA {
		if setB[t] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}
