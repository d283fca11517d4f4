package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Weights used by CompositeSimilarity.
const (
	TitleWeight    = 0.6
	MessageWeight  = 0.4
	ContentWeight  = 0.8
	CategoryWeight = 0.2
)

// SimilarityMethod selects the string similarity algorithm used by Compare.
type SimilarityMethod int

const (
	// MethodJaroWinkler suits short strings such as titles.
	MethodJaroWinkler SimilarityMethod = iota
	// MethodCosine compares term-frequency vectors; suits longer messages.
	MethodCosine
	// MethodLevenshtein is normalized edit similarity.
	MethodLevenshtein
)

// String returns the method name.
func (m SimilarityMethod) String() string {
	switch m {
	case MethodJaroWinkler:
		return "jaro-winkler"
	case MethodCosine:
		return "cosine"
	case MethodLevenshtein:
		return "levenshtein"
	default:
		return "unknown"
	}
}

// ErrInvalidComparison is returned for an unknown similarity method or a
// threshold outside [0,1].
var ErrInvalidComparison = errors.New("invalid comparison")

// ParseSimilarityMethod maps a method name to its SimilarityMethod. The
// empty string selects Jaro-Winkler.
func ParseSimilarityMethod(name string) (SimilarityMethod, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "jaro-winkler", "jarowinkler", "jaro_winkler":
		return MethodJaroWinkler, nil
	case "cosine":
		return MethodCosine, nil
	case "levenshtein":
		return MethodLevenshtein, nil
	default:
		return 0, fmt.Errorf("%w: unknown similarity method %q", ErrInvalidComparison, name)
	}
}

// Validate checks that the method is known and the threshold is in [0,1].
func (o CompareOptions) Validate() error {
	if o.Method < MethodJaroWinkler || o.Method > MethodLevenshtein {
		return fmt.Errorf("%w: unknown similarity method %d", ErrInvalidComparison, o.Method)
	}
	if o.Threshold < 0 || o.Threshold > 1 || math.IsNaN(o.Threshold) {
		return fmt.Errorf("%w: threshold must be in [0,1], got %g", ErrInvalidComparison, o.Threshold)
	}
	return nil
}

// CompareOptions configures a single Compare call.
type CompareOptions struct {
	Method    SimilarityMethod
	Threshold float64
}

// Comparison is the outcome of Compare.
type Comparison struct {
	Similarity  float64
	IsDuplicate bool
}

// Compare scores a against b with the selected method. The similarity is
// always in [0,1] and IsDuplicate reports similarity >= opts.Threshold.
func Compare(a, b string, opts CompareOptions) Comparison {
	var sim float64
	switch opts.Method {
	case MethodCosine:
		sim = CosineSimilarity(a, b)
	case MethodLevenshtein:
		sim = LevenshteinSimilarity(a, b)
	default:
		sim = JaroWinklerSimilarity(a, b)
	}

	return Comparison{
		Similarity:  sim,
		IsDuplicate: sim >= opts.Threshold,
	}
}

// CompositeSimilarity combines title and message similarity into the score
// used by the fuzzy dedup path:
//
//	(titleSim*0.6 + messageSim*0.4)*0.8 + (0.2 if the new content has a category)
//
// Titles are scored with Jaro-Winkler, messages with cosine similarity. The
// category bonus does not depend on the stored entry's category, so the same
// text raised under two categories can still match.
func CompositeSimilarity(newTitle, newMessage, storedTitle, storedMessage string, categoryPresent bool) float64 {
	titleSim := JaroWinklerSimilarity(newTitle, storedTitle)
	messageSim := CosineSimilarity(newMessage, storedMessage)

	score := (titleSim*TitleWeight + messageSim*MessageWeight) * ContentWeight
	if categoryPresent {
		score += CategoryWeight
	}
	return clamp01(score)
}

// JaroWinklerSimilarity returns the Jaro similarity of a and b boosted by
// the Winkler common-prefix bonus (up to 4 runes, scaling factor 0.1).
func JaroWinklerSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}

	r1, r2 := []rune(a), []rune(b)
	if len(r1) == 0 || len(r2) == 0 {
		return 0.0
	}

	jaro := jaroSimilarity(r1, r2)

	prefix := 0
	for i := 0; i < len(r1) && i < len(r2) && i < 4; i++ {
		if r1[i] != r2[i] {
			break
		}
		prefix++
	}

	return clamp01(jaro + float64(prefix)*0.1*(1-jaro))
}

func jaroSimilarity(r1, r2 []rune) float64 {
	matchDistance := max(len(r1), len(r2))/2 - 1
	if matchDistance < 0 {
		matchDistance = 0
	}

	matched1 := make([]bool, len(r1))
	matched2 := make([]bool, len(r2))

	matches := 0
	for i := range r1 {
		lo := max(0, i-matchDistance)
		hi := min(len(r2), i+matchDistance+1)
		for j := lo; j < hi; j++ {
			if matched2[j] || r1[i] != r2[j] {
				continue
			}
			matched1[i] = true
			matched2[j] = true
			matches++
			break
		}
	}

	if matches == 0 {
		return 0.0
	}

	// Count half-transpositions between the matched sequences.
	transpositions := 0
	k := 0
	for i := range r1 {
		if !matched1[i] {
			continue
		}
		for !matched2[k] {
			k++
		}
		if r1[i] != r2[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	return (m/float64(len(r1)) + m/float64(len(r2)) + (m-float64(transpositions)/2)/m) / 3
}

// CosineSimilarity tokenizes a and b on whitespace and returns the cosine of
// their term-frequency vectors.
func CosineSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}

	tf1 := termFrequencies(a)
	tf2 := termFrequencies(b)
	if len(tf1) == 0 || len(tf2) == 0 {
		return 0.0
	}

	var dot, norm1, norm2 float64
	for term, c1 := range tf1 {
		norm1 += c1 * c1
		if c2, ok := tf2[term]; ok {
			dot += c1 * c2
		}
	}
	for _, c2 := range tf2 {
		norm2 += c2 * c2
	}

	if norm1 == 0 || norm2 == 0 {
		return 0.0
	}

	return clamp01(dot / (math.Sqrt(norm1) * math.Sqrt(norm2)))
}

// LevenshteinSimilarity returns 1 - editDistance/maxRuneLength.
func LevenshteinSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}

	maxLen := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if maxLen == 0 {
		return 1.0
	}

	distance := levenshtein.ComputeDistance(a, b)
	return clamp01(1.0 - float64(distance)/float64(maxLen))
}

func termFrequencies(s string) map[string]float64 {
	fields := strings.Fields(s)
	tf := make(map[string]float64, len(fields))
	for _, f := range fields {
		tf[f]++
	}
	return tf
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
