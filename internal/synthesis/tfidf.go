package synthesis

import (
	"math"
	"regexp"
	"strings"

	"conclave/internal/council"
)

// =============================================================================
// TF-IDF AGREEMENT SCORING
// =============================================================================

var wordRe = regexp.MustCompile(`[a-zA-Z0-9]+`)

func tokenize(text string) []string {
	words := wordRe.FindAllString(strings.ToLower(text), -1)
	return words
}

// tfidfVectors builds one TF-IDF vector per document: raw term frequency
// normalized by document length, smoothed inverse document frequency
// ln(N/(df+1))+1.
func tfidfVectors(docs []string) []map[string]float64 {
	n := len(docs)
	tokenized := make([][]string, n)
	df := make(map[string]int)

	for i, doc := range docs {
		tokenized[i] = tokenize(doc)
		seen := make(map[string]struct{})
		for _, w := range tokenized[i] {
			if _, ok := seen[w]; !ok {
				seen[w] = struct{}{}
				df[w]++
			}
		}
	}

	vectors := make([]map[string]float64, n)
	for i, words := range tokenized {
		vec := make(map[string]float64, len(words))
		if len(words) == 0 {
			vectors[i] = vec
			continue
		}
		tf := make(map[string]float64)
		for _, w := range words {
			tf[w]++
		}
		for w, count := range tf {
			idf := math.Log(float64(n)/float64(df[w]+1)) + 1
			vec[w] = (count / float64(len(words))) * idf
		}
		vectors[i] = vec
	}
	return vectors
}

func sparseCosine(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, aMag, bMag float64
	for w, av := range a {
		aMag += av * av
		if bv, ok := b[w]; ok {
			dot += av * bv
		}
	}
	for _, bv := range b {
		bMag += bv * bv
	}
	if aMag == 0 || bMag == 0 {
		return 0
	}
	return dot / (math.Sqrt(aMag) * math.Sqrt(bMag))
}

// AgreementScore averages the pairwise TF-IDF cosine similarity over all
// exchange pairs. A single exchange short-circuits to 1.0: there is nothing
// to compare against.
func AgreementScore(exchanges []council.Exchange) float64 {
	if len(exchanges) <= 1 {
		return 1.0
	}

	docs := make([]string, len(exchanges))
	for i, ex := range exchanges {
		docs[i] = ex.Content
	}
	vectors := tfidfVectors(docs)

	var sum float64
	var pairs int
	for i := 0; i < len(vectors); i++ {
		for j := i + 1; j < len(vectors); j++ {
			sum += sparseCosine(vectors[i], vectors[j])
			pairs++
		}
	}
	return council.Clamp01(sum / float64(pairs))
}

// pairwiseSimilarity computes the TF-IDF cosine for one pair out of a
// pre-built vector set.
func pairwiseSimilarity(vectors []map[string]float64, i, j int) float64 {
	return council.Clamp01(sparseCosine(vectors[i], vectors[j]))
}
