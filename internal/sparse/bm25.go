// Package sparse implements a BM25 term-weighted sparse encoder. The encoder
// is fitted over the full current corpus of coarse-level chunks, persisted as
// a JSON artifact by the ingestion run, and loaded again at query time.
package sparse

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
)

// ErrModelNotFitted is returned when encoding is attempted before Fit, or
// when the persisted artifact is missing at load time. Sparse query vectors
// cannot be computed without the fitted statistics, so callers treat this as
// fatal.
var ErrModelNotFitted = errors.New("sparse: model not fitted")

// BM25 parameter defaults, the usual Robertson values.
const (
	defaultK1 = 1.2
	defaultB  = 0.75
)

// Vector is a sparse vector as index/weight pairs, indices strictly
// increasing. An empty vector means no recognized vocabulary.
type Vector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// IsEmpty reports whether the vector carries no terms.
func (v Vector) IsEmpty() bool {
	return len(v.Indices) == 0
}

// Encoder holds fitted BM25 corpus statistics. Fit populates it; the
// document and query encoders read it. A fitted encoder is immutable and safe
// for concurrent use.
type Encoder struct {
	K1 float64 `json:"k1"`
	B  float64 `json:"b"`

	// DocCount and AvgDocLen describe the fitted corpus.
	DocCount  int     `json:"doc_count"`
	AvgDocLen float64 `json:"avg_doc_len"`

	// DocFreq maps term index → number of corpus documents containing it.
	DocFreq map[uint32]int `json:"doc_freq"`
}

// NewEncoder returns an unfitted encoder with default parameters.
func NewEncoder() *Encoder {
	return &Encoder{K1: defaultK1, B: defaultB}
}

// Fit computes corpus statistics over texts. It replaces any previous fit:
// the model is always refit over the entire current corpus, never updated
// incrementally.
func (e *Encoder) Fit(texts []string) error {
	docFreq := make(map[uint32]int)
	totalLen := 0
	docs := 0

	for _, text := range texts {
		tokens := Tokenize(text)
		if len(tokens) == 0 {
			continue
		}
		docs++
		totalLen += len(tokens)

		seen := make(map[uint32]bool, len(tokens))
		for _, tok := range tokens {
			idx := termIndex(tok)
			if !seen[idx] {
				seen[idx] = true
				docFreq[idx]++
			}
		}
	}

	if docs == 0 {
		return errors.New("sparse: no valid text content to fit on")
	}

	e.DocCount = docs
	e.AvgDocLen = float64(totalLen) / float64(docs)
	e.DocFreq = docFreq
	return nil
}

func (e *Encoder) fitted() bool {
	return e.DocCount > 0 && e.DocFreq != nil
}

// EncodeDocuments produces one sparse vector per text for indexing, using TF
// saturation weights. Texts with no recognized vocabulary yield an empty
// vector; callers exclude those from indexing.
func (e *Encoder) EncodeDocuments(texts []string) ([]Vector, error) {
	if !e.fitted() {
		return nil, ErrModelNotFitted
	}

	out := make([]Vector, len(texts))
	for i, text := range texts {
		tokens := Tokenize(text)
		if len(tokens) == 0 {
			continue
		}

		tf := make(map[uint32]int, len(tokens))
		for _, tok := range tokens {
			tf[termIndex(tok)]++
		}

		dl := float64(len(tokens))
		norm := e.K1 * (1 - e.B + e.B*dl/e.AvgDocLen)

		vec := Vector{
			Indices: make([]uint32, 0, len(tf)),
			Values:  make([]float32, 0, len(tf)),
		}
		for idx := range tf {
			vec.Indices = append(vec.Indices, idx)
		}
		sort.Slice(vec.Indices, func(a, b int) bool { return vec.Indices[a] < vec.Indices[b] })
		for _, idx := range vec.Indices {
			f := float64(tf[idx])
			vec.Values = append(vec.Values, float32(f/(f+norm)))
		}
		out[i] = vec
	}
	return out, nil
}

// EncodeQuery produces the sparse query vector: IDF weights over the query
// terms, normalized to sum to one. Terms unseen during Fit carry zero weight
// and are dropped.
func (e *Encoder) EncodeQuery(text string) (Vector, error) {
	if !e.fitted() {
		return Vector{}, ErrModelNotFitted
	}

	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return Vector{}, nil
	}

	idf := make(map[uint32]float64, len(tokens))
	total := 0.0
	for _, tok := range tokens {
		idx := termIndex(tok)
		if _, done := idf[idx]; done {
			continue
		}
		df, ok := e.DocFreq[idx]
		if !ok {
			continue
		}
		w := math.Log(1 + (float64(e.DocCount)-float64(df)+0.5)/(float64(df)+0.5))
		idf[idx] = w
		total += w
	}
	if total == 0 {
		return Vector{}, nil
	}

	vec := Vector{
		Indices: make([]uint32, 0, len(idf)),
		Values:  make([]float32, 0, len(idf)),
	}
	for idx := range idf {
		vec.Indices = append(vec.Indices, idx)
	}
	sort.Slice(vec.Indices, func(a, b int) bool { return vec.Indices[a] < vec.Indices[b] })
	for _, idx := range vec.Indices {
		vec.Values = append(vec.Values, float32(idf[idx]/total))
	}
	return vec, nil
}

// Save persists the fitted statistics as a JSON artifact.
func (e *Encoder) Save(path string) error {
	if !e.fitted() {
		return ErrModelNotFitted
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Load reads a fitted encoder from its artifact. A missing artifact is a
// fatal configuration state: the build step has not run.
func Load(path string) (*Encoder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("sparse artifact %s: %w", path, ErrModelNotFitted)
		}
		return nil, err
	}

	var e Encoder
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("sparse artifact %s: %w", path, err)
	}
	if !e.fitted() {
		return nil, fmt.Errorf("sparse artifact %s: %w", path, ErrModelNotFitted)
	}
	return &e, nil
}

// Tokenize lowercases text, splits on non-alphanumeric runes and drops
// single-character tokens and stopwords.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// termIndex maps a token to its sparse dimension via FNV-1a 32.
func termIndex(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	return h.Sum32()
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "if": true, "in": true,
	"into": true, "is": true, "it": true, "no": true, "not": true, "of": true,
	"on": true, "or": true, "such": true, "that": true, "the": true,
	"their": true, "then": true, "there": true, "these": true, "they": true,
	"this": true, "to": true, "was": true, "will": true, "with": true,
}
