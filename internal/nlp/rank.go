package nlp

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

// RankCandidates orders a candidate list by how well each name matches the
// spoken product reference, best first. String similarity (Jaro-Winkler)
// carries most of the weight; a phonetic match on the double metaphone adds
// a bonus so misspelled transcriptions of the same-sounding name still rank
// high. The input slice is not modified.
func RankCandidates(spoken string, candidates []Candidate) []Candidate {
	if strings.TrimSpace(spoken) == "" || len(candidates) < 2 {
		return append([]Candidate(nil), candidates...)
	}
	type scored struct {
		c     Candidate
		score float64
	}
	ranked := make([]scored, len(candidates))
	for i, c := range candidates {
		ranked[i] = scored{c: c, score: matchScore(spoken, c.Name)}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].score > ranked[b].score
	})
	out := make([]Candidate, len(ranked))
	for i, r := range ranked {
		out[i] = r.c
	}
	return out
}

func matchScore(spoken, name string) float64 {
	a := strings.ToLower(strings.TrimSpace(spoken))
	b := strings.ToLower(strings.TrimSpace(name))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	score := matchr.JaroWinkler(a, b, true)
	pa, _ := matchr.DoubleMetaphone(a)
	pb, _ := matchr.DoubleMetaphone(b)
	if pa != "" && pa == pb {
		score += 0.15
	}
	if score > 1 {
		score = 1
	}
	return score
}
