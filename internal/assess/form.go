package assess

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// formRNG is a Mulberry32 generator. The per-attempt stream is seeded from
// SHA-256(seed:testID:attemptID:version), first 4 bytes big-endian, so a form
// can be regenerated bit-for-bit from the stored attempt fields.
type formRNG struct{ state uint32 }

func newFormRNG(seed, testID, attemptID string, version int) *formRNG {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s:%d", seed, testID, attemptID, version)))
	return &formRNG{state: binary.BigEndian.Uint32(sum[:4])}
}

// Float64 returns the next uniform value in [0,1).
func (r *formRNG) Float64() float64 {
	r.state += 0x6D2B79F5
	z := r.state
	z = (z ^ (z >> 15)) * (z | 1)
	z ^= z + (z^(z>>7))*(z|61)
	return float64(z^(z>>14)) / 4294967296.0
}

func fisherYates[T any](r *formRNG, s []T) {
	for i := len(s) - 1; i > 0; i-- {
		j := int(r.Float64() * float64(i+1))
		s[i], s[j] = s[j], s[i]
	}
}

// BuildForm derives an attempt's served question set and its frozen form
// snapshot from a version's question bank. With shuffle enabled the question
// order is shuffled first, then each question's options in document order,
// all from one generator stream.
func BuildForm(v Version, shuffle bool, seed, attemptID string) ([]ServedQuestion, []FormQuestion) {
	qs := make([]Question, len(v.Questions))
	for i, q := range v.Questions {
		qs[i] = q
		qs[i].Options = append([]Option(nil), q.Options...)
	}
	order := make([]int, len(qs))
	for i := range order {
		order[i] = i
	}

	if shuffle {
		r := newFormRNG(seed, v.TestID, attemptID, v.Version)
		fisherYates(r, order)
		for i := range qs {
			fisherYates(r, qs[i].Options)
		}
	}

	served := make([]ServedQuestion, 0, len(qs))
	form := make([]FormQuestion, 0, len(qs))
	for _, idx := range order {
		q := qs[idx]
		ids := make([]string, len(q.Options))
		for i, o := range q.Options {
			ids[i] = o.ID
		}
		served = append(served, ServedQuestion{ID: q.ID, Prompt: q.Prompt, Points: q.Points, Options: q.Options})
		form = append(form, FormQuestion{QuestionID: q.ID, OptionIDs: ids})
	}
	return served, form
}
