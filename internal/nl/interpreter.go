// Package nl maps free-form user text to canonical provider commands using
// the per-provider phrase dictionaries.
package nl

import (
	"errors"
	"sort"
	"strings"

	"github.com/lvonguyen/cloudgate/internal/cloud"
)

// ErrUnknown is returned when no dictionary phrase matches the input.
var ErrUnknown = errors.New("cannot interpret natural language input")

// Interpreter resolves natural-language text against one provider's phrase
// dictionary. Phrases are pre-sorted at construction by descending length,
// stable on declared order, so the longest phrase wins and ties resolve to
// the earlier entry.
type Interpreter struct {
	phrases []cloud.Phrase
}

// NewInterpreter builds an interpreter for a provider.
func NewInterpreter(provider *cloud.Provider) *Interpreter {
	phrases := make([]cloud.Phrase, len(provider.Phrases))
	copy(phrases, provider.Phrases)
	sort.SliceStable(phrases, func(i, j int) bool {
		return len(phrases[i].Text) > len(phrases[j].Text)
	})
	return &Interpreter{phrases: phrases}
}

// Interpret lowercases and whitespace-collapses the input, then returns the
// command of the first phrase found as a substring. ErrUnknown if none match.
func (in *Interpreter) Interpret(text string) (string, error) {
	needle := normalize(text)
	if needle == "" {
		return "", ErrUnknown
	}
	for _, p := range in.phrases {
		if strings.Contains(needle, p.Text) {
			return p.Command, nil
		}
	}
	return "", ErrUnknown
}

func normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
