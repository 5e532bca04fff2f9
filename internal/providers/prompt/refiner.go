// Package prompt turns free-text user input into the structured prompt sent
// to the generation provider. The refinement dialogue itself lives in an
// external service; this package only defines the collaborator contract plus
// a static fallback used in development and tests.
package prompt

import (
	"context"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"server/internal/domain"
)

// Refined is the structured prompt produced from free text.
type Refined struct {
	Text     string
	Title    string
	Keywords []string
}

// Refiner is the opaque prompt-refinement collaborator.
type Refiner interface {
	Refine(ctx context.Context, raw, locale string) (*Refined, error)
}

// StaticRefiner normalizes the raw text without calling out anywhere.
type StaticRefiner struct{}

func NewStaticRefiner() *StaticRefiner {
	return &StaticRefiner{}
}

func (s *StaticRefiner) Refine(_ context.Context, raw, locale string) (*Refined, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, domain.ErrInvalidPrompt
	}
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.Und
	}
	title := cases.Title(tag).String(firstWords(text, 6))
	return &Refined{Text: text, Title: title, Keywords: []string{"video", "generated"}}, nil
}

func firstWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}

var _ Refiner = (*StaticRefiner)(nil)
