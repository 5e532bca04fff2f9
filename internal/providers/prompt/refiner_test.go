package prompt

import (
	"context"
	"errors"
	"testing"

	"server/internal/domain"
)

func TestStaticRefinerTrimsAndTitles(t *testing.T) {
	r := NewStaticRefiner()
	refined, err := r.Refine(context.Background(), "  a cat surfing at golden hour  ", "en")
	if err != nil {
		t.Fatalf("Refine error: %v", err)
	}
	if refined.Text != "a cat surfing at golden hour" {
		t.Fatalf("Text = %q", refined.Text)
	}
	if refined.Title == "" {
		t.Fatal("expected a derived title")
	}
}

func TestStaticRefinerRejectsEmpty(t *testing.T) {
	r := NewStaticRefiner()
	for _, raw := range []string{"", "   ", "\n\t"} {
		if _, err := r.Refine(context.Background(), raw, "en"); !errors.Is(err, domain.ErrInvalidPrompt) {
			t.Fatalf("raw %q: expected ErrInvalidPrompt, got %v", raw, err)
		}
	}
}

func TestStaticRefinerUnknownLocale(t *testing.T) {
	r := NewStaticRefiner()
	if _, err := r.Refine(context.Background(), "a cat", "zz-notreal"); err != nil {
		t.Fatalf("unknown locale must fall back, got %v", err)
	}
}
