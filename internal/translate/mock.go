package translate

import (
	"context"
	"strings"

	"github.com/loqalabs/loqa-caption/internal/language"
)

type mockTranslator struct{}

// NewMockTranslator tags the input with the target code instead of translating.
func NewMockTranslator() Translator { return &mockTranslator{} }

func (m *mockTranslator) Translate(ctx context.Context, text string, _, target language.Code) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}
	return "[" + string(target) + "] " + text, nil
}
