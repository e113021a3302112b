package language

import (
	"testing"

	"github.com/loqalabs/loqa-caption/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestDefaultTable(t *testing.T) {
	table := NewTable(config.Default().Languages)

	assert.Equal(t, []Option{
		{Code: EnglishUS, Name: "English (US)"},
		{Code: Hebrew, Name: "עברית (Hebrew)"},
	}, table.Options())
	assert.True(t, table.Valid(Hebrew))
	assert.False(t, table.Valid("fr-FR"))
}

func TestNameFallback(t *testing.T) {
	table := NewTable(config.Default().Languages)

	assert.Equal(t, "English", table.Name(EnglishUS, FallbackSource))
	assert.Equal(t, "Hebrew", table.Name(Hebrew, FallbackTarget))
	assert.Equal(t, FallbackSource, table.Name("xx-XX", FallbackSource))
	assert.Equal(t, FallbackTarget, table.Name("", FallbackTarget))
}

func TestOptionsIsACopy(t *testing.T) {
	table := NewTable([]config.LanguageConfig{{Code: "fr-FR", Name: "French"}})

	opts := table.Options()
	opts[0].Name = "changed"

	assert.Equal(t, "French", table.Options()[0].Name)
}
