// Package language holds the static table of spoken/written languages the
// captioner understands.
package language

import "github.com/loqalabs/loqa-caption/internal/config"

// Code is a BCP 47 tag such as "en-US".
type Code string

const (
	EnglishUS Code = "en-US"
	Hebrew    Code = "he-IL"
)

const (
	FallbackSource = "the source language"
	FallbackTarget = "the target language"
)

// Option pairs a code with the name shown in a language selector.
type Option struct {
	Code Code   `json:"code"`
	Name string `json:"name"`
}

// Names is the lookup entry for a code.
type Names struct {
	Name       string `json:"name"`
	NativeName string `json:"native_name"`
}

// Table is immutable after construction and safe for concurrent use.
type Table struct {
	options []Option
	names   map[Code]Names
}

// NewTable builds a table from configuration, preserving order.
func NewTable(entries []config.LanguageConfig) *Table {
	t := &Table{names: make(map[Code]Names, len(entries))}
	for _, e := range entries {
		code := Code(e.Code)
		label := e.Label
		if label == "" {
			label = e.Name
		}
		if label == "" {
			label = e.Code
		}
		t.options = append(t.options, Option{Code: code, Name: label})
		t.names[code] = Names{Name: e.Name, NativeName: e.NativeName}
	}
	return t
}

// Options returns a copy of the selector entries.
func (t *Table) Options() []Option {
	return append([]Option(nil), t.options...)
}

// Valid reports whether code is in the table.
func (t *Table) Valid(code Code) bool {
	_, ok := t.names[code]
	return ok
}

// Name returns the English display name for code, or fallback when the code
// is unknown or has no name.
func (t *Table) Name(code Code, fallback string) string {
	if n, ok := t.names[code]; ok && n.Name != "" {
		return n.Name
	}
	return fallback
}

// Lookup returns the names for code.
func (t *Table) Lookup(code Code) (Names, bool) {
	n, ok := t.names[code]
	return n, ok
}
