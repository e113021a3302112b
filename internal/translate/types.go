package translate

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/loqalabs/loqa-caption/internal/config"
	"github.com/loqalabs/loqa-caption/internal/language"
)

const serviceName = "translation"

// Translator turns text in one language into text in another.
type Translator interface {
	Translate(ctx context.Context, text string, source, target language.Code) (string, error)
}

// New builds the translator selected by cfg.Mode.
func New(cfg config.TranslationConfig, table *language.Table) (Translator, error) {
	switch cfg.Mode {
	case "", "http":
		httpClient := &http.Client{}
		if cfg.TimeoutMS > 0 {
			httpClient.Timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
		}
		return NewClient(cfg, table, httpClient), nil
	case "mock":
		return NewMockTranslator(), nil
	case "exec":
		return NewExecTranslator(cfg, table)
	default:
		return nil, fmt.Errorf("unknown translation mode %q", cfg.Mode)
	}
}
