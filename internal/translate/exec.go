package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-caption/internal/config"
	"github.com/loqalabs/loqa-caption/internal/language"
	"github.com/loqalabs/loqa-caption/internal/svcerr"
	"github.com/mattn/go-shellwords"
)

// execTranslator runs a local command per request. The command reads
// {"model","prompt","text","source","target"} on stdin and prints
// {"content": "..."} on stdout.
type execTranslator struct {
	cmd   []string
	model string
	table *language.Table
	mu    sync.Mutex
}

type execRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
	Text   string `json:"text"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type execResponse struct {
	Content *string `json:"content"`
}

func NewExecTranslator(cfg config.TranslationConfig, table *language.Table) (Translator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse translation command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("translation command empty")
	}
	return &execTranslator{cmd: args, model: cfg.Model, table: table}, nil
}

func (t *execTranslator) Translate(ctx context.Context, text string, source, target language.Code) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	input, err := json.Marshal(execRequest{
		Model:  t.model,
		Prompt: BuildPrompt(t.table, text, source, target),
		Text:   text,
		Source: string(source),
		Target: string(target),
	})
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, t.cmd[0], t.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return "", svcerr.Transport(serviceName, fmt.Errorf("translation command failed: %w: %s", err, strings.TrimSpace(stderr.String())))
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return "", svcerr.Format(serviceName, "command output is not {\"content\": string}", err)
	}
	if resp.Content == nil {
		return "", svcerr.Format(serviceName, "command output has no string content", nil)
	}
	return strings.TrimSpace(*resp.Content), nil
}
