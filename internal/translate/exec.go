package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

type execTranslator struct {
	cmd []string
	mu  sync.Mutex
}

type execRequest struct {
	Texts      []string `json:"texts"`
	SourceLang string   `json:"source_lang,omitempty"`
	TargetLang string   `json:"target_lang"`
}

type execResponse struct {
	Translations []string `json:"translations"`
}

// NewExecTranslator runs command once per request, writing the request as
// JSON on stdin and reading {"translations": [...]} from stdout.
func NewExecTranslator(command string) (Translator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse translator command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("translator command empty")
	}
	return &execTranslator{cmd: args}, nil
}

func (e *execTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	input, err := json.Marshal(execRequest{Texts: req.Texts, SourceLang: req.SourceLang, TargetLang: req.TargetLang})
	if err != nil {
		return nil, err
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(input)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("translator exec command failed: %w", err)
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return nil, fmt.Errorf("decode translator exec response: %w", err)
	}
	return Texts(resp.Translations...), nil
}
