package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/mattn/go-shellwords"
)

type execEngine struct {
	cmd []string
	cfg config.STTConfig
}

type execResult struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// NewExecEngine runs an external recognizer per clip. The command receives
// --audio <path> and must print {"text": "...", "language": "..."}.
func NewExecEngine(cfg config.STTConfig) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &execEngine{cmd: args, cfg: cfg}, nil
}

func (e *execEngine) Transcribe(ctx context.Context, in Input) (Transcript, error) {
	if in.Path == "" {
		return Transcript{}, fmt.Errorf("exec engine needs a clip path")
	}
	cmdArgs := append([]string{}, e.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", in.Path)
	if e.cfg.ModelPath != "" {
		cmdArgs = append(cmdArgs, "--model", e.cfg.ModelPath)
	}
	if e.cfg.Language != "" && e.cfg.Language != "auto" {
		cmdArgs = append(cmdArgs, "--language", e.cfg.Language)
	}

	command := exec.CommandContext(ctx, e.cmd[0], cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Transcript{}, ctxErr
		}
		return Transcript{}, fmt.Errorf("stt command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Transcript{}, fmt.Errorf("decode stt response: %w", err)
	}
	return Transcript{Text: strings.TrimSpace(resp.Text), Language: resp.Language}, nil
}

func (e *execEngine) Close() error { return nil }
