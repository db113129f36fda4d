package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

type execCompleter struct {
	cmd []string
}

type execRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type execResponse struct {
	Content string `json:"content"`
}

// NewExecCompleter runs a command per request. The request JSON is written
// to stdin and {"content": "..."} is expected on stdout.
func NewExecCompleter(command string) (Completer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse translation command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("translation command empty")
	}
	return &execCompleter{cmd: args}, nil
}

func (c *execCompleter) Complete(ctx context.Context, model string, messages []Message) (string, error) {
	input, err := json.Marshal(execRequest{Model: model, Messages: messages})
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, c.cmd[0], c.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("translation command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return "", fmt.Errorf("decode translation response: %w", err)
	}
	return resp.Content, nil
}
