package translate

import (
	"context"
	"fmt"
)

// Message is one chat message sent to a completion backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Request describes one translation.
type Request struct {
	SourceText     string
	TargetLanguage string
}

// Result is the translated text and the model that produced it.
type Result struct {
	TranslatedText string
	Model          string
}

// Completer defines a pluggable chat-completion backend. It returns the
// content of the first choice.
type Completer interface {
	Complete(ctx context.Context, model string, messages []Message) (string, error)
}

// TranslationError reports a failed completion request.
type TranslationError struct {
	Language string
	Err      error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("translation to %s failed: %v", e.Language, e.Err)
}

func (e *TranslationError) Unwrap() error { return e.Err }

// ConfigurationError reports a translator that cannot be built, typically a
// missing credential.
type ConfigurationError struct {
	Setting string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("translation is not configured: %s %s", e.Setting, e.Reason)
}
