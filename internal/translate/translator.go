package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/notify"
)

// Translator turns a transcript into the selected target language with one
// completion request per call.
type Translator struct {
	completer Completer
	model     string
	prompts   PromptTable
	logger    *slog.Logger
}

// New builds the translator selected by translation.mode. In openai mode the
// credential is read from the environment variable named by api_key_env; a
// missing value is a *ConfigurationError.
func New(cfg config.TranslationConfig, logger *slog.Logger) (*Translator, error) {
	var completer Completer
	switch cfg.Mode {
	case "openai":
		apiKey := strings.TrimSpace(os.Getenv(cfg.APIKeyEnv))
		if apiKey == "" {
			return nil, &ConfigurationError{Setting: cfg.APIKeyEnv, Reason: "is not set"}
		}
		completer = NewOpenAICompleter(apiKey, cfg.BaseURL, time.Duration(cfg.TimeoutMS)*time.Millisecond)
	case "exec":
		c, err := NewExecCompleter(cfg.Command)
		if err != nil {
			return nil, &ConfigurationError{Setting: "translation.command", Reason: err.Error()}
		}
		completer = c
	case "mock", "":
		completer = NewMockCompleter()
	default:
		return nil, &ConfigurationError{Setting: "translation.mode", Reason: fmt.Sprintf("%q is not supported", cfg.Mode)}
	}
	return NewWithCompleter(completer, cfg.Model, DefaultPrompts(), logger), nil
}

func NewWithCompleter(completer Completer, model string, prompts PromptTable, logger *slog.Logger) *Translator {
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	return &Translator{
		completer: completer,
		model:     model,
		prompts:   prompts,
		logger:    logger.With(slog.String("component", "translate")),
	}
}

// Prompts returns the prompt table the translator resolves languages with.
func (t *Translator) Prompts() PromptTable { return t.prompts }

// Translate sends text, possibly empty, to the completion backend. Unknown
// language codes use the fallback prompt.
func (t *Translator) Translate(ctx context.Context, text, lang string, run *notify.Run) (Result, error) {
	req := Request{SourceText: text, TargetLanguage: lang}
	run.Progress(notify.ChannelTranscript, notify.StepTranslationStarted, "Translating...")
	t.logger.Debug("translating", slog.String("run_id", run.ID()), slog.String("language", lang), slog.String("text", text))

	messages := []Message{
		{Role: RoleSystem, Content: t.prompts.Prompt(req.TargetLanguage)},
		{Role: RoleUser, Content: req.SourceText},
	}
	content, err := t.completer.Complete(ctx, t.model, messages)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Result{}, err
		}
		trErr := &TranslationError{Language: lang, Err: err}
		t.logger.Error("translation failed", slog.String("run_id", run.ID()), slogError(trErr))
		run.Failure(notify.ChannelTranslation, notify.StepTranslationFailed, trErr)
		return Result{}, trErr
	}

	res := Result{TranslatedText: content, Model: t.model}
	run.Emit(notify.KindTranslation, notify.ChannelTranslation, notify.StepTranslationResult, "Translation: "+content)
	return res, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
