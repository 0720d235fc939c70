// Package translate translates transcripts one segment at a time so that
// every segment keeps its original timing.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"captionflow/internal/types"
	apperrors "captionflow/pkg/errors"
)

// NoneLanguage disables translation.
const NoneLanguage = "none"

// NormalizeLanguage canonicalizes a BCP 47 tag such as "pt_br" or "ZH-hans".
func NormalizeLanguage(code string) (string, error) {
	code = strings.TrimSpace(strings.ReplaceAll(code, "_", "-"))
	if code == "" {
		return "", unsupportedLanguage(code, errors.New("empty language code"))
	}
	tag, err := language.Parse(code)
	if err != nil {
		return "", unsupportedLanguage(code, err)
	}
	return tag.String(), nil
}

// LanguageName returns the English name of a language tag, or the tag
// itself when it has no display name.
func LanguageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return code
}

func unsupportedLanguage(code string, cause error) error {
	return apperrors.WrapWithDetail(apperrors.CodeUnsupportedLanguage, apperrors.ErrUnsupportedLanguage.Message,
		fmt.Sprintf("target language %q", code), cause).WithStage(apperrors.StageTranslate)
}

func emptyTranslation() error {
	return apperrors.ErrEmptyTranslation.WithStage(apperrors.StageTranslate)
}

// LLMTranslator translates through a chat completion model.
type LLMTranslator struct {
	chat types.ChatCompleter
}

func NewLLMTranslator(chat types.ChatCompleter) *LLMTranslator {
	return &LLMTranslator{chat: chat}
}

func (t *LLMTranslator) Translate(ctx context.Context, text string, targetLanguage string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", apperrors.WrapWithDetail(apperrors.CodeInvalidParams, apperrors.ErrInvalidParams.Message, "empty source text", nil)
	}
	name := LanguageName(targetLanguage)
	out, err := t.chat.ChatCompletion(ctx, fmt.Sprintf(types.TranslateSystemPrompt, name, name), text)
	if err != nil {
		return "", err
	}
	out = cleanTranslation(out)
	if out == "" {
		return "", emptyTranslation()
	}
	return out, nil
}

// cleanTranslation strips whitespace and quotes the model wraps around a
// one-line answer.
func cleanTranslation(s string) string {
	s = strings.TrimSpace(s)
	for _, pair := range [][2]string{{`"`, `"`}, {"“", "”"}, {"「", "」"}, {"'", "'"}} {
		if len(s) >= len(pair[0])+len(pair[1]) && strings.HasPrefix(s, pair[0]) && strings.HasSuffix(s, pair[1]) {
			inner := s[len(pair[0]) : len(s)-len(pair[1])]
			if !strings.Contains(inner, pair[0]) {
				s = strings.TrimSpace(inner)
			}
			break
		}
	}
	return s
}

// NoopTranslator returns the text unchanged.
type NoopTranslator struct{}

func (NoopTranslator) Translate(_ context.Context, text string, _ string) (string, error) {
	return text, nil
}
