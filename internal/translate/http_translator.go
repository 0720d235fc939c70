package translate

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	apperrors "captionflow/pkg/errors"
)

// HTTPTranslator calls a LibreTranslate compatible /translate endpoint.
type HTTPTranslator struct {
	client *resty.Client
	apiKey string
}

type libreRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	ApiKey string `json:"api_key,omitempty"`
}

type libreResponse struct {
	TranslatedText string `json:"translatedText"`
}

type libreError struct {
	Error string `json:"error"`
}

func NewHTTPTranslator(baseUrl, apiKey string) *HTTPTranslator {
	return &HTTPTranslator{
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseUrl, "/")).
			SetTimeout(2 * time.Minute),
		apiKey: apiKey,
	}
}

func (t *HTTPTranslator) Translate(ctx context.Context, text string, targetLanguage string) (string, error) {
	var (
		result  libreResponse
		failure libreError
	)
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(libreRequest{
			Q:      text,
			Source: "auto",
			Target: baseLanguage(targetLanguage),
			Format: "text",
			ApiKey: t.apiKey,
		}).
		SetResult(&result).
		SetError(&failure).
		Post("/translate")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", apperrors.Transient(apperrors.CodeTranslateFailed, apperrors.ErrTranslateFailed.Message, err)
	}

	if resp.IsError() {
		return "", libreStatusError(resp.StatusCode(), failure.Error, targetLanguage)
	}
	out := strings.TrimSpace(result.TranslatedText)
	if out == "" {
		return "", emptyTranslation()
	}
	return out, nil
}

func libreStatusError(status int, message, target string) error {
	detail := fmt.Sprintf("status %d: %s", status, message)
	switch {
	case status == http.StatusBadRequest && strings.Contains(strings.ToLower(message), "not supported"):
		return unsupportedLanguage(target, fmt.Errorf("%s", detail))
	case status == http.StatusTooManyRequests:
		e := apperrors.Transient(apperrors.CodeRateLimited, apperrors.ErrRateLimited.Message, nil)
		e.Detail = detail
		return e
	case status >= 500:
		e := apperrors.Transient(apperrors.CodeTranslateFailed, apperrors.ErrTranslateFailed.Message, nil)
		e.Detail = detail
		return e
	default:
		return apperrors.WrapWithDetail(apperrors.CodeTranslateFailed, apperrors.ErrTranslateFailed.Message, detail, nil)
	}
}

// baseLanguage drops script and region subtags, which LibreTranslate
// mostly does not know about.
func baseLanguage(code string) string {
	if i := strings.IndexAny(code, "-_"); i > 0 {
		switch strings.ToLower(code) {
		case "zh-hant", "zh-tw", "zh-hk", "pt-br":
			return strings.ToLower(code)
		}
		return code[:i]
	}
	return code
}
