package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/sashabaranov/go-openai"

	apperrors "captionflow/pkg/errors"
)

type errorCodes struct {
	failed   int
	timeout  int
	quota    int
	rejected int
	message  string
}

// classify maps vendor and transport failures onto AppErrors, marking the
// ones worth retrying as transient.
func classify(err error, codes errorCodes) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Transient(codes.timeout, "上游调用超时 Upstream call timed out", err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if isQuotaError(apiErr) {
			return apperrors.WrapWithDetail(codes.quota, "额度不足 Quota exhausted", apiErr.Message, err)
		}
		return byStatus(apiErr.HTTPStatusCode, apiErr.Message, err, codes)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := ""
		if reqErr.Err != nil {
			detail = reqErr.Err.Error()
		}
		return byStatus(reqErr.HTTPStatusCode, detail, err, codes)
	}

	if isNetworkError(err) {
		return apperrors.Transient(codes.failed, codes.message, err)
	}
	return apperrors.Wrap(codes.failed, codes.message, err)
}

func byStatus(status int, detail string, err error, codes errorCodes) error {
	switch {
	case status == http.StatusTooManyRequests:
		e := apperrors.Transient(apperrors.CodeRateLimited, "上游限流 Upstream rate limited", err)
		e.Detail = detail
		return e
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		e := apperrors.Transient(codes.timeout, "上游调用超时 Upstream call timed out", err)
		e.Detail = detail
		return e
	case status >= 500:
		e := apperrors.Transient(codes.failed, codes.message, err)
		e.Detail = fmt.Sprintf("status %d: %s", status, detail)
		return e
	case status >= 400:
		return apperrors.WrapWithDetail(codes.rejected, "上游拒绝请求 Upstream rejected the request", detail, err)
	default:
		return apperrors.WrapWithDetail(codes.failed, codes.message, detail, err)
	}
}

func isQuotaError(apiErr *openai.APIError) bool {
	if apiErr.Type == "insufficient_quota" {
		return true
	}
	if apiErr.Code != nil && fmt.Sprint(apiErr.Code) == "insufficient_quota" {
		return true
	}
	return apiErr.HTTPStatusCode == http.StatusPaymentRequired
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
