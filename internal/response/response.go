package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "captionflow/pkg/errors"
)

// Response is the standard API response structure
type Response struct {
	Error     int32  `json:"error"`            // Error code (0 = success)
	Msg       string `json:"msg"`              // Human-readable message
	Detail    string `json:"detail,omitempty"` // Additional error details
	Stage     string `json:"stage,omitempty"`  // Pipeline stage that failed
	Retryable bool   `json:"retryable"`        // Whether the client may retry
	Data      any    `json:"data"`             // Response payload
}

// R sends a JSON response
func R(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

// Success returns a success response with data
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{
		Error: 0,
		Msg:   "成功 Success",
		Data:  data,
	})
}

// Error returns an error response with code and message
func Error(c *gin.Context, code int, msg string) {
	ErrorResponse(c, apperrors.New(code, msg))
}

// FromError converts an error to a Response
// If the error is an AppError, it extracts code, message and stage
// Otherwise, it uses CodeUnknown
func FromError(err error) Response {
	if err == nil {
		return Response{
			Error: 0,
			Msg:   "成功 Success",
		}
	}

	return Response{
		Error:     int32(apperrors.GetCode(err)),
		Msg:       apperrors.GetMessage(err),
		Detail:    apperrors.GetDetail(err),
		Stage:     string(apperrors.StageOf(err)),
		Retryable: apperrors.Retryable(err),
	}
}

// ErrorResponse sends an error response with the status mapped from err.
func ErrorResponse(c *gin.Context, err error) {
	c.JSON(apperrors.HTTPStatus(err), FromError(err))
}
