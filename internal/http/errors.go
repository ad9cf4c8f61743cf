package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/broadcast"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/domain"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/observability"
)

// RequestError pins an error to an HTTP status.
type RequestError struct {
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func badRequest(err error) error {
	return &RequestError{StatusCode: http.StatusBadRequest, Err: err}
}

func forbidden(err error) error {
	return &RequestError{StatusCode: http.StatusForbidden, Err: err}
}

type errorBody struct {
	Error  string   `json:"error"`
	Code   string   `json:"code"`
	Active []string `json:"active,omitempty"`
}

// statusFor maps domain errors to their HTTP status.
func statusFor(err error) int {
	var reqErr *RequestError
	var notActive *broadcast.NotActiveError
	switch {
	case errors.As(err, &reqErr):
		return reqErr.StatusCode
	case errors.As(err, &notActive):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrInvalidSessionState), errors.Is(err, domain.ErrModelNotSupported):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSessionExists):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error(), Code: domain.ErrorCode(err)}

	var notActive *broadcast.NotActiveError
	switch {
	case errors.As(err, &notActive):
		body.Code = "session_not_active"
		body.Active = notActive.Active
	case status == http.StatusBadRequest && body.Code == "internal_error":
		body.Code = "invalid_request"
	case status == http.StatusForbidden:
		body.Code = "forbidden"
	case status >= http.StatusInternalServerError:
		// Internal details stay in the log.
		body.Error = http.StatusText(status)
	}

	logger := observability.FromContext(ctx)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", observability.Error(err), observability.Int("status", status))
	} else {
		logger.Info("request rejected", observability.Error(err), observability.Int("status", status))
	}

	writeJSON(ctx, w, status, body)
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		observability.FromContext(ctx).Error("failed to encode response", observability.Error(err))
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return badRequest(fmt.Errorf("invalid request body: %w", err))
	}
	return nil
}
