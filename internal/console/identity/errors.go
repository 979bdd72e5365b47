package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rideops/console/pkg/retryx"
)

// Error codes the identity service is known to return.
const (
	ErrorCodeInvalidGrant       = "invalid_grant"
	ErrorCodeRefreshNotFound    = "refresh_token_not_found"
	ErrorCodeRefreshExpired     = "refresh_token_expired"
	ErrorCodeOverRequestRate    = "over_request_rate_limit"
	ErrorCodeInvalidCredentials = "invalid_credentials"
)

// Endpoint families, recorded on errors so classification can tell a token
// endpoint rejection apart from a row access failure.
const (
	endpointToken = "token"
	endpointRows  = "rows"
	endpointAuth  = "auth"
)

// APIError is an error response from the identity service.
type APIError struct {
	// Status is the HTTP status code.
	Status int
	// Code is the service's machine-readable error code, when present.
	Code string
	// Message is the human-readable description.
	Message string
	// Endpoint is the endpoint family that produced the error.
	Endpoint string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("identity: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("identity: HTTP %d: %s", e.Status, e.Message)
}

// Classify maps an identity service error to a retry class.
//
// Fatal means the refresh credential itself is unusable: an explicit
// invalid/expired/not-found code, a message naming a bad refresh token, or
// any 400-class rejection from the token endpoint. Rate limiting is the only
// retryable condition. Everything else passes through unclassified so
// unexpected failures are never masked as transient.
func Classify(err error) retryx.Class {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return retryx.ClassOther
	}

	if apiErr.Status == http.StatusTooManyRequests || apiErr.Code == ErrorCodeOverRequestRate {
		return retryx.ClassRetryable
	}

	switch apiErr.Code {
	case ErrorCodeInvalidGrant, ErrorCodeRefreshNotFound, ErrorCodeRefreshExpired:
		return retryx.ClassFatal
	}

	msg := strings.ToLower(apiErr.Message)
	if strings.Contains(msg, "refresh token") &&
		(strings.Contains(msg, "invalid") || strings.Contains(msg, "expired") || strings.Contains(msg, "not found")) {
		return retryx.ClassFatal
	}

	if apiErr.Endpoint == endpointToken && apiErr.Status >= 400 && apiErr.Status < 500 {
		return retryx.ClassFatal
	}

	return retryx.ClassOther
}

// parseErrorResponse turns a non-2xx response body into an *APIError.
func parseErrorResponse(status int, endpoint string, body []byte) error {
	var payload struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Code             string `json:"code"`
		Message          string `json:"message"`
		Msg              string `json:"msg"`
	}
	apiErr := &APIError{Status: status, Endpoint: endpoint}

	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.Error != "":
			apiErr.Code = payload.Error
			apiErr.Message = payload.ErrorDescription
		case payload.Code != "":
			apiErr.Code = payload.Code
			apiErr.Message = payload.Message
		case payload.Msg != "":
			apiErr.Message = payload.Msg
		}
	}

	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
