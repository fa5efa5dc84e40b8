package core

import (
	"errors"
	"strings"
)

// CodedError is implemented by domain errors that carry a machine-readable code.
type CodedError interface {
	error
	ErrorCode() string
}

type ErrorInfo struct {
	Code       string
	Message    string
	HTTPStatus int
}

func MapError(err error, fallbackStatus int) ErrorInfo {
	if err == nil {
		return ErrorInfo{Code: "internal_error", Message: "internal server error", HTTPStatus: fallbackStatus}
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	var coded CodedError
	if errors.As(err, &coded) {
		code := coded.ErrorCode()
		switch code {
		case "schema_mismatch", "invalid_return_type":
			return ErrorInfo{Code: code, Message: msg, HTTPStatus: 500}
		case "invalid_parameter", "invalid_request_schema", "path_policy_empty", "plugin_exec_failed", "receipt_invalid":
			return ErrorInfo{Code: code, Message: msg, HTTPStatus: 400}
		case "command_not_found":
			return ErrorInfo{Code: code, Message: msg, HTTPStatus: 404}
		case "plugin_not_allowed", "path_policy_forbidden":
			return ErrorInfo{Code: code, Message: msg, HTTPStatus: 403}
		case "plugin_timeout":
			return ErrorInfo{Code: code, Message: msg, HTTPStatus: 504}
		}
	}

	switch {
	case strings.Contains(lower, "invalid json"), strings.Contains(lower, "request body must contain a single json object"):
		return ErrorInfo{Code: "invalid_request_schema", Message: msg, HTTPStatus: 400}
	case strings.Contains(lower, "context deadline exceeded"):
		return ErrorInfo{Code: "timeout", Message: msg, HTTPStatus: fallbackStatus}
	case strings.Contains(lower, "invocation not found"):
		return ErrorInfo{Code: "invocation_not_found", Message: "invocation not found", HTTPStatus: 404}
	default:
		code := "internal_error"
		if fallbackStatus >= 400 && fallbackStatus < 500 {
			code = "handler_failed"
		}
		return ErrorInfo{Code: code, Message: msg, HTTPStatus: fallbackStatus}
	}
}
