package apperrors

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"syscall"
)

// Code is an OS-level error code in its conventional symbolic form.
type Code string

// OS-level codes understood by the classifier.
const (
	CodeTimedOut          Code = "ETIMEDOUT"
	CodeConnectionReset   Code = "ECONNRESET"
	CodeConnectionRefused Code = "ECONNREFUSED"
	CodeBrokenPipe        Code = "EPIPE"
	CodeHostNotFound      Code = "ENOTFOUND"
)

// statusOverloaded is the non-standard status AI services use when overloaded.
const statusOverloaded = 529

// CodeOf derives the OS-level code carried by err, or "" if there is none.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ETIMEDOUT:
			return CodeTimedOut
		case syscall.ECONNRESET:
			return CodeConnectionReset
		case syscall.ECONNREFUSED:
			return CodeConnectionRefused
		case syscall.EPIPE:
			return CodeBrokenPipe
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return CodeHostNotFound
	}

	if errors.Is(err, os.ErrDeadlineExceeded) {
		return CodeTimedOut
	}

	// Context errors implement net.Error but carry no OS-level code
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ""
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimedOut
	}

	return ""
}

// IsRetryable reports whether err is transient. It is a pure function of the
// error's kind and fields.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var e *Error
	if !errors.As(err, &e) {
		return isRetryableGeneric(CodeOf(err))
	}

	switch e.Kind {
	case KindRemote:
		return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
	case KindAI:
		if !e.HasStatus {
			return false
		}
		return e.Status == http.StatusTooManyRequests ||
			e.Status == statusOverloaded ||
			e.Status >= http.StatusInternalServerError
	case KindNetwork:
		code := e.Code
		if code == "" {
			code = CodeOf(e.Err)
		}
		return code == CodeHostNotFound || isRetryableGeneric(code)
	case KindConfig, KindStorage:
		return false
	}
	return false
}

// isRetryableGeneric is the narrower code set for errors outside the taxonomy.
func isRetryableGeneric(code Code) bool {
	switch code {
	case CodeTimedOut, CodeConnectionReset, CodeConnectionRefused, CodeBrokenPipe:
		return true
	case CodeHostNotFound:
		return false
	}
	return false
}

// User-facing messages.
const (
	msgUnexpected = "An unexpected error occurred."

	msgStorageCorrupted  = "The data file is corrupted; the file will be reset."
	msgStorageLocked     = "The data file is in use; please retry."
	msgStoragePermission = "Permission denied while accessing the data file; check file permissions."
	msgStorageNotFound   = "The data file was not found."
	msgStorageGeneric    = "The data file could not be accessed."

	msgRemoteAuth        = "The remote service rejected the credentials; check your API token."
	msgRemoteNotFound    = "The remote resource was not found."
	msgRemoteRateLimited = "The remote service is rate limiting requests; please retry later."
	msgRemoteUnavailable = "The remote service is unavailable; please retry later."
	msgRemoteRejected    = "The remote service rejected the request."

	msgAIOverloaded  = "The AI service is overloaded; please retry later."
	msgAIRateLimited = "The AI service is rate limiting requests; please retry later."
	msgAIUnavailable = "The AI service is unavailable; please retry later."
	msgAIAuth        = "The AI service rejected the credentials; check your API key."
	msgAIRejected    = "The AI service rejected the request."
	msgAIFailed      = "The AI service request failed."

	msgConfig = "The configuration is invalid; check your settings."

	msgNetworkTimeout  = "The connection timed out; please retry."
	msgNetworkReset    = "The connection was reset; please retry."
	msgNetworkRefused  = "The connection was refused; is the service running?"
	msgNetworkPipe     = "The connection was closed unexpectedly; please retry."
	msgNetworkNotFound = "The host could not be found; check the URL."
	msgNetworkGeneric  = "A network error occurred."
)

var storageMessages = map[Reason]string{
	ReasonCorrupted:  msgStorageCorrupted,
	ReasonLocked:     msgStorageLocked,
	ReasonPermission: msgStoragePermission,
	ReasonNotFound:   msgStorageNotFound,
	ReasonNone:       msgStorageGeneric,
}

var networkMessages = map[Code]string{
	CodeTimedOut:          msgNetworkTimeout,
	CodeConnectionReset:   msgNetworkReset,
	CodeConnectionRefused: msgNetworkRefused,
	CodeBrokenPipe:        msgNetworkPipe,
	CodeHostNotFound:      msgNetworkNotFound,
}

// UserMessage returns the human-readable message for err. It depends only on
// the kind, reason, status and code, never on the diagnostic message.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if !errors.As(err, &e) {
		return msgUnexpected
	}

	switch e.Kind {
	case KindStorage:
		if msg, ok := storageMessages[e.Reason]; ok {
			return msg
		}
		return msgStorageGeneric
	case KindRemote:
		return remoteMessage(e.Status)
	case KindAI:
		return aiMessage(e.HasStatus, e.Status)
	case KindConfig:
		return msgConfig
	case KindNetwork:
		if msg, ok := networkMessages[e.Code]; ok {
			return msg
		}
		return msgNetworkGeneric
	}
	return msgUnexpected
}

func remoteMessage(status int) string {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return msgRemoteAuth
	case status == http.StatusNotFound:
		return msgRemoteNotFound
	case status == http.StatusTooManyRequests:
		return msgRemoteRateLimited
	case status >= http.StatusInternalServerError:
		return msgRemoteUnavailable
	default:
		return msgRemoteRejected
	}
}

func aiMessage(hasStatus bool, status int) string {
	if !hasStatus {
		return msgAIFailed
	}
	switch {
	case status == statusOverloaded:
		return msgAIOverloaded
	case status == http.StatusTooManyRequests:
		return msgAIRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return msgAIAuth
	case status >= http.StatusInternalServerError:
		return msgAIUnavailable
	default:
		return msgAIRejected
	}
}
