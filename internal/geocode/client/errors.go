package client

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failed geocoding request.
type Kind int

const (
	// KindTimeout means the retry budget ran out before a successful response.
	KindTimeout Kind = iota + 1
	// KindOverQueryLimit is HTTP 429. The client backs off and retries it itself.
	KindOverQueryLimit
	// KindAPIError is HTTP 400, the provider rejected the request.
	KindAPIError
	// KindInvalidKey is HTTP 403, bad credentials or an exhausted account quota.
	KindInvalidKey
	// KindGenericServer is any other non-200 status.
	KindGenericServer
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "Timeout"
	case KindOverQueryLimit:
		return "OverQueryLimit"
	case KindAPIError:
		return "ApiError"
	case KindInvalidKey:
		return "InvalidKey"
	case KindGenericServer:
		return "GenericServerError"
	default:
		return "Unknown"
	}
}

const invalidKeyMessage = "Invalid key specified or quota exceeded."

// Error is a classified failure returned by Client.Request.
type Error struct {
	Kind     Kind
	Status   int
	Messages []string
	Body     []byte
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindTimeout:
		return "Timeout: retry budget exceeded"
	case KindGenericServer:
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, strings.TrimSpace(string(e.Body)))
	default:
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message())
	}
}

// Message joins the provider's error messages one per line.
func (e *Error) Message() string {
	return strings.Join(e.Messages, "\n")
}

// KindOf returns the Kind of a classified error anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsKind reports whether err is a classified error of the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
