package platform

import (
	"errors"
	"fmt"
)

// Kind classifies a remote platform failure so the login flow can branch
// explicitly instead of matching on error subtypes.
type Kind int

const (
	// KindOther covers unexpected remote or transport failures; fatal to the flow.
	KindOther Kind = iota
	// KindPhoneInvalid means the platform rejected the phone number.
	KindPhoneInvalid
	// KindCodeInvalid means the submitted login code was wrong.
	KindCodeInvalid
	// KindPasswordNeeded means the account has a two-factor password enabled.
	KindPasswordNeeded
	// KindPasswordInvalid means the two-factor password was wrong.
	KindPasswordInvalid
	// KindUnauthorized means the stored session is no longer valid.
	KindUnauthorized
	// KindUnavailable marks transient transport failures toward the gateway.
	KindUnavailable
)

// Wire error codes used by the platform gateway.
const (
	codePhoneInvalid    = "PHONE_NUMBER_INVALID"
	codeCodeInvalid     = "PHONE_CODE_INVALID"
	codePasswordNeeded  = "SESSION_PASSWORD_NEEDED"
	codePasswordInvalid = "PASSWORD_HASH_INVALID"
	codeUnauthorized    = "AUTH_KEY_UNREGISTERED"
)

// Error is a tagged failure returned from remote platform calls.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return fmt.Sprintf("platform error (kind %d)", int(e.Kind))
}

// KindOf extracts the error kind, returning KindOther for untagged errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindOther
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindOther
}

func kindFromCode(code string) Kind {
	switch code {
	case codePhoneInvalid:
		return KindPhoneInvalid
	case codeCodeInvalid:
		return KindCodeInvalid
	case codePasswordNeeded:
		return KindPasswordNeeded
	case codePasswordInvalid:
		return KindPasswordInvalid
	case codeUnauthorized:
		return KindUnauthorized
	default:
		return KindOther
	}
}
