package platform

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"contactbot/core/logger"
)

func TestMain(m *testing.M) {
	_ = logger.InitLogger(nil)
	os.Exit(m.Run())
}

func TestKindFromCode(t *testing.T) {
	cases := []struct {
		code string
		want Kind
	}{
		{"PHONE_NUMBER_INVALID", KindPhoneInvalid},
		{"PHONE_CODE_INVALID", KindCodeInvalid},
		{"SESSION_PASSWORD_NEEDED", KindPasswordNeeded},
		{"PASSWORD_HASH_INVALID", KindPasswordInvalid},
		{"AUTH_KEY_UNREGISTERED", KindUnauthorized},
		{"FLOOD_WAIT_42", KindOther},
		{"", KindOther},
	}
	for _, tc := range cases {
		if got := kindFromCode(tc.code); got != tc.want {
			t.Errorf("kindFromCode(%q) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(nil); got != KindOther {
		t.Errorf("KindOf(nil) = %v", got)
	}
	if got := KindOf(errors.New("plain")); got != KindOther {
		t.Errorf("KindOf(plain) = %v", got)
	}

	tagged := &Error{Kind: KindCodeInvalid, Code: "PHONE_CODE_INVALID"}
	if got := KindOf(tagged); got != KindCodeInvalid {
		t.Errorf("KindOf(tagged) = %v", got)
	}
	// Wrapping must not hide the tag.
	wrapped := fmt.Errorf("sign in: %w", tagged)
	if got := KindOf(wrapped); got != KindCodeInvalid {
		t.Errorf("KindOf(wrapped) = %v", got)
	}
}

func TestErrorString(t *testing.T) {
	cases := []struct {
		err  *Error
		want string
	}{
		{&Error{Kind: KindCodeInvalid, Code: "PHONE_CODE_INVALID", Message: "The code is wrong"}, "The code is wrong"},
		{&Error{Kind: KindCodeInvalid, Code: "PHONE_CODE_INVALID"}, "PHONE_CODE_INVALID"},
		{&Error{Kind: KindUnavailable}, "platform error (kind 6)"},
	}
	for _, tc := range cases {
		if got := tc.err.Error(); got != tc.want {
			t.Errorf("Error() = %q, want %q", got, tc.want)
		}
	}
}
