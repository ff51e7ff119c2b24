package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsThroughWrapping(t *testing.T) {
	base := Expired("list chats", "status 401")
	wrapped := fmt.Errorf("refresh: %w", base)

	if !Is(wrapped, AuthExpired) {
		t.Error("Is(wrapped, AuthExpired) = false, want true")
	}
	if Is(wrapped, RequestFailed) {
		t.Error("Is(wrapped, RequestFailed) = true, want false")
	}
	if KindOf(wrapped) != AuthExpired {
		t.Errorf("KindOf = %q, want %q", KindOf(wrapped), AuthExpired)
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("KindOf(plain) should be empty")
	}
}

func TestErrorMessage(t *testing.T) {
	cause := errors.New("connection refused")
	err := Failed("send message", cause)
	want := "send message: REQUEST_FAILED: connection refused"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the cause via Unwrap")
	}
}
