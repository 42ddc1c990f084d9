package core

import (
	"errors"
	"strings"
	"testing"
)

func TestConnectionError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := &ConnectionError{Server: "weather", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("ConnectionError should unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "weather") {
		t.Errorf("message should name the server: %s", err.Error())
	}

	var connErr *ConnectionError
	if !errors.As(error(err), &connErr) || connErr.Server != "weather" {
		t.Error("errors.As should recover the typed error")
	}
}

func TestCleanupError_Unwrap(t *testing.T) {
	cause := errors.New("already closed")
	err := &CleanupError{SessionID: "s1", Server: "search", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("CleanupError should unwrap to its cause")
	}
	for _, want := range []string{"s1", "search"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("message should contain %q: %s", want, err.Error())
		}
	}
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("message cannot be %s", "empty")
	if err.Error() != "message cannot be empty" {
		t.Errorf("unexpected message: %s", err.Error())
	}

	var valErr *ValidationError
	if !errors.As(error(err), &valErr) {
		t.Error("errors.As should recover the typed error")
	}
}
