package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSessionError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *SessionError
		want string
	}{
		{
			name: "with id and op",
			err:  NewSessionError("create", ErrProvisionFailed).WithSessionID("abc123"),
			want: "session error [session=abc123, op=create]: provision failed",
		},
		{
			name: "op only",
			err:  NewSessionError("start", ErrBackendOperationFailed),
			want: "session error [op=start]: backend operation failed",
		},
		{
			name: "no cause",
			err:  NewSessionError("", nil),
			want: "session error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSessionError_Unwrap(t *testing.T) {
	err := NewSessionError("create", ErrPortRangeExhausted)
	if !errors.Is(err, ErrPortRangeExhausted) {
		t.Error("errors.Is(err, ErrPortRangeExhausted) = false, want true")
	}

	var sessErr *SessionError
	wrapped := fmt.Errorf("outer: %w", err)
	if !errors.As(wrapped, &sessErr) {
		t.Fatal("errors.As failed to find *SessionError")
	}
	if sessErr.Operation != "create" {
		t.Errorf("Operation = %q, want %q", sessErr.Operation, "create")
	}
}

func TestBackendError(t *testing.T) {
	cause := fmt.Errorf("exit status 1")
	err := NewBackendError("start container", ErrBackendOperationFailed).
		WithKind("container").
		WithHandle("c0ffee").
		WithCause(cause).
		WithOutput("  no such container \n")

	if !errors.Is(err, ErrBackendOperationFailed) {
		t.Error("errors.Is(err, ErrBackendOperationFailed) = false, want true")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
	if err.Output != "no such container" {
		t.Errorf("Output = %q, want trimmed output", err.Output)
	}

	msg := err.Error()
	for _, want := range []string{"backend=container", "handle=c0ffee", "start container", "output: no such container"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestBackendError_WithCauseOnNilCause(t *testing.T) {
	cause := errors.New("boom")
	err := NewBackendError("ping", nil).WithCause(cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
	if err.WithCause(nil) != err {
		t.Error("WithCause(nil) should return the receiver unchanged")
	}
}

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("abc123")
	if got, want := err.Error(), "session 'abc123' not found"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !IsNotFound(err) {
		t.Error("IsNotFound() = false, want true")
	}
	if !IsNotFound(NewSessionError("delete", err)) {
		t.Error("IsNotFound() through SessionError = false, want true")
	}
}

func TestTimeoutError(t *testing.T) {
	err := NewTimeoutError("waiting for tmate-ready", 8*time.Second)
	if !errors.Is(err, ErrReadinessTimeout) {
		t.Error("errors.Is(err, ErrReadinessTimeout) = false, want true")
	}
	if !strings.Contains(err.Error(), "after 8s") {
		t.Errorf("Error() = %q, want duration in message", err.Error())
	}
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantWarning bool
		wantFatal   bool
		wantSev     Severity
	}{
		{"nil", nil, false, false, SeverityError},
		{"partial sentinel", ErrPartialProvisioning, true, false, SeverityWarning},
		{"partial backend error", NewBackendError("chpasswd", ErrPartialProvisioning), true, false, SeverityWarning},
		{"partial joined", Join(ErrPartialProvisioning, errors.New("exec failed")), true, false, SeverityWarning},
		{"provision failed", NewBackendError("create", ErrProvisionFailed), false, true, SeverityError},
		{"unavailable", NewBackendError("ping", ErrBackendUnavailable), false, true, SeverityCritical},
		{"plain", errors.New("boom"), false, true, SeverityError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsWarning(tt.err); got != tt.wantWarning {
				t.Errorf("IsWarning() = %v, want %v", got, tt.wantWarning)
			}
			if got := IsFatal(tt.err); got != tt.wantFatal {
				t.Errorf("IsFatal() = %v, want %v", got, tt.wantFatal)
			}
			if tt.err != nil {
				if got := SeverityOf(tt.err); got != tt.wantSev {
					t.Errorf("SeverityOf() = %v, want %v", got, tt.wantSev)
				}
			}
		})
	}
}
