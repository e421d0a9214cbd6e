package credential

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"testing"
)

func TestGeneratorNew(t *testing.T) {
	g := NewGenerator(8, 12)
	username := regexp.MustCompile(`^u[a-z0-9]{7}$`)
	password := regexp.MustCompile(`^[A-Za-z0-9]{12}$`)

	for i := 0; i < 50; i++ {
		creds, err := g.New()
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if !username.MatchString(creds.Username) {
			t.Errorf("Username = %q, want u + 7 lowercase alnum", creds.Username)
		}
		if !password.MatchString(creds.Password) {
			t.Errorf("Password = %q, want 12 alnum", creds.Password)
		}
		if !password.MatchString(creds.RootPassword) {
			t.Errorf("RootPassword = %q, want 12 alnum", creds.RootPassword)
		}
		if creds.Password == creds.RootPassword {
			t.Error("Password and RootPassword should differ")
		}
	}
}

func TestGeneratorLengths(t *testing.T) {
	tests := []struct {
		userLen, passLen int
		wantUser         int
		wantPass         int
	}{
		{8, 12, 8, 12},
		{16, 32, 16, 32},
		{0, 0, 2, 1},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%d", tt.userLen, tt.passLen), func(t *testing.T) {
			creds, err := NewGenerator(tt.userLen, tt.passLen).New()
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if len(creds.Username) != tt.wantUser {
				t.Errorf("len(Username) = %d, want %d", len(creds.Username), tt.wantUser)
			}
			if len(creds.Password) != tt.wantPass {
				t.Errorf("len(Password) = %d, want %d", len(creds.Password), tt.wantPass)
			}
		})
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy unavailable") }

func TestGeneratorRandomFailure(t *testing.T) {
	g := NewGenerator(8, 12)
	g.rand = failingReader{}

	if _, err := g.New(); err == nil {
		t.Error("expected error when the random source fails")
	}
}

func TestRandomStringRejectsBiasedBytes(t *testing.T) {
	g := NewGenerator(8, 12)
	// 36 chars: bytes >= 252 are rejected, so 0xff is skipped
	g.rand = bytes.NewReader([]byte{0xff, 0x00, 0xff, 0x01, 0x02, 0x03})

	got, err := g.randomString(lowerAlnum, 3)
	if err != nil {
		t.Fatalf("randomString() error = %v", err)
	}
	if got != "abc" {
		t.Errorf("randomString() = %q, want abc", got)
	}
}

func TestCredentialsRedaction(t *testing.T) {
	creds := Credentials{Username: "uab12cd3", Password: "Secret123456", RootPassword: "RootSecret99"}

	t.Run("String", func(t *testing.T) {
		s := creds.String()
		if strings.Contains(s, "Secret123456") || strings.Contains(s, "RootSecret99") {
			t.Errorf("String() leaks a password: %s", s)
		}
		if !strings.Contains(s, "uab12cd3") {
			t.Errorf("String() should include the username: %s", s)
		}
		if got := fmt.Sprintf("%v", creds); got != s {
			t.Errorf("%%v = %q, want String() output", got)
		}
	})

	t.Run("slog", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))
		logger.Info("issued", "credentials", creds)

		out := buf.String()
		if strings.Contains(out, "Secret123456") || strings.Contains(out, "RootSecret99") {
			t.Errorf("log output leaks a password: %s", out)
		}
		var entry map[string]any
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatal(err)
		}
		group, ok := entry["credentials"].(map[string]any)
		if !ok || group["username"] != "uab12cd3" {
			t.Errorf("credentials group = %v", entry["credentials"])
		}
	})

	t.Run("zero", func(t *testing.T) {
		if !(Credentials{}).IsZero() {
			t.Error("zero Credentials should report IsZero")
		}
		if creds.IsZero() {
			t.Error("populated Credentials should not report IsZero")
		}
	})
}
