// Package credential generates login material for new sessions.
//
// All randomness comes from crypto/rand. Generated values never reach logs:
// Credentials redacts its passwords when formatted or logged.
package credential

import (
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
)

const (
	lowerAlnum = "abcdefghijklmnopqrstuvwxyz0123456789"
	alnum      = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	// UsernamePrefix keeps generated usernames from starting with a digit.
	UsernamePrefix = "u"

	// RootUser is the account whose password is set to RootPassword.
	RootUser = "root"

	redacted = "[REDACTED]"
)

// Credentials is the login material issued to a session.
type Credentials struct {
	Username     string `json:"username" yaml:"username"`
	Password     string `json:"password,omitempty" yaml:"password,omitempty"`
	RootPassword string `json:"root_password,omitempty" yaml:"root_password,omitempty"`
}

// IsZero reports whether no credentials were issued.
func (c Credentials) IsZero() bool {
	return c == Credentials{}
}

// String implements fmt.Stringer without exposing passwords.
func (c Credentials) String() string {
	if c.IsZero() {
		return "credentials{}"
	}
	return fmt.Sprintf("credentials{user=%s password=%s root_password=%s}", c.Username, redacted, redacted)
}

// LogValue implements slog.LogValuer without exposing passwords.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", c.Username),
		slog.String("password", redacted),
		slog.String("root_password", redacted),
	)
}

// Generator issues credentials of fixed lengths.
type Generator struct {
	usernameLength int
	passwordLength int
	rand           io.Reader
}

// NewGenerator creates a Generator. usernameLength counts the "u" prefix.
func NewGenerator(usernameLength, passwordLength int) *Generator {
	return &Generator{
		usernameLength: max(usernameLength, len(UsernamePrefix)+1),
		passwordLength: max(passwordLength, 1),
		rand:           rand.Reader,
	}
}

// New generates a username, a user password and a root password.
func (g *Generator) New() (Credentials, error) {
	suffix, err := g.randomString(lowerAlnum, g.usernameLength-len(UsernamePrefix))
	if err != nil {
		return Credentials{}, fmt.Errorf("generate username: %w", err)
	}
	password, err := g.randomString(alnum, g.passwordLength)
	if err != nil {
		return Credentials{}, fmt.Errorf("generate password: %w", err)
	}
	rootPassword, err := g.randomString(alnum, g.passwordLength)
	if err != nil {
		return Credentials{}, fmt.Errorf("generate root password: %w", err)
	}

	return Credentials{
		Username:     UsernamePrefix + suffix,
		Password:     password,
		RootPassword: rootPassword,
	}, nil
}

// randomString draws n characters uniformly from alphabet. Bytes that would
// bias the distribution are rejected.
func (g *Generator) randomString(alphabet string, n int) (string, error) {
	limit := 256 - 256%len(alphabet)
	out := make([]byte, 0, n)
	buf := make([]byte, n)

	for len(out) < n {
		if _, err := io.ReadFull(g.rand, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
