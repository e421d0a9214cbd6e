// Package exec abstracts external command execution so that backends driving
// CLI tools (tmate) can be tested with scripted responses instead of real
// processes.
package exec

import (
	"bytes"
	"context"
	"os/exec"
	"slices"
	"sync"
)

// CommandExecutor runs external commands.
// Production code uses RealExecutor, tests use MockExecutor.
type CommandExecutor interface {
	// Run executes a command and returns stdout, stderr, and any error.
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

	// CombinedOutput executes a command and returns combined stdout+stderr.
	CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error)
}

// RealExecutor executes commands using os/exec.
type RealExecutor struct{}

// NewRealExecutor returns a new RealExecutor.
func NewRealExecutor() *RealExecutor {
	return &RealExecutor{}
}

// Run executes a command and returns stdout, stderr, and any error.
func (e *RealExecutor) Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err = cmd.Run()
	return stdoutBuf.Bytes(), stderrBuf.Bytes(), err
}

// CombinedOutput executes a command and returns combined stdout+stderr.
func (e *RealExecutor) CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// MockResponse defines the response for a mocked command.
type MockResponse struct {
	Stdout []byte
	Stderr []byte
	Err    error
}

// CommandMatcher reports whether a command matches a rule.
type CommandMatcher func(name string, args []string) bool

// mockRule pairs a matcher with the responses it hands out. Responses are
// consumed in order; the last one repeats once the rest are used up.
type mockRule struct {
	match     CommandMatcher
	responses []MockResponse
	served    int
}

func (r *mockRule) next() MockResponse {
	i := min(r.served, len(r.responses)-1)
	r.served++
	return r.responses[i]
}

// MockCall records a command invocation for verification.
type MockCall struct {
	Name string
	Args []string
}

// MockExecutor returns pre-recorded responses for commands.
// Rules are matched in registration order; unmatched commands succeed with
// empty output.
type MockExecutor struct {
	mu    sync.Mutex
	rules []*mockRule
	calls []MockCall
}

// NewMockExecutor creates a new MockExecutor.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{}
}

// AddRule adds a matching rule with its response.
func (e *MockExecutor) AddRule(match CommandMatcher, response MockResponse) {
	e.AddSequence(match, response)
}

// AddSequence adds a rule that answers successive matching calls with the
// given responses in order, repeating the final one.
func (e *MockExecutor) AddSequence(match CommandMatcher, responses ...MockResponse) {
	if len(responses) == 0 {
		responses = []MockResponse{{}}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, &mockRule{match: match, responses: responses})
}

// AddExactMatch adds a rule that matches a specific command exactly.
func (e *MockExecutor) AddExactMatch(name string, args []string, response MockResponse) {
	e.AddRule(ExactMatcher(name, args), response)
}

// AddPrefixMatch adds a rule that matches commands starting with specific args.
func (e *MockExecutor) AddPrefixMatch(name string, prefixArgs []string, response MockResponse) {
	e.AddRule(PrefixMatcher(name, prefixArgs), response)
}

// ExactMatcher matches name with exactly args.
func ExactMatcher(name string, args []string) CommandMatcher {
	return func(n string, a []string) bool {
		return n == name && slices.Equal(a, args)
	}
}

// PrefixMatcher matches name with arguments beginning with prefixArgs.
func PrefixMatcher(name string, prefixArgs []string) CommandMatcher {
	return func(n string, a []string) bool {
		if n != name || len(a) < len(prefixArgs) {
			return false
		}
		return slices.Equal(a[:len(prefixArgs)], prefixArgs)
	}
}

// ContainsMatcher matches name when every arg in want appears somewhere in
// the argument list.
func ContainsMatcher(name string, want ...string) CommandMatcher {
	return func(n string, a []string) bool {
		if n != name {
			return false
		}
		for _, w := range want {
			if !slices.Contains(a, w) {
				return false
			}
		}
		return true
	}
}

// GetCalls returns all recorded command invocations.
func (e *MockExecutor) GetCalls() []MockCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	calls := make([]MockCall, len(e.calls))
	copy(calls, e.calls)
	return calls
}

// CountCalls returns how many recorded invocations satisfy match.
func (e *MockExecutor) CountCalls(match CommandMatcher) int {
	n := 0
	for _, call := range e.GetCalls() {
		if match(call.Name, call.Args) {
			n++
		}
	}
	return n
}

// ClearCalls clears the recorded command invocations.
func (e *MockExecutor) ClearCalls() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = nil
}

// dispatch records the call and returns the response of the first matching rule.
func (e *MockExecutor) dispatch(name string, args []string) MockResponse {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls, MockCall{Name: name, Args: slices.Clone(args)})
	for _, rule := range e.rules {
		if rule.match(name, args) {
			return rule.next()
		}
	}
	return MockResponse{}
}

// Run executes a mocked command.
func (e *MockExecutor) Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	resp := e.dispatch(name, args)
	return resp.Stdout, resp.Stderr, resp.Err
}

// CombinedOutput executes a mocked command.
func (e *MockExecutor) CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp := e.dispatch(name, args)
	combined := append(slices.Clone(resp.Stdout), resp.Stderr...)
	return combined, resp.Err
}

// Ensure implementations satisfy the interface.
var _ CommandExecutor = (*RealExecutor)(nil)
var _ CommandExecutor = (*MockExecutor)(nil)
