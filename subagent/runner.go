package subagent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/richinex/clew/llm"
)

// Request is one stateless sub-agent invocation.
type Request struct {
	System string
	Prompt string
	Model  string
}

// Runner performs a single one-shot invocation and returns the raw reply.
// Implementations must be safe for concurrent use.
type Runner interface {
	Run(ctx context.Context, req Request) (string, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, req Request) (string, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// DefaultCommand is the CLI spawned by ProcessRunner.
const DefaultCommand = "claude"

// ProcessRunner spawns one CLI process per call in print mode.
type ProcessRunner struct {
	Command string   // defaults to DefaultCommand
	Args    []string // placed before the generated flags
	Env     []string // appended to the parent environment
	Dir     string
}

// Run starts the process, writes the prompt to stdin, and returns stdout.
// The prompt goes through stdin since chunk text can exceed argv limits.
func (r *ProcessRunner) Run(ctx context.Context, req Request) (string, error) {
	command := r.Command
	if command == "" {
		command = DefaultCommand
	}

	args := append([]string{}, r.Args...)
	args = append(args, "--print", "--output-format", "text")
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.System != "" {
		args = append(args, "--append-system-prompt", req.System)
	}

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}
	cmd.Stdin = strings.NewReader(req.Prompt)
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "", &Error{Kind: KindTimeout, Err: ctx.Err()}
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &Error{
				Kind:   KindExit,
				Err:    fmt.Errorf("%s exited with code %d", command, exitErr.ExitCode()),
				Detail: truncate(strings.TrimSpace(stderr.String()), 500),
			}
		}
		return "", &Error{Kind: KindSpawn, Err: fmt.Errorf("failed to start %s: %w", command, err)}
	}
	return stdout.String(), nil
}

// ProviderRunner sends each invocation to an HTTP model provider.
type ProviderRunner struct {
	provider     llm.Provider
	providerType llm.ProviderType
}

// NewProviderRunner wraps provider. Model aliases such as "haiku" are
// resolved for providerType.
func NewProviderRunner(provider llm.Provider, providerType llm.ProviderType) *ProviderRunner {
	return &ProviderRunner{provider: provider, providerType: providerType}
}

// Run sends one completion request and asks for JSON output.
func (r *ProviderRunner) Run(ctx context.Context, req Request) (string, error) {
	model := r.provider.Model()
	if req.Model != "" {
		model = r.providerType.ResolveModel(req.Model)
	}
	resp, err := r.provider.Complete(ctx, llm.Request{
		System: req.System,
		Prompt: req.Prompt,
		Model:  model,
		JSON:   true,
	})
	if err != nil {
		return "", &Error{Kind: KindExit, Err: err}
	}
	return resp.Content, nil
}

var (
	_ Runner = (*ProcessRunner)(nil)
	_ Runner = (*ProviderRunner)(nil)
	_ Runner = RunnerFunc(nil)
)
