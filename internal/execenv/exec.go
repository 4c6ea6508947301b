package execenv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"time"

	dserrors "github.com/systmms/cloudsecrets/internal/errors"
	"github.com/systmms/cloudsecrets/internal/logging"
)

var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Executor runs commands with store secrets in their environment
type Executor struct {
	logger *logging.Logger
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// New creates an executor wired to the process stdio
func New(logger *logging.Logger) *Executor {
	return &Executor{
		logger: logger,
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

// WithOutput redirects the child's stdout and stderr.
func (e *Executor) WithOutput(stdout, stderr io.Writer) *Executor {
	e.stdout = stdout
	e.stderr = stderr
	return e
}

// ExecOptions configures command execution
type ExecOptions struct {
	Command       []string          // Command and arguments to run
	Environment   map[string]string // Decoded secrets to export
	Prefix        string            // Prepended to every exported name
	AllowOverride bool              // Existing env vars win over secrets
	PrintVars     bool              // Print exported names with masked values
	WorkingDir    string
	Timeout       time.Duration // 0 for no timeout
}

// ExitError carries the exit status of a child that ran but failed.
type ExitError struct {
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Command, e.Code)
}

// Exec runs the command and waits for it
func (e *Executor) Exec(ctx context.Context, options ExecOptions) error {
	if err := ValidateCommand(options.Command); err != nil {
		return err
	}

	if options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}

	exported := e.exportable(options.Environment, options.Prefix)
	if options.PrintVars {
		e.printEnvironment(exported)
	}

	cmdName := options.Command[0]
	cmd := exec.CommandContext(ctx, cmdName, options.Command[1:]...)
	cmd.Env = buildEnvironment(os.Environ(), exported, options.AllowOverride)
	cmd.Stdin = e.stdin
	cmd.Stdout = e.stdout
	cmd.Stderr = e.stderr
	if options.WorkingDir != "" {
		cmd.Dir = options.WorkingDir
	}

	values := make([]string, 0, len(exported))
	for _, value := range exported {
		values = append(values, value)
	}
	e.logger.Debug("Executing command: %s", logging.Redact(strings.Join(options.Command, " "), values))
	e.logger.Debug("Environment variables set: %d", len(exported))

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Command: cmdName, Code: exitErr.ExitCode()}
		}
		return dserrors.UserError{
			Message:    fmt.Sprintf("Failed to run %s", cmdName),
			Details:    logging.Redact(err.Error(), values),
			Suggestion: "Check the command output above for details",
			Err:        err,
		}
	}
	return nil
}

// exportable applies prefix and drops keys that are not valid variable names.
func (e *Executor) exportable(secrets map[string]string, prefix string) map[string]string {
	out := make(map[string]string, len(secrets))
	for key, value := range secrets {
		name := prefix + key
		if !envNamePattern.MatchString(name) {
			e.logger.Warn("Skipping key %q: not a valid environment variable name", key)
			continue
		}
		out[name] = value
	}
	return out
}

// buildEnvironment merges secrets into base, sorted by name
func buildEnvironment(base []string, secrets map[string]string, allowOverride bool) []string {
	envMap := make(map[string]string, len(base)+len(secrets))
	for _, kv := range base {
		if key, value, ok := strings.Cut(kv, "="); ok {
			envMap[key] = value
		}
	}

	for key, value := range secrets {
		if _, exists := envMap[key]; exists && allowOverride {
			continue
		}
		envMap[key] = value
	}

	result := make([]string, 0, len(envMap))
	for key, value := range envMap {
		result = append(result, key+"="+value)
	}
	sort.Strings(result)
	return result
}

// printEnvironment lists the exported names, values masked
func (e *Executor) printEnvironment(environment map[string]string) {
	if len(environment) == 0 {
		_, _ = fmt.Fprintln(e.stderr, "No secrets exported")
		return
	}

	_, _ = fmt.Fprintf(e.stderr, "Exporting %d secrets:\n", len(environment))
	keys := make([]string, 0, len(environment))
	for key := range environment {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		_, _ = fmt.Fprintf(e.stderr, "  %s=%s\n", key, maskValue(environment[key]))
	}
}

// maskValue masks a secret value for display
func maskValue(value string) string {
	if len(value) == 0 {
		return "(empty)"
	}
	if len(value) <= 3 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:1] + strings.Repeat("*", len(value)-2) + value[len(value)-1:]
	}
	return value[:3] + strings.Repeat("*", 8) + value[len(value)-2:]
}

// ValidateCommand checks that a command was given and is on PATH
func ValidateCommand(command []string) error {
	if len(command) == 0 {
		return dserrors.UserError{
			Message:    "No command specified",
			Suggestion: "Provide a command after -- (e.g., cloudsecrets exec --store app -- ./server)",
		}
	}

	if _, err := exec.LookPath(command[0]); err != nil {
		return dserrors.UserError{
			Message:    fmt.Sprintf("Command '%s' not found", command[0]),
			Suggestion: "Check that it is installed and on your PATH",
			Err:        err,
		}
	}
	return nil
}
