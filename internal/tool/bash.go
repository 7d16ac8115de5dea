package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ExecShellTool runs a shell command to completion and reports its streams
// separately. Grounded on dcode's internal/tool/bash.go (the
// CommandContext/timeout/truncation shape), but diverging from it per
// this design: stdout and stderr are captured and reported separately
// rather than concatenated, the default timeout is 30s rather than 120s,
// and stdin is wired to /dev/null rather than left inherited so a command
// that unexpectedly waits on input fails fast instead of hanging the loop.
func ExecShellTool() *Def {
	return &Def{
		Name: "exec_shell",
		Description: "Execute a shell command in the project directory. Default timeout: 30s.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type": "string",
					"description": "The shell command to execute",
				},
				"timeout": map[string]any{
					"type": "integer",
					"description": "Timeout in seconds (default: 30)",
				},
				"cwd": map[string]any{
					"type": "string",
					"description": "Working directory to run the command in, relative to the project directory",
				},
			},
			"required": []string{"command"},
		},
		Execute: func(ctx context.Context, tc *Context, input map[string]any) (*Result, error) {
			command, _ := input["command"].(string)
			if command == "" {
				return &Result{Output: "Error: command is required", IsError: true}, nil
			}

			timeoutSecs := 30
			if v, ok := input["timeout"].(float64); ok && v > 0 {
				timeoutSecs = int(v)
			}

			workDir := tc.WorkDir
			if workDir == "" {
				workDir = "."
			}
			if cwd, _ := input["cwd"].(string); cwd != "" {
				workDir = resolvePath(tc, cwd)
			}

			timeout := time.Duration(timeoutSecs) * time.Second
			cmdCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			cmd := exec.CommandContext(cmdCtx, "bash", "-c", command)
			cmd.Dir, _ = filepath.Abs(workDir)

			devNull, err := os.Open(os.DevNull)
			if err == nil {
				cmd.Stdin = devNull
				defer devNull.Close()
			}

			var stdout, stderr bytes.Buffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr

			runErr := cmd.Run()

			out := truncate(stdout.String())
			errOut := truncate(stderr.String())
			exitCode := 0

			if runErr != nil {
				if cmdCtx.Err() == context.DeadlineExceeded {
					return &Result{
						Output: fmt.Sprintf("Command timed out after %ds\nstdout:\n%s\nstderr:\n%s", timeoutSecs, out, errOut),
						IsError: true,
					}, nil
				}
				exitCode = -1
				if exitErr, ok := runErr.(*exec.ExitError); ok {
					exitCode = exitErr.ExitCode()
				}
			}

			payload, _ := json.Marshal(map[string]any{
				"stdout": strings.TrimRight(out, "\n"),
				"stderr": strings.TrimRight(errOut, "\n"),
				"exitCode": exitCode,
			})

			return &Result{Output: string(payload), IsError: exitCode != 0}, nil
		},
	}
}

// truncate caps output at 30KB, keeping head and tail, to save tokens on
// noisy commands.
func truncate(s string) string {
	const maxOutput = 30 * 1024
	if len(s) <= maxOutput {
		return s
	}
	return s[:maxOutput/2] + "\n\n... (output truncated)...\n\n" + s[len(s)-maxOutput/2:]
}
