package actions

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/reactorhq/reactor/internal/engine"
)

// ShellAction is the "shell.exec" action. A non-zero exit is a UserError
// (not retryable): re-running a failed shell command without operator
// intervention rarely changes the outcome.
type ShellAction struct {
	logger *zap.Logger
}

func NewShellAction(logger *zap.Logger) *ShellAction {
	return &ShellAction{logger: logger}
}

func (s *ShellAction) Execute(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	command, ok := input["command"].(string)
	if !ok || command == "" {
		return nil, &engine.Failure{Kind: engine.KindUserError, Message: "command parameter is required"}
	}

	workDir := ""
	if wd, ok := input["working_dir"].(string); ok {
		workDir = wd
	}

	timeout := 30 * time.Second
	if t, ok := input["timeout"].(float64); ok {
		timeout = time.Duration(t) * time.Second
	}

	env := os.Environ()
	if envVars, ok := input["env"].(map[string]interface{}); ok {
		for key, value := range envVars {
			env = append(env, fmt.Sprintf("%s=%v", key, value))
		}
	}

	s.logger.Info("executing shell command", zap.String("command", command), zap.String("working_dir", workDir))

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return nil, &engine.Failure{Kind: engine.KindUserError, Message: "empty command"}
	}

	cmd := exec.CommandContext(cmdCtx, parts[0], parts[1:]...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	cmd.Env = env

	output, err := cmd.CombinedOutput()
	outputStr := string(output)

	result := map[string]interface{}{
		"command":   command,
		"output":    outputStr,
		"success":   err == nil,
		"exit_code": float64(0),
	}

	if err != nil {
		exitCode := -1
		if exitError, ok := err.(*exec.ExitError); ok {
			exitCode = exitError.ExitCode()
		}
		result["exit_code"] = float64(exitCode)
		result["error"] = err.Error()

		s.logger.Error("shell command failed", zap.String("command", command), zap.Error(err), zap.String("output", outputStr))

		kind := engine.KindUserError
		if cmdCtx.Err() != nil {
			kind = engine.KindTimeout
		}
		return result, &engine.Failure{Kind: kind, Message: fmt.Sprintf("command failed with exit code %d", exitCode)}
	}

	s.logger.Info("shell command completed", zap.String("command", command), zap.String("output", outputStr))

	return result, nil
}
