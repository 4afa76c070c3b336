package customcheck

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"time"

	"github.com/anmitsu/go-shlex"

	"github.com/it-novum/openitcockpit-agent-sub000/internal/config"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/platform"
)

// waitDelay bounds how long Wait blocks on output pipes held open by
// orphaned grandchildren after the command was killed.
const waitDelay = time.Second

// Executor runs one custom check and classifies how it ended.
type Executor func(ctx context.Context, check config.CustomCheck) Outcome

// NewExecutor returns the subprocess executor for the given platform.
func NewExecutor(caps platform.Capabilities) Executor {
	return func(ctx context.Context, check config.CustomCheck) Outcome {
		return execCommand(ctx, caps, check)
	}
}

func execCommand(ctx context.Context, caps platform.Capabilities, check config.CustomCheck) Outcome {
	args, err := shlex.Split(check.Command, caps.SplitPOSIX())
	if err != nil {
		return parseErrorOutcome(err)
	}
	if len(args) == 0 {
		return parseErrorOutcome(errors.New("empty command"))
	}

	runCtx, cancel := context.WithTimeout(ctx, check.TimeoutDuration())
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay
	if caps.HasProcessGroups() {
		killProcessGroup(cmd)
	}

	err = cmd.Run()
	return classify(err, runCtx.Err(), ctx.Err(), check.Timeout, stdout.String(), stderr.String())
}

// classify maps the result of a finished command to an Outcome. runErr and
// parentErr are the errors of the timeout context and of its parent. A
// deadline only counts as a timeout when the command did not exit cleanly.
func classify(err, runErr, parentErr error, timeout int, stdout, stderr string) Outcome {
	if err != nil && errors.Is(runErr, context.DeadlineExceeded) && parentErr == nil {
		return timeoutOutcome(timeout, stdout)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return Outcome{Kind: OK, Stdout: stdout, Stderr: stderr}
	case errors.As(err, &exitErr) && exitErr.ExitCode() >= 0:
		return Outcome{
			Kind:       OK,
			Stdout:     stdout,
			Stderr:     stderr,
			ReturnCode: exitErr.ExitCode(),
		}
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return notFoundOutcome(err)
	case parentErr != nil:
		return failedOutcome(fmt.Errorf("cancelled: %w", parentErr))
	default:
		return failedOutcome(err)
	}
}
