package customcheck

import (
	"errors"
	"fmt"
	"strings"

	"github.com/it-novum/openitcockpit-agent-sub000/internal/store"
)

// Return codes reported for executions that did not produce an exit status.
const (
	ReturnCodeUnknown  = 3
	ReturnCodeTimeout  = 124
	ReturnCodeNotFound = 127
)

// ErrUnknown is reported when an execution failed without a usable error,
// such as a panic inside the executor.
var ErrUnknown = errors.New("unknown error")

// Kind classifies how an execution ended.
type Kind int

const (
	// OK means the command ran to completion. Any exit status is OK.
	OK Kind = iota
	// Timeout means the command was killed after its timeout.
	Timeout
	// NotFound means the executable does not exist.
	NotFound
	// ParseError means the command line could not be split into arguments.
	ParseError
	// Failed covers every other error, including panics while executing.
	Failed
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "ok"
	case Timeout:
		return "timeout"
	case NotFound:
		return "not_found"
	case ParseError:
		return "parse_error"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the tagged result of one execution.
type Outcome struct {
	Kind       Kind
	Stdout     string
	Stderr     string
	ReturnCode int
	Err        error
}

// Result converts o into the stored result for check name.
func (o Outcome) Result(name string) store.Result {
	switch o.Kind {
	case OK:
		r := store.NewResult(name, o.Stdout).WithReturnCode(o.ReturnCode)
		if stderr := strings.TrimSpace(o.Stderr); stderr != "" {
			r.Error = &stderr
		}
		return r
	default:
		return store.NewResult(name, "").WithReturnCode(o.ReturnCode).WithError(o.Err)
	}
}

func timeoutOutcome(seconds int, stdout string) Outcome {
	return Outcome{
		Kind:       Timeout,
		Stdout:     stdout,
		ReturnCode: ReturnCodeTimeout,
		Err:        fmt.Errorf("command timed out after %d seconds", seconds),
	}
}

func notFoundOutcome(err error) Outcome {
	return Outcome{
		Kind:       NotFound,
		ReturnCode: ReturnCodeNotFound,
		Err:        fmt.Errorf("command not found: %w", err),
	}
}

func parseErrorOutcome(err error) Outcome {
	return Outcome{
		Kind:       ParseError,
		ReturnCode: ReturnCodeTimeout,
		Err:        fmt.Errorf("could not parse command: %w", err),
	}
}

func failedOutcome(err error) Outcome {
	if err == nil {
		err = ErrUnknown
	}
	return Outcome{
		Kind:       Failed,
		ReturnCode: ReturnCodeUnknown,
		Err:        err,
	}
}
