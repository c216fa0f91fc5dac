// Package proctest provides a recording proc.Runner for tests.
package proctest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/gwlsn/rifelab/internal/proc"
)

// Handler simulates one command. It may write output files, feed OnLine, or
// return an error.
type Handler func(cmd proc.Command) (*proc.Result, error)

// Runner records every command it is asked to run. Handlers are matched by
// description prefix; unmatched commands succeed with empty output.
type Runner struct {
	mu       sync.Mutex
	Commands []proc.Command
	handlers []route
}

type route struct {
	prefix string
	h      Handler
}

// On registers h for commands whose Description starts with prefix.
func (r *Runner) On(prefix string, h Handler) *Runner {
	r.handlers = append(r.handlers, route{prefix: prefix, h: h})
	return r
}

// Fail makes commands matching prefix exit with code 1 and the given stderr.
func (r *Runner) Fail(prefix, stderr string) *Runner {
	return r.On(prefix, func(cmd proc.Command) (*proc.Result, error) {
		return &proc.Result{Stderr: stderr}, &proc.ExitError{
			Description: cmd.Description,
			ExitCode:    1,
			Stderr:      stderr,
			Err:         errors.New("exit status 1"),
		}
	})
}

func (r *Runner) Run(ctx context.Context, cmd proc.Command) (*proc.Result, error) {
	r.mu.Lock()
	r.Commands = append(r.Commands, cmd)
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, &proc.ExitError{Description: cmd.Description, ExitCode: -1, Err: err}
	}
	for _, rt := range r.handlers {
		if strings.HasPrefix(cmd.Description, rt.prefix) {
			return rt.h(cmd)
		}
	}
	return &proc.Result{}, nil
}

// Calls returns how many commands were run.
func (r *Runner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Commands)
}

// Last returns the most recent command, or the zero Command.
func (r *Runner) Last() proc.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Commands) == 0 {
		return proc.Command{}
	}
	return r.Commands[len(r.Commands)-1]
}

// Find returns the first recorded command whose description starts with prefix.
func (r *Runner) Find(prefix string) (proc.Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.Commands {
		if strings.HasPrefix(c.Description, prefix) {
			return c, true
		}
	}
	return proc.Command{}, false
}

// OutputArg returns the last argument of cmd, which for ffmpeg is the output path.
func OutputArg(cmd proc.Command) string {
	if len(cmd.Args) == 0 {
		return ""
	}
	return cmd.Args[len(cmd.Args)-1]
}

// ArgValue returns the value following flag in args, e.g. ArgValue(args, "-r").
func ArgValue(args []string, flag string) (string, bool) {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1], true
		}
	}
	return "", false
}
