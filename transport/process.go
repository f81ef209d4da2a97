package transport

import (
	"context"
	"io"
	"os"
	"os/exec"

	"github.com/pkg/errors"
)

// Process is a worker child process reached through a Stream over its
// stdin/stdout. The child's stderr is passed through to ours.
type Process struct {
	*Stream
	cmd *exec.Cmd
}

// Spawn starts name with args and connects a Stream to it. The child talks to
// the coordinator through Stdio.
func Spawn(ctx context.Context, name string, args []string, opts ...Option) (*Process, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "transport: stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "transport: stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "transport: start %s", name)
	}

	return &Process{
		Stream: NewStream(stdout, stdin, opts...),
		cmd:    cmd,
	}, nil
}

// Pid returns the child's process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Wait blocks until the child exits.
func (p *Process) Wait() error {
	return errors.WithStack(p.cmd.Wait())
}

// Close closes the child's stdin, which a worker serving Stdio treats as the
// end of the conversation, and waits for it to exit.
func (p *Process) Close() error {
	if err := p.Stream.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return errors.WithStack(err)
	}
	return p.Wait()
}

// Stdio connects a Stream to this process's stdin and stdout, the child side of Spawn.
// Nothing else may write to stdout while the stream is in use.
func Stdio(opts ...Option) *Stream {
	return NewStream(os.Stdin, keepOpen{os.Stdout}, opts...)
}

// keepOpen hides the Close method of stdout from Stream.Close; the logger may
// still write there on exit.
type keepOpen struct{ io.Writer }
