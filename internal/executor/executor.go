package executor

import (
	"context"
	"os/exec"
)

// Executor starts external programs. Production code uses BinaryExecutor,
// tests substitute a fake that produces the expected files directly.
type Executor interface {
	Command(ctx context.Context, name string, args ...string) Cmd
}

type Cmd interface {
	SetDir(dir string)
	CombinedOutput() ([]byte, error)
}

var _ Executor = BinaryExecutor{}

type BinaryExecutor struct{}

// Command builds a process that is killed when ctx is done
func (BinaryExecutor) Command(ctx context.Context, name string, args ...string) Cmd {
	return &binaryCmd{cmd: exec.CommandContext(ctx, name, args...)}
}

type binaryCmd struct {
	cmd *exec.Cmd
}

func (b *binaryCmd) SetDir(dir string) {
	b.cmd.Dir = dir
}

func (b *binaryCmd) CombinedOutput() ([]byte, error) {
	return b.cmd.CombinedOutput()
}

// Func adapts a function to the Executor interface
type Func func(ctx context.Context, dir string, name string, args ...string) ([]byte, error)

func (f Func) Command(ctx context.Context, name string, args ...string) Cmd {
	return &funcCmd{ctx: ctx, fn: f, name: name, args: args}
}

type funcCmd struct {
	ctx  context.Context
	fn   Func
	dir  string
	name string
	args []string
}

func (c *funcCmd) SetDir(dir string) {
	c.dir = dir
}

func (c *funcCmd) CombinedOutput() ([]byte, error) {
	if err := c.ctx.Err(); err != nil {
		return nil, err
	}
	return c.fn(c.ctx, c.dir, c.name, c.args...)
}
