package pipeline

import (
	"io"
	"os/exec"

	"github.com/rs/zerolog"

	"github.com/G1deonChan/mpdstreaming/internal/utils"
)

// Process is the capability set this package needs from an external tool:
// start it, ask it to terminate, force-kill it, observe its exit and read its
// diagnostic output. Concrete tools (ffmpeg, an external decryptor) are
// interchangeable behind it.
type Process interface {
	Start() error
	Terminate() error
	Kill() error
	Done() <-chan struct{}
	ExitCode() int
	Diagnostics() string
}

type execProcess struct {
	cmd  *exec.Cmd
	diag *utils.DiagBuffer
	done chan struct{}
	exit int
}

// newExecProcess wraps an exec.Cmd: stdin connected to the given reader,
// stderr mirrored into the logger and kept for classification, the process
// isolated into its own group so Terminate reaches its children too.
func newExecProcess(cmd *exec.Cmd, stdin io.Reader, logger zerolog.Logger) *execProcess {
	p := &execProcess{
		cmd:  cmd,
		diag: utils.NewDiagBuffer(),
		done: make(chan struct{}),
		exit: -1,
	}

	cmd.Stdin = stdin
	cmd.Stderr = io.MultiWriter(utils.LogWriter(logger), p.diag)
	cmd.SysProcAttr = processGroupAttr()

	return p
}

func (p *execProcess) Start() error {
	if err := p.cmd.Start(); err != nil {
		close(p.done)
		return err
	}

	go func() {
		err := p.cmd.Wait()
		if err == nil {
			p.exit = 0
		} else if exitErr, ok := err.(*exec.ExitError); ok {
			p.exit = exitErr.ExitCode()
		}
		close(p.done)
	}()

	return nil
}

func (p *execProcess) Terminate() error {
	if p.cmd.Process == nil {
		return nil
	}
	return terminateGroup(p.cmd.Process.Pid)
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return killGroup(p.cmd.Process.Pid)
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

func (p *execProcess) ExitCode() int {
	return p.exit
}

func (p *execProcess) Diagnostics() string {
	return p.diag.String()
}
