// Package fork implements executor.Executor by forking and executing the
// command line directly on the local machine, the degenerate single-node
// case of the dispatch handler's executor capability.
package fork

import (
	"context"
	"os/exec"
	"strconv"

	"github.com/flowmesh-io/flowmesh/log"
)

var logger = log.NewModuleLogger(log.Executor)

// Executor runs commandLine through "sh -c", waiting for it to exit.
// jobID is the process's pid; success reports a zero exit status.
type Executor struct {
	Shell string // defaults to "sh" when empty
}

func New() *Executor { return &Executor{Shell: "sh"} }

func (e *Executor) Submit(ctx context.Context, commandLine string, options map[string]string) (string, bool, error) {
	shell := e.Shell
	if shell == "" {
		shell = "sh"
	}
	cmd := exec.CommandContext(ctx, shell, "-c", commandLine)
	if dir, ok := options["working_directory"]; ok {
		cmd.Dir = dir
	}

	if err := cmd.Start(); err != nil {
		logger.Error("fork: failed to start command", "command", commandLine, "err", err)
		return "", false, err
	}
	jobID := strconv.Itoa(cmd.Process.Pid)

	err := cmd.Wait()
	if err != nil {
		logger.Warn("fork: command exited non-zero", "job_id", jobID, "err", err)
		return jobID, false, nil
	}
	return jobID, true, nil
}
