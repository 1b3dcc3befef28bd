// Package executor defines the capability the dispatch handler bridges
// workflow tokens to: (command_line, options) -> (job_id, success), per
// spec.md §4.6. Two implementations are provided: executor/fork (local
// fork/exec) and executor/lsf (batch-scheduler submission), mirroring the
// pluggable-unit-of-work shape of the teacher's work.Agent interface
// (work/agent.go) generalized from a blocking mining operation to an
// arbitrary external command.
package executor

import "context"

// Executor submits one command line and reports the job id the
// underlying system assigned it, plus a success flag whose meaning depends
// on the implementation: executor/lsf reports whether bsub accepted the
// job and does not wait for it to run, while executor/fork waits for the
// command to exit and reports whether its exit status was zero. A non-nil
// error means the command could not be started or submitted at all.
type Executor interface {
	Submit(ctx context.Context, commandLine string, options map[string]string) (jobID string, success bool, err error)
}
