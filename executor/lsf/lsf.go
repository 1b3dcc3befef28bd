// Package lsf implements executor.Executor by submitting the command line
// as a batch job via the bsub CLI, adapted from the original
// implementation's LSFExecutor (original_source/flow/shell_command/lsf/executor.py),
// which called into the pythonlsf C bindings' lsb_submit. Go has no
// equivalent LSF binding in the example pack, so submission goes through
// the bsub command line tool instead, which is how LSF is driven from
// any shell; the request-construction shape (default queue, wrapped
// command, job name) is kept.
package lsf

import (
	"bufio"
	"context"
	"os/exec"
	"regexp"
	"strings"

	"github.com/flowmesh-io/flowmesh/log"
)

var logger = log.NewModuleLogger(log.Executor)

var jobIDPattern = regexp.MustCompile(`Job <(\d+)>`)

// Executor submits commandLine to LSF via bsub. DefaultQueue is used
// when options["queue"] is unset, mirroring LSFExecutor.construct_request's
// default_queue setting.
type Executor struct {
	DefaultQueue string
	BsubPath     string // defaults to "bsub"
}

func New(defaultQueue string) *Executor {
	return &Executor{DefaultQueue: defaultQueue, BsubPath: "bsub"}
}

// Submit shells out to bsub, returning the LSF job id bsub reports and
// whether the submission itself (not the eventual job run) succeeded,
// matching the original's "submit_result > 0" success test.
func (e *Executor) Submit(ctx context.Context, commandLine string, options map[string]string) (string, bool, error) {
	args := e.bsubArgs(options)
	bsub := e.BsubPath
	if bsub == "" {
		bsub = "bsub"
	}

	cmd := exec.CommandContext(ctx, bsub, args...)
	cmd.Stdin = strings.NewReader(commandLine + "\n")
	out, err := cmd.CombinedOutput()
	if err != nil {
		logger.Error("lsf: bsub failed", "command", commandLine, "err", err, "output", string(out))
		return "", false, err
	}

	jobID := parseJobID(string(out))
	if jobID == "" {
		logger.Error("lsf: could not parse job id from bsub output", "output", string(out))
		return "", false, nil
	}
	logger.Debug("lsf: submitted job", "job_id", jobID)
	return jobID, true, nil
}

func (e *Executor) bsubArgs(options map[string]string) []string {
	queue := e.DefaultQueue
	if q, ok := options["queue"]; ok && q != "" {
		queue = q
	}
	args := []string{}
	if queue != "" {
		args = append(args, "-q", queue)
	}
	if name, ok := options["name"]; ok && name != "" {
		args = append(args, "-J", name)
	}
	if project, ok := options["project"]; ok && project != "" {
		args = append(args, "-P", project)
	}
	return args
}

func parseJobID(bsubOutput string) string {
	scanner := bufio.NewScanner(strings.NewReader(bsubOutput))
	for scanner.Scan() {
		m := jobIDPattern.FindStringSubmatch(scanner.Text())
		if m != nil {
			return m[1]
		}
	}
	return ""
}
