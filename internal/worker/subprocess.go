package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/councilgo-dev/councilgo/internal/retry"
)

// Environment variables injected into expert subprocesses. Replica context
// travels through the environment so any CLI assistant can pick it up without
// protocol changes.
const (
	EnvSeed          = "COUNCIL_SEED"
	EnvTemperature   = "COUNCIL_TEMPERATURE"
	EnvInstanceIndex = "COUNCIL_INSTANCE_INDEX"
	EnvReplicaCount  = "COUNCIL_REPLICA_COUNT"
)

// SubprocessWorker launches a CLI AI assistant per invocation, writes the
// prompt to stdin, and reads the proposal from stdout. Cancellation kills the
// child process.
type SubprocessWorker struct {
	// Command is the executable to run.
	Command string

	// Args are passed before the prompt. If PromptViaStdin is false the
	// prompt is appended as the final argument instead.
	Args []string

	// PromptViaStdin selects stdin delivery (default true behaviour is
	// selected by NewSubprocessWorker).
	PromptViaStdin bool

	// ExtraEnv is appended to the child environment after the replica vars.
	ExtraEnv []string
}

// NewSubprocessWorker builds a stdin-fed subprocess worker.
func NewSubprocessWorker(command string, args ...string) *SubprocessWorker {
	return &SubprocessWorker{Command: command, Args: args, PromptViaStdin: true}
}

// Invoke implements Worker.
func (w *SubprocessWorker) Invoke(ctx context.Context, inv Invocation) (string, error) {
	args := append([]string(nil), w.Args...)
	if !w.PromptViaStdin {
		args = append(args, inv.Prompt)
	}

	cmd := exec.CommandContext(ctx, w.Command, args...) // #nosec G204 - command comes from operator config
	if inv.Workdir != "" && inv.Workdir != "current" {
		cmd.Dir = inv.Workdir
	}
	cmd.Env = append(os.Environ(), w.instanceEnv(inv)...)
	cmd.Env = append(cmd.Env, w.ExtraEnv...)

	if w.PromptViaStdin {
		cmd.Stdin = strings.NewReader(inv.Prompt)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if err != nil {
		return "", classifyExit(err, stderr.String())
	}

	return strings.TrimSpace(stdout.String()), nil
}

// instanceEnv encodes replica context for the child.
func (w *SubprocessWorker) instanceEnv(inv Invocation) []string {
	if inv.Instance == nil {
		return nil
	}
	spec := inv.Instance
	return []string{
		EnvSeed + "=" + strconv.Itoa(spec.Seed),
		EnvTemperature + "=" + strconv.FormatFloat(spec.Temperature, 'f', 2, 64),
		EnvInstanceIndex + "=" + strconv.Itoa(spec.InstanceIndex),
		EnvReplicaCount + "=" + strconv.Itoa(spec.ReplicaCount),
	}
}

// classifyExit maps a non-zero exit into the retry taxonomy. Exit status
// alone says nothing useful, so stderr is matched against the classifier
// patterns; unmatched failures stay Unknown.
func classifyExit(err error, stderr string) error {
	stderr = strings.TrimSpace(stderr)
	combined := err.Error()
	if stderr != "" {
		combined = fmt.Sprintf("%v: %s", err, stderr)
	}
	ce := retry.Classify(fmt.Errorf("%s", combined))
	if ce.Kind == retry.KindUnknown {
		return &retry.ClassifiedError{Kind: retry.KindUnknown, Err: fmt.Errorf("expert process failed: %s", combined)}
	}
	ce.Err = fmt.Errorf("expert process failed: %s", combined)
	return ce
}
