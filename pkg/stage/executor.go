package stage

import (
	"context"
	"fmt"

	"github.com/strom-lab/stromup/pkg/checkpoint"
	"github.com/strom-lab/stromup/pkg/cmdrun"
	"github.com/strom-lab/stromup/pkg/runstate"
	"github.com/strom-lab/stromup/pkg/sysinfo"
)

// Mode selects how the executor treats the persisted checkpoint.
type Mode string

// Run modes. Resume consults the checkpoint before executing each stage;
// fresh ignores it and executes everything from stage 1.
const (
	ModeFresh  Mode = "fresh"
	ModeResume Mode = "resume"
)

// Logger is the subset of the progress logger the executor needs.
type Logger interface {
	Print(format string, args ...any)
	Success(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Error reports a failed stage and carries the exit status to propagate
// as the process's own exit status.
type Error struct {
	Ordinal int
	Name    string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("stage %d (%s) failed with status %d: %v", e.Ordinal, e.Name, e.Status, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Executor runs stages in order, recording transitions and maintaining the
// checkpoint. It exclusively owns the checkpoint store and run-state log for
// the duration of a run.
type Executor struct {
	mode  Mode
	check *checkpoint.Store
	state *runstate.Log
	out   Logger
}

// NewExecutor creates an executor for one run.
func NewExecutor(mode Mode, check *checkpoint.Store, state *runstate.Log, out Logger) *Executor {
	return &Executor{mode: mode, check: check, state: state, out: out}
}

// Run executes all registry stages in ordinal order, halting on the first
// failure. On full success the checkpoint is cleared: a finished install has
// no resume point left. Returns *Error on stage failure.
func (e *Executor) Run(ctx context.Context, reg Registry) error {
	if err := reg.Validate(); err != nil {
		return fmt.Errorf("stage registry: %w", err)
	}

	cp, err := e.loadResumePoint()
	if err != nil {
		return err
	}

	env := sysinfo.Env{}
	for _, st := range reg {
		next, stErr := e.executeStage(ctx, st, cp, env)
		if stErr != nil {
			e.reportFailure(stErr)
			return stErr
		}
		env = next
	}

	if err := e.check.Clear(); err != nil {
		e.out.Warn("failed to clear checkpoint: %v", err)
	}
	return nil
}

// loadResumePoint loads the checkpoint in resume mode, informationally.
func (e *Executor) loadResumePoint() (*checkpoint.Checkpoint, error) {
	if e.mode != ModeResume {
		return nil, nil
	}
	cp, err := e.check.Load()
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if cp == nil {
		e.out.Warn("resume requested but no checkpoint found, starting from stage 1")
		return nil, nil
	}
	e.out.Print("resuming after stage %d (%s), completed %s",
		cp.Ordinal, cp.Name, cp.Stamp.Format("2006-01-02 15:04:05"))
	return cp, nil
}

// executeStage runs one stage through its state machine:
// NOT_STARTED -> RUNNING -> {SUCCEEDED, FAILED}.
func (e *Executor) executeStage(ctx context.Context, st Stage, cp *checkpoint.Checkpoint, env sysinfo.Env) (sysinfo.Env, *Error) {
	// resume skip: checkpointed stages are never re-run, even if their
	// preconditions changed since (stages are assumed idempotent)
	if e.mode == ModeResume && cp != nil && cp.Ordinal >= st.Ordinal {
		e.out.Success("stage %d (%s): skipped, already completed", st.Ordinal, st.Name)
		return env, nil
	}

	e.appendState(st, runstate.StatusStarted, "")
	e.out.Print("stage %d: %s", st.Ordinal, st.Name)

	next, err := st.Action(ctx, env)
	if err != nil {
		status := cmdrun.Status(err)
		e.appendState(st, runstate.StatusFailed, fmt.Sprintf("status %d: %v", status, err))
		return env, &Error{Ordinal: st.Ordinal, Name: st.Name, Status: status, Err: err}
	}

	e.appendState(st, runstate.StatusSuccess, "")
	if saveErr := e.check.Save(st.Ordinal, st.Name); saveErr != nil {
		// the stage itself succeeded; a lost checkpoint only means a future
		// resume re-runs this idempotent stage
		e.out.Warn("checkpoint not saved: %v", saveErr)
	}
	e.out.Success("stage %d (%s) completed", st.Ordinal, st.Name)
	return next, nil
}

// appendState records a transition in the run-state log. Logging failure
// never masks the stage's own result.
func (e *Executor) appendState(st Stage, status runstate.Status, message string) {
	if err := e.state.Append(st.Ordinal, st.Name, status, message); err != nil {
		e.out.Warn("run-state log unavailable: %v", err)
	}
}

// reportFailure prints the failure, the full progress-so-far history and the
// two possible next commands, so the operator never has to re-derive what
// happened from raw logs.
func (e *Executor) reportFailure(stErr *Error) {
	e.out.Error("stage %d (%s) failed with status %d", stErr.Ordinal, stErr.Name, stErr.Status)

	entries, err := e.state.ReadAll()
	if err != nil {
		e.out.Warn("cannot read run-state log: %v", err)
	} else {
		RenderHistory(e.out, entries)
	}

	e.out.Print("to retry from the failed stage:     stromup --resume")
	e.out.Print("to discard progress and start over: stromup --clean && stromup")
}

// RenderHistory prints run-state entries with per-status severity colors.
func RenderHistory(out Logger, entries []runstate.Entry) {
	if len(entries) == 0 {
		out.Print("no stage transitions recorded")
		return
	}
	for _, en := range entries {
		line := fmt.Sprintf("%s  stage %-2d %-28s %-8s %s",
			en.Stamp.Local().Format("06-01-02 15:04:05"), en.Ordinal, en.Name, en.Status, en.Message)
		switch en.Status {
		case runstate.StatusSuccess:
			out.Success("%s", line)
		case runstate.StatusFailed:
			out.Error("%s", line)
		default:
			out.Print("%s", line)
		}
	}
}
