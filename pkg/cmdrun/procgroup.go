package cmdrun

import (
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// processGroupCleanup manages process group lifecycle for graceful shutdown.
// when the context is canceled the entire process tree is killed, not just
// the direct child (package managers and make spawn deep trees).
type processGroupCleanup struct {
	cmd  *exec.Cmd
	done chan struct{}
	once sync.Once
	err  error
}

// setupProcessGroup configures the command to run in its own process group.
func setupProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// newProcessGroupCleanup creates a cleanup handler for an already started command.
// caller must call Wait() exactly once to ensure proper cleanup.
func newProcessGroupCleanup(cmd *exec.Cmd, cancelCh <-chan struct{}) *processGroupCleanup {
	pg := &processGroupCleanup{
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go pg.watchForCancel(cancelCh)
	return pg
}

func (pg *processGroupCleanup) watchForCancel(cancelCh <-chan struct{}) {
	select {
	case <-cancelCh:
		pg.killProcessGroup()
	case <-pg.done:
		// process completed normally
	}
}

// killProcessGroup sends SIGTERM followed by SIGKILL to the entire process group.
func (pg *processGroupCleanup) killProcessGroup() {
	if pg.cmd.Process == nil {
		return
	}

	pgid := -pg.cmd.Process.Pid

	if err := unix.Kill(pgid, unix.SIGTERM); err != nil {
		// ESRCH means the process is already gone
		if err != unix.ESRCH {
			fmt.Printf("[cmdrun] SIGTERM failed for pgid %d: %v\n", pgid, err)
		}
		return
	}

	// brief delay for graceful shutdown
	time.Sleep(100 * time.Millisecond)

	if err := unix.Kill(pgid, unix.SIGKILL); err != nil {
		if err != unix.ESRCH {
			fmt.Printf("[cmdrun] SIGKILL failed for pgid %d: %v\n", pgid, err)
		}
	}
}

// Wait waits for the command to complete and cleans up resources.
// repeated calls are safe and return the same result.
func (pg *processGroupCleanup) Wait() error {
	pg.once.Do(func() {
		pg.err = pg.cmd.Wait()
		close(pg.done)
	})
	return pg.err
}
