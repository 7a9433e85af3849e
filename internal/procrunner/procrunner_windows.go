//go:build windows
// +build windows

package procrunner

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/windows"

	"github.com/montytest/worker/internal/wlog"
)

// setProcessGroup gives the child its own process group (CREATE_NEW_PROCESS_GROUP)
// so that a Ctrl-C event can be dispatched to it in isolation from our own
// console, matching spec §4.C5's Windows notes.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// ctrlCHelperArg is the hidden argv[1] that, when this same worker binary
// is re-invoked with it, means "don't run a task, just dispatch a Ctrl-C
// event to the pid in argv[2] and exit". A process can only be attached to
// one console at a time, so FreeConsole/AttachConsole/GenerateConsoleCtrlEvent
// have to run from a disposable helper process rather than from the worker
// itself -- exactly why games.py's send_ctrl_c is run via a throwaway
// multiprocessing.Process instead of in-process.
const ctrlCHelperArg = "__procrunner_ctrlc_helper__"

// RunCtrlCHelperAndExit checks whether this invocation of the binary is
// the re-exec'd Ctrl-C helper and, if so, dispatches the event and exits
// without returning. cmd/worker's main must call this before flag parsing.
// It never returns when it does anything; on other platforms it is a
// no-op (see ctrlc_other.go).
func RunCtrlCHelperAndExit() {
	if len(os.Args) != 3 || os.Args[1] != ctrlCHelperArg {
		return
	}
	pid, err := strconv.Atoi(os.Args[2])
	if err != nil {
		os.Exit(1)
	}
	if err := dispatchCtrlC(uint32(pid)); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func dispatchCtrlC(pid uint32) error {
	if err := windows.FreeConsole(); err != nil {
		return fmt.Errorf("FreeConsole: %w", err)
	}
	if err := windows.SetConsoleCtrlHandler(0, true); err != nil {
		return fmt.Errorf("SetConsoleCtrlHandler: %w", err)
	}
	if err := windows.AttachConsole(pid); err != nil {
		return fmt.Errorf("AttachConsole: %w", err)
	}
	if err := windows.GenerateConsoleCtrlEvent(windows.CTRL_C_EVENT, 0); err != nil {
		return fmt.Errorf("GenerateConsoleCtrlEvent: %w", err)
	}
	return nil
}

// interrupt asks the child to Ctrl-C itself. Since FreeConsole/AttachConsole
// apply to the calling process as a whole, this worker can't just call
// dispatchCtrlC in-process without detaching its own console from under
// it -- it re-execs itself as the helper against the child's pid instead,
// the same isolation games.py buys with a disposable multiprocessing.Process.
func (c *Child) interrupt() error {
	if c.cmd.Process == nil {
		return nil
	}
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating own executable: %w", err)
	}
	helper := exec.Command(self, ctrlCHelperArg, strconv.Itoa(c.cmd.Process.Pid))
	if err := helper.Run(); err != nil {
		wlog.Log.Warning("ctrl-c helper failed, falling back to taskkill: %s", err)
		return forceKillProcess(c.cmd)
	}
	return nil
}

// forceKill terminates the child and its descendants via taskkill, the
// same approach the original's kill_process falls back to on Windows
// because Process.Kill() alone does not take down a process tree there.
func (c *Child) forceKill() error {
	return forceKillProcess(c.cmd)
}

func forceKillProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	kill := exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(cmd.Process.Pid))
	if err := kill.Run(); err != nil {
		wlog.Log.Warning("taskkill failed: %s", err)
		return cmd.Process.Kill()
	}
	return nil
}
