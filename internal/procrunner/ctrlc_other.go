//go:build !windows
// +build !windows

package procrunner

// RunCtrlCHelperAndExit is a no-op outside Windows: interrupt() there just
// sends SIGINT directly to the child's process group.
func RunCtrlCHelperAndExit() {}
