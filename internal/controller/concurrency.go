package controller

import (
	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/montytest/worker/internal/werror"
)

// DetectConcurrency returns the number of logical cores available to this
// host, used to default worker_info.concurrency when an operator hasn't
// pinned one explicitly in configuration.
func DetectConcurrency() (int, error) {
	counts, err := cpu.Counts(true)
	if err != nil {
		return 0, werror.Wrap(werror.Fatal, "detecting logical core count", err)
	}
	if counts <= 0 {
		return 0, werror.New(werror.Fatal, "host reports zero logical cores")
	}
	return counts, nil
}
