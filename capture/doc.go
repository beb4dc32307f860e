// Package capture owns the in-process sampling profiler used by the agent.
//
// A [Handle] is initialized with a sampling frequency and a blocklist, then
// started. While running, each call to [Handle.Report] returns the samples
// accumulated since the previous call as a [Report] and keeps profiling.
//
// [CPU] implements [Handle] on top of [runtime/pprof]:
//
//	h := capture.NewCPU()
//	err := h.Initialize(100, []string{"runtime."})
//	err = h.Start()
//
//	for range ticker.C {
//	    report, err := h.Report()
//	    // Upload report.Profile.
//	}
//
//	err = h.Stop()
//
// Only one CPU profile can be active per process, so at most one running
// [CPU] may exist at a time.
package capture
