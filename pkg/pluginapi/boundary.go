package pluginapi

import "os"

// BoundaryExit terminates the process after a fatal plugin-boundary
// panic. It is a var so tests can override it and observe the fatal
// path without killing the test binary.
var BoundaryExit = func(code int) { os.Exit(code) }

// RecoverBoundaryPanic recovers a panic raised by a plugin ABI boundary
// call (handle_request, run_workflow, on_progress, on_complete) and
// terminates the process after reporting it through onPanic. Per spec,
// a panic crossing the plugin boundary is fatal: the dispatcher never
// retries plugin calls, and the native wrapper is expected to restart
// the engine. Call via defer, wrapping only the plugin call itself so
// the caller's own bugs don't get mistaken for a plugin fault.
func RecoverBoundaryPanic(onPanic func(rec any)) {
	if rec := recover(); rec != nil {
		if onPanic != nil {
			onPanic(rec)
		}
		BoundaryExit(1)
	}
}
