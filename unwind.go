package corun

// Unwind abandons the rest of the current call chain once the coroutine has
// suspended. Deferred functions still run, which is where instrumented
// callers push their frames; the runner then treats the cycle as a
// suspension.
//
// Unwinding without first calling Suspend is a protocol violation.
func Unwind() {
	panic(unwind)
}

var unwind = new(unwindSentinel)

type unwindSentinel struct{ _ byte }

// Unwinding reports whether stack unwinding is taking place.
// It should be called inside a defer and given the value
// returned by recover().
func Unwinding(v any) bool {
	return v == unwind
}
