package corun

import "fmt"

// Mode is the phase of a continuation. It is how the runner and the
// coroutine it drives agree on whether the call chain is executing fresh
// logic, capturing its frames, or replaying them.
type Mode int

const (
	// Normal is the idle state: no save or load is in progress.
	Normal Mode = iota

	// Saving is set by the coroutine when it suspends. The runner sees it
	// after the coroutine returns and knows frames were captured.
	Saving

	// Loading is set by the runner before re-invoking a suspended
	// coroutine. The coroutine must pop its frames and jump back to the
	// recorded resumption points instead of starting from the top.
	Loading
)

// Valid reports whether m is one of the three defined modes.
func (m Mode) Valid() bool {
	return m >= Normal && m <= Loading
}

func (m Mode) String() string {
	switch m {
	case Normal:
		return "normal"
	case Saving:
		return "saving"
	case Loading:
		return "loading"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}
