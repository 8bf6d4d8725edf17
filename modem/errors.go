package modem

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDialer is returned when a Modem is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when an operation is attempted on a Modem
	// that has not been successfully initialized.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when Close is called on a Modem that has
	// already been closed.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrSIMPinRequired is returned when the SIM card requires a PIN and no
	// PIN was provided in the Config.
	ErrSIMPinRequired = errors.New("SIM PIN required")

	// ErrLoopRunning is returned when Loop is called while a previous Loop
	// invocation is still active.
	ErrLoopRunning = errors.New("modem loop already running")

	// ErrNotResponding is returned by EnsureReady when the modem fails to
	// answer the AT probe within the configured number of attempts. This is
	// fatal for the current transport; the connection must be reopened.
	ErrNotResponding = errors.New("modem not responding")
)

// CMSError is a coded SMS failure reported by the modem as "+CMS ERROR: <n>".
// The code is preserved for diagnostics; Line carries the raw modem text.
type CMSError struct {
	Code int
	Line string
}

func (e *CMSError) Error() string {
	return fmt.Sprintf("modem: %s", e.Line)
}
