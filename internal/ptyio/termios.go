package ptyio

import (
	"fmt"

	"golang.org/x/term"
)

// RawMode puts fd (normally os.Stdin.Fd()) into raw mode for the duration
// of a session and returns a restore func that undoes it. The client
// terminal must be restored on every exit path — normal shutdown, a
// PermanentIO error, or a signal-driven shutdown (§5) — so callers should
// defer the returned func immediately after a successful call.
func RawMode(fd int) (restore func() error, err error) {
	prev, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("ptyio: enter raw mode: %w", err)
	}
	return func() error {
		if err := term.Restore(fd, prev); err != nil {
			return fmt.Errorf("ptyio: restore terminal: %w", err)
		}
		return nil
	}, nil
}

// Size reports the current size of the terminal at fd, used to size the
// initial PTY and to detect resizes the client should forward upstream.
func Size(fd int) (cols, rows int, err error) {
	cols, rows, err = term.GetSize(fd)
	if err != nil {
		return 0, 0, fmt.Errorf("ptyio: get size: %w", err)
	}
	return cols, rows, nil
}
