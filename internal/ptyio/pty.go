// Package ptyio provides the PTY allocation and raw-mode plumbing that sits
// between the SSP core and the real terminal: allocating the pseudoterminal
// the shell runs under, and putting the controlling terminal into raw mode
// for the duration of the session (§6.4, restored on every exit path per
// §5's shared-resource rule). This is collaborator glue around the core,
// not part of the protocol itself — the core only ever sees bytes.
package ptyio

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// Shell spawns cmd attached to a new pseudoterminal sized rows x cols and
// returns the PTY master end. The child's stdin/stdout/stderr are the slave
// end; closing the returned file ends the child's controlling terminal.
func Shell(cmd *exec.Cmd, rows, cols int) (*os.File, error) {
	master, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return nil, fmt.Errorf("ptyio: start shell: %w", err)
	}
	return master, nil
}

// Resize applies a new size to an already-running PTY, mirroring a local
// terminal resize upstream to the shell (driven by a userinput.Event with
// Kind == resize on the client side).
func Resize(master *os.File, rows, cols int) error {
	if err := pty.Setsize(master, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}); err != nil {
		return fmt.Errorf("ptyio: resize: %w", err)
	}
	return nil
}
