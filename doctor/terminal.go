package doctor

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"moodwire/shutdown"
)

// guardTerminal snapshots the stdin terminal mode and restores it when
// the returned func runs or a termination signal arrives mid-check.
// restore may be called any number of times.
func guardTerminal(out io.Writer) (restore func()) {
	fd := int(os.Stdin.Fd())
	var state *term.State
	if term.IsTerminal(fd) {
		state, _ = term.GetState(fd)
	}
	restore = func() {
		if state != nil {
			term.Restore(fd, state)
		}
	}

	sig := make(chan os.Signal, 1)
	shutdown.Notify(sig)
	go func() {
		<-sig
		restore()
		fmt.Fprintln(out, "\ndoctor interrupted")
		os.Exit(1)
	}()
	return restore
}
