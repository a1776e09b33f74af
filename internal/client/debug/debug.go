package debug

import (
	"fmt"
	"os"
	"time"
)

var Enabled = false

// Log writes to debug.log only if debug mode is enabled. Stdout is
// owned by the TUI, so diagnostics go to a file instead.
func Log(format string, args ...interface{}) {
	if !Enabled {
		return
	}
	f, err := os.OpenFile("debug.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, time.Now().Format("15:04:05")+" "+format+"\n", args...)
}
