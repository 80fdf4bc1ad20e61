package log

import (
	"fmt"
	"os"
	"runtime/debug"
)

const panicExitCode = 127 // panic退出码

// SolvePanic 记录 panic 并退出，需在 main goroutine 中 defer
func SolvePanic() {
	err := recover()
	if err == nil {
		return
	}
	defer func() {
		// 预防这段代码panic
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "\n\nrecovered panic failed: %v\n\nrecover panic details: %v\n\n", err, r)
			os.Exit(panicExitCode)
		}
	}()
	panicLogObj := New("panic")
	panicLogObj.Error("Panic! Error: %v", err)
	panicLogObj.Error("Panic Stack: %s", string(debug.Stack()))
	Shutdown()
	fmt.Fprintf(os.Stderr, "pixia crashed: %v (see %s)\n", err, Path())
	os.Exit(panicExitCode)
}
