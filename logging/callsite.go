package logging

import (
	"path/filepath"
	"runtime"
	"strings"
)

// CallSite is the best-effort origin of a log call. Any part that cannot be
// resolved from the stack is reported as "unknown" rather than failing.
type CallSite struct {
	File     string
	Line     int
	Function string
}

func unknownSite() CallSite {
	return CallSite{File: "unknown", Line: 0, Function: "unknown"}
}

// Capture resolves the call site skip frames above the caller of Capture.
// Capture(0) is the caller itself.
func Capture(skip int) CallSite {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return unknownSite()
	}

	site := CallSite{
		File: filepath.Base(file),
		Line: line,
	}
	if site.File == "." || site.File == "" {
		site.File = "unknown"
	}

	site.Function = "unknown"
	if fn := runtime.FuncForPC(pc); fn != nil {
		site.Function = shortFunc(fn.Name())
	}
	return site
}

func shortFunc(full string) string {
	if full == "" {
		return "unknown"
	}
	if idx := strings.LastIndex(full, "/"); idx >= 0 {
		full = full[idx+1:]
	}
	return full
}
