package exceptions

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const maxStackLength = 2000

// sensitiveContextKeys are stripped during sanitization; storage snapshots
// and credentials have no business reaching the ingestion endpoint.
var sensitiveContextKeys = map[string]bool{
	"localstorage":   true,
	"sessionstorage": true,
	"cookies":        true,
	"password":       true,
	"token":          true,
	"authorization":  true,
	"secret":         true,
}

// ErrorInfo is the normalized shape of a reported error.
type ErrorInfo struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// Record is one reported error with its classification and reporting
// context, identified for backend correlation.
type Record struct {
	ID             string                 `json:"id"`
	Error          ErrorInfo              `json:"error"`
	Context        map[string]interface{} `json:"context,omitempty"`
	Classification Classification         `json:"classification"`
	CreatedAt      string                 `json:"created_at"`
}

// NewRecord builds a Record from a raw error, its capture stack and caller
// context.
func NewRecord(err error, stack string, ctx map[string]interface{}) *Record {
	name := "Error"
	message := ""
	if err != nil {
		name = errorName(err)
		message = err.Error()
	}

	return &Record{
		ID: uuid.NewString(),
		Error: ErrorInfo{
			Name:    name,
			Message: message,
			Stack:   stack,
		},
		Context:        ctx,
		Classification: Classify(err),
		CreatedAt:      time.Now().Format("2006-01-02 15:04:05.000"),
	}
}

// Fingerprint is the dedup key: name, message, context url and the first
// three stack lines. Two storms of the same failure collapse to one record
// per window regardless of timing fields.
func (r *Record) Fingerprint() string {
	url := ""
	if r.Context != nil {
		if u, ok := r.Context["url"].(string); ok {
			url = u
		}
	}

	lines := strings.SplitN(r.Error.Stack, "\n", 4)
	if len(lines) > 3 {
		lines = lines[:3]
	}

	return fmt.Sprintf("%s|%s|%s|%s", r.Error.Name, r.Error.Message, url, strings.Join(lines, "\n"))
}

// Sanitize truncates oversized stacks and strips sensitive context keys in
// place. Called once, just before a record is handed to the reporter.
func (r *Record) Sanitize() {
	if len(r.Error.Stack) > maxStackLength {
		// Back up to a rune boundary so the payload stays valid UTF-8.
		cut := maxStackLength
		for cut > 0 && !utf8.RuneStart(r.Error.Stack[cut]) {
			cut--
		}
		r.Error.Stack = r.Error.Stack[:cut] + "... [truncated]"
	}
	for k := range r.Context {
		if sensitiveContextKeys[strings.ToLower(k)] {
			delete(r.Context, k)
		}
	}
}

func errorName(err error) string {
	switch err.(type) {
	case *HTTPError:
		return "HTTPError"
	case *CORSViolation:
		return "CORSViolation"
	}
	return fmt.Sprintf("%T", err)
}
