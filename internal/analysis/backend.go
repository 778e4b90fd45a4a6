// Package analysis defines the analysis backend used for per-file scans
// and its language-model implementations.
package analysis

import (
	"context"
	"path"
	"strings"

	"devscan/internal/budget"
)

// Request is one file submitted for analysis.
type Request struct {
	RepoID     string
	Path       string
	Content    []byte
	ChangeType string
	Added      int
	Deleted    int
}

// Language returns a display name derived from the file extension.
func (r *Request) Language() string {
	return LanguageFor(r.Path)
}

// Response is the result of a successful analysis call.
type Response struct {
	Payload []byte
	Usage   budget.Usage
	Cost    float64
	Model   string
}

// Backend analyzes single files.
type Backend interface {
	// Analyze runs one analysis call. Errors are *Error values.
	Analyze(ctx context.Context, req *Request) (*Response, error)
	// EstimateCost is an upper bound on what Analyze will charge for req.
	EstimateCost(req *Request) float64
	// Identity is "provider:model"; it is a cache key factor.
	Identity() string
}

var languages = map[string]string{
	".go":   "Go",
	".rs":   "Rust",
	".py":   "Python",
	".js":   "JavaScript",
	".ts":   "TypeScript",
	".tsx":  "TypeScript (TSX)",
	".sh":   "Shell",
	".kt":   "Kotlin",
	".java": "Java",
	".rb":   "Ruby",
}

// LanguageFor maps a file path to a language name, "text" when unknown.
func LanguageFor(p string) string {
	if lang, ok := languages[strings.ToLower(path.Ext(p))]; ok {
		return lang
	}
	return "text"
}
