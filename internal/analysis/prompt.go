package analysis

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"github.com/BurntSushi/toml"

	"devscan/internal/cache"
)

// DefaultPromptTOML is the built-in prompt template.
const DefaultPromptTOML = `name = "file-review"
version = 1

system = """
You are a senior code reviewer. Review a single source file and report
concrete problems: bugs, logic drift, dead code, unsafe patterns and
incomplete implementations. Reply with JSON only:
{"summary": string, "issues": [{"line": number, "severity": "low"|"medium"|"high", "message": string}]}
"""

user = """
Repository: {{.RepoID}}
File: {{.Path}} ({{.Language}}, {{.ChangeType}}{{if or .Added .Deleted}}, +{{.Added}}/-{{.Deleted}} lines{{end}})

{{.Content}}
"""
`

// promptFile is the on-disk TOML layout of a prompt template.
type promptFile struct {
	Name    string `toml:"name"`
	Version int    `toml:"version"`
	System  string `toml:"system"`
	User    string `toml:"user"`
}

// Prompt is a parsed prompt template.
type Prompt struct {
	Name    string
	Version int

	system *template.Template
	user   *template.Template
	hash   string
	size   int
}

// promptData is what templates see.
type promptData struct {
	RepoID     string
	Path       string
	Language   string
	ChangeType string
	Added      int
	Deleted    int
	Content    string
}

// ParsePrompt parses a TOML prompt template. The prompt hash is computed
// over raw, so any edit to the file invalidates cached results.
func ParsePrompt(raw []byte) (*Prompt, error) {
	var pf promptFile
	if _, err := toml.Decode(string(raw), &pf); err != nil {
		return nil, fmt.Errorf("failed to parse prompt template: %w", err)
	}
	if pf.User == "" {
		return nil, fmt.Errorf("prompt template %q has no user section", pf.Name)
	}

	system, err := template.New("system").Option("missingkey=error").Parse(pf.System)
	if err != nil {
		return nil, fmt.Errorf("failed to parse system template: %w", err)
	}
	user, err := template.New("user").Option("missingkey=error").Parse(pf.User)
	if err != nil {
		return nil, fmt.Errorf("failed to parse user template: %w", err)
	}

	return &Prompt{
		Name:    pf.Name,
		Version: pf.Version,
		system:  system,
		user:    user,
		hash:    cache.HashBytes(raw),
		size:    len(pf.System) + len(pf.User),
	}, nil
}

// LoadPrompt reads a template from path, or returns the built-in
// template when path is empty.
func LoadPrompt(path string) (*Prompt, error) {
	if path == "" {
		return ParsePrompt([]byte(DefaultPromptTOML))
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt template: %w", err)
	}
	return ParsePrompt(raw)
}

// Hash identifies the template text.
func (p *Prompt) Hash() string { return p.hash }

// Overhead is the template size in bytes, excluding the file content.
func (p *Prompt) Overhead() int { return p.size }

// Render produces the system and user messages for req.
func (p *Prompt) Render(req *Request) (string, string, error) {
	data := promptData{
		RepoID:     req.RepoID,
		Path:       req.Path,
		Language:   req.Language(),
		ChangeType: req.ChangeType,
		Added:      req.Added,
		Deleted:    req.Deleted,
		Content:    string(req.Content),
	}

	var system, user bytes.Buffer
	if err := p.system.Execute(&system, data); err != nil {
		return "", "", fmt.Errorf("failed to render system prompt: %w", err)
	}
	if err := p.user.Execute(&user, data); err != nil {
		return "", "", fmt.Errorf("failed to render user prompt: %w", err)
	}
	return system.String(), user.String(), nil
}
