package deploy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// backendURLKeys are the public variable names front-end frameworks expose to
// client code, all set to the backend URL.
var backendURLKeys = []string{
	"REACT_APP_API_URL",
	"REACT_APP_BACKEND_URL",
	"VITE_API_URL",
	"VITE_BACKEND_URL",
	"NEXT_PUBLIC_API_URL",
	"NEXT_PUBLIC_BACKEND_URL",
}

// DotenvFiles are written at the build root with the composed variables.
var DotenvFiles = []string{".env", ".env.production", ".env.local"}

// Env is the result of ComposeEnv.
type Env struct {
	Vars    map[string]string
	Keys    []string // keys of Vars in first-seen order
	Skipped []string // lines that were not KEY=VALUE
}

// Count returns the number of composed variables.
func (e *Env) Count() int {
	return len(e.Keys)
}

// Dotenv renders the variables in dotenv format, one KEY=VALUE per line.
func (e *Env) Dotenv() string {
	var b strings.Builder
	for _, k := range e.Keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(e.Vars[k])
		b.WriteByte('\n')
	}
	return b.String()
}

// Environ returns the variables as KEY=VALUE entries for a process environment.
func (e *Env) Environ() []string {
	environ := make([]string, 0, len(e.Keys))
	for _, k := range e.Keys {
		environ = append(environ, k+"="+e.Vars[k])
	}
	return environ
}

// ComposeEnv merges the backend URL convenience keys and a free-text block of
// KEY=VALUE lines. Blank lines and lines starting with # are ignored; lines
// without = or with an empty key are reported in Skipped. Later lines win
// over earlier lines and over the backend URL keys.
func ComposeEnv(backendURL, text string) *Env {
	e := &Env{Vars: make(map[string]string)}
	set := func(k, v string) {
		if _, ok := e.Vars[k]; !ok {
			e.Keys = append(e.Keys, k)
		}
		e.Vars[k] = v
	}

	if backendURL = strings.TrimSpace(backendURL); backendURL != "" {
		for _, k := range backendURLKeys {
			set(k, backendURL)
		}
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			e.Skipped = append(e.Skipped, line)
			continue
		}
		set(key, strings.TrimSpace(value))
	}

	return e
}

// WriteDotenvFiles writes the rendered variables to every file in
// DotenvFiles under dir and returns their paths.
func WriteDotenvFiles(dir string, e *Env) ([]string, error) {
	content := []byte(e.Dotenv())
	paths := make([]string, 0, len(DotenvFiles))
	for _, name := range DotenvFiles {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, content, 0o600); err != nil {
			return nil, fmt.Errorf("write dotenv files: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}
