package deploy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// RelativeBase is the asset base that makes builds work under any URL prefix.
const RelativeBase = "./"

// PatchAction describes what PatchBuildConfig did.
type PatchAction string

const (
	PatchNone        PatchAction = "none"
	PatchReplaced    PatchAction = "replaced"
	PatchInjected    PatchAction = "injected"
	PatchCreated     PatchAction = "created"
	PatchHomepage    PatchAction = "homepage"
	PatchCLIOverride PatchAction = "cli-override"
)

// PatchResult is the result of PatchBuildConfig.
type PatchResult struct {
	Action PatchAction
	File   string // patched or created file, empty for PatchNone and PatchCLIOverride

	// BaseOverride means the build must be invoked with an explicit relative
	// base. It is set for every Vite project since the command line flag takes
	// precedence over whatever the config file ends up with.
	BaseOverride bool
}

var viteConfigFiles = []string{
	"vite.config.js",
	"vite.config.ts",
	"vite.config.mjs",
	"vite.config.mts",
	"vite.config.cjs",
	"vite.config.cts",
}

var viteConfigOpenRegexp = regexp.MustCompile(`(defineConfig\(\s*\{|export\s+default\s+\{|module\.exports\s*=\s*\{)`)

const viteConfigTemplate = `import { defineConfig } from 'vite'

export default defineConfig({
  base: './',
})
`

// PatchBuildConfig adjusts the project at buildRoot so built assets reference
// each other with relative paths.
func PatchBuildConfig(buildRoot string, project *Project) (*PatchResult, error) {
	switch project.Framework {
	case FrameworkVite:
		return patchViteConfig(buildRoot)
	case FrameworkCreateReactApp:
		return patchHomepage(buildRoot)
	default:
		return &PatchResult{Action: PatchNone}, nil
	}
}

func patchViteConfig(buildRoot string) (*PatchResult, error) {
	var configFile string
	for _, name := range viteConfigFiles {
		if p := filepath.Join(buildRoot, name); isFile(p) {
			configFile = p
			break
		}
	}

	if configFile == "" {
		configFile = filepath.Join(buildRoot, "vite.config.mjs")
		if err := os.WriteFile(configFile, []byte(viteConfigTemplate), 0o644); err != nil {
			return nil, fmt.Errorf("patch vite config: %w", err)
		}
		return &PatchResult{Action: PatchCreated, File: configFile, BaseOverride: true}, nil
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("patch vite config: %w", err)
	}
	patched, action := patchViteConfigText(string(data))
	if action == PatchCLIOverride {
		return &PatchResult{Action: PatchCLIOverride, BaseOverride: true}, nil
	}
	if err = writeFileKeepMode(configFile, []byte(patched)); err != nil {
		return nil, fmt.Errorf("patch vite config: %w", err)
	}

	return &PatchResult{Action: action, File: configFile, BaseOverride: true}, nil
}

// patchViteConfigText rewrites a literal top-level base option of the config
// object or injects one. Comments and keys of nested objects are ignored.
// When base is set to a non-literal expression, or there is no recognizable
// config object, the text is returned unchanged with PatchCLIOverride.
func patchViteConfigText(text string) (string, PatchAction) {
	code := blankComments(text)
	loc := viteConfigOpenRegexp.FindStringIndex(code)
	if loc == nil {
		return text, PatchCLIOverride
	}

	start, end, found := findObjectKey(code, loc[1], "base")
	if !found {
		return text[:loc[1]] + "\n  base: '" + RelativeBase + "'," + text[loc[1]:], PatchInjected
	}
	if start < 0 {
		return text, PatchCLIOverride
	}

	value := strings.TrimSpace(code[start:end])
	if !isStringLiteral(value) {
		return text, PatchCLIOverride
	}
	litStart := start + strings.Index(code[start:end], value)
	litEnd := litStart + len(value)
	return text[:litStart] + "'" + RelativeBase + "'" + text[litEnd:], PatchReplaced
}

// blankComments replaces line and block comments with spaces. Offsets and
// string literals are preserved.
func blankComments(text string) string {
	b := []byte(text)
	for i := 0; i < len(b); {
		switch {
		case b[i] == '\'' || b[i] == '"' || b[i] == '`':
			i = stringEnd(text, i)
		case strings.HasPrefix(text[i:], "//"):
			for ; i < len(b) && b[i] != '\n'; i++ {
				b[i] = ' '
			}
		case strings.HasPrefix(text[i:], "/*"):
			stop := len(b)
			if n := strings.Index(text[i+2:], "*/"); n >= 0 {
				stop = i + 2 + n + 2
			}
			for ; i < stop; i++ {
				if b[i] != '\n' {
					b[i] = ' '
				}
			}
		default:
			i++
		}
	}
	return string(b)
}

// stringEnd returns the offset just past the string literal that starts at i.
func stringEnd(text string, i int) int {
	quote := text[i]
	for j := i + 1; j < len(text); j++ {
		switch text[j] {
		case '\\':
			j++
		case quote:
			return j + 1
		case '\n':
			if quote != '`' {
				return j
			}
		}
	}
	return len(text)
}

// findObjectKey looks for key among the properties of the object literal whose
// body starts at offset from. It reports the bounds of the property value, or
// start -1 when the key is used as a shorthand property.
func findObjectKey(code string, from int, key string) (start, end int, found bool) {
	depth := 0
	keyPos := true
	for i := from; i < len(code); {
		c := code[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
			continue
		case c == '\'' || c == '"' || c == '`':
			j := stringEnd(code, i)
			if depth == 0 && keyPos && c != '`' && j-i >= 2 && code[i+1:j-1] == key {
				if k := skipSpace(code, j); k < len(code) && code[k] == ':' {
					vs := skipSpace(code, k+1)
					return vs, valueEnd(code, vs), true
				}
			}
			i = j
		case isIdentByte(c):
			j := i
			for j < len(code) && isIdentByte(code[j]) {
				j++
			}
			if depth == 0 && keyPos && code[i:j] == key {
				if k := skipSpace(code, j); k < len(code) && code[k] == ':' {
					vs := skipSpace(code, k+1)
					return vs, valueEnd(code, vs), true
				}
				return -1, -1, true
			}
			i = j
		case c == '{' || c == '[' || c == '(':
			depth++
			i++
		case c == '}' || c == ']' || c == ')':
			if depth == 0 {
				return 0, 0, false
			}
			depth--
			i++
		case c == ',' && depth == 0:
			keyPos = true
			i++
			continue
		default:
			i++
		}
		keyPos = false
	}
	return 0, 0, false
}

// valueEnd returns the offset of the comma or closing brace that ends the
// property value starting at from.
func valueEnd(code string, from int) int {
	depth := 0
	for i := from; i < len(code); {
		switch c := code[i]; {
		case c == '\'' || c == '"' || c == '`':
			i = stringEnd(code, i)
			continue
		case c == '{' || c == '[' || c == '(':
			depth++
		case c == '}' || c == ']' || c == ')':
			if depth == 0 {
				return i
			}
			depth--
		case c == ',' && depth == 0:
			return i
		}
		i++
	}
	return len(code)
}

func isStringLiteral(s string) bool {
	if len(s) < 2 || (s[0] != '\'' && s[0] != '"' && s[0] != '`') {
		return false
	}
	if s[0] == '`' && strings.Contains(s, "${") {
		return false
	}
	return stringEnd(s, 0) == len(s)
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	return i
}

// patchHomepage sets the manifest's homepage field to ".".
func patchHomepage(buildRoot string) (*PatchResult, error) {
	manifestFile := filepath.Join(buildRoot, ManifestFile)
	data, err := os.ReadFile(manifestFile)
	if err != nil {
		return nil, fmt.Errorf("patch homepage: %w", err)
	}

	var fields map[string]json.RawMessage
	if err = json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrManifestParse, ManifestFile, err)
	}
	fields["homepage"] = json.RawMessage(`"."`)

	out, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("patch homepage: %w", err)
	}
	out = append(out, '\n')
	if err = writeFileKeepMode(manifestFile, out); err != nil {
		return nil, fmt.Errorf("patch homepage: %w", err)
	}

	return &PatchResult{Action: PatchHomepage, File: manifestFile}, nil
}

func writeFileKeepMode(name string, data []byte) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(name); err == nil {
		mode = info.Mode().Perm()
	}
	return os.WriteFile(name, data, mode)
}
