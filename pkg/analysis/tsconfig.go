package analysis

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

type CompilerOptions struct {
	Target string `json:"target"`
	Module string `json:"module"`
	OutDir string `json:"outDir"`
}

type TSConfig struct {
	Extends         string          `json:"extends"`
	CompilerOptions CompilerOptions `json:"compilerOptions"`
}

var trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)

// LoadTSConfig accepts the JSONC dialect tsc itself accepts: comments and
// trailing commas.
func LoadTSConfig(path string) (*TSConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	clean := trailingCommaRe.ReplaceAllString(stripComments(string(data)), "$1")
	var cfg TSConfig
	if err := json.Unmarshal([]byte(clean), &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// stripComments removes // and /* */ comments outside string literals.
func stripComments(src string) string {
	var out strings.Builder
	inString, escaped := false, false
	for i := 0; i < len(src); i++ {
		c := src[i]
		if inString {
			out.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch {
		case c == '"':
			inString = true
			out.WriteByte(c)
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			if i < len(src) {
				out.WriteByte('\n')
			}
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return out.String()
			}
			i += end + 3
		default:
			out.WriteByte(c)
		}
	}
	return out.String()
}
