// Package filetree walks a checked-out repository while honouring its
// .gitignore.
package filetree

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

var defaultIgnores = []string{
	"node_modules/",
	"bower_components/",
	"dist/",
	"build/",
	"out/",
	"coverage/",
	".git/",
	".next/",
	".turbo/",
	".cache/",
	".DS_Store",
	".idea/",
	".vscode/",
	"*.log",
}

// Matcher compiles the default ignores plus the repository's .gitignore.
func Matcher(root string) *ignore.GitIgnore {
	patterns := defaultIgnores
	if content, err := os.ReadFile(filepath.Join(root, ".gitignore")); err == nil {
		patterns = append(append([]string{}, defaultIgnores...), strings.Split(string(content), "\n")...)
	}
	return ignore.CompileIgnoreLines(patterns...)
}

// Find returns the slash-separated paths, relative to root, of every
// non-ignored file called name at most maxDepth directories deep. A negative
// maxDepth means unlimited. The root's own file is not included.
func Find(root, name string, maxDepth int) ([]string, error) {
	matcher := Matcher(root)
	var found []string

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil || relPath == "." {
			return nil
		}

		// count separators to determine depth
		depth := strings.Count(relPath, string(filepath.Separator))
		if maxDepth >= 0 && depth > maxDepth {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		// Append slash for directories so patterns ending in '/' match
		pathToMatch := relPath
		if info.IsDir() {
			pathToMatch = relPath + string(filepath.Separator)
		}
		if matcher.MatchesPath(pathToMatch) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !info.IsDir() && info.Name() == name && depth > 0 {
			found = append(found, filepath.ToSlash(relPath))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(found)
	return found, nil
}
