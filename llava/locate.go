package llava

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const maxAscend = 10

// Locate resolves the CLI binary. An existing file at preferred wins.
// Otherwise the base name is searched for next to this executable, in the
// working directory, in their build/bin subdirectories, in their parents,
// and finally in $PATH.
func Locate(preferred string) (string, error) {
	if preferred == "" {
		return "", fmt.Errorf("cli path is empty")
	}
	if fileExists(preferred) {
		return filepath.Abs(preferred)
	}
	name := filepath.Base(preferred)
	var tried []string

	var roots []string
	if exePath, err := os.Executable(); err == nil {
		roots = append(roots, filepath.Dir(exePath))
	}
	if cwd, err := os.Getwd(); err == nil {
		roots = append(roots, cwd)
	}

	checked := make(map[string]bool)
	for _, root := range roots {
		cur := root
		for i := 0; i < maxAscend; i++ {
			if checked[cur] {
				break
			}
			checked[cur] = true
			for _, dir := range []string{cur, filepath.Join(cur, "build", "bin")} {
				tried = append(tried, dir)
				if p := filepath.Join(dir, name); fileExists(p) {
					return p, nil
				}
			}
			parent := filepath.Dir(cur)
			if parent == cur {
				break
			}
			cur = parent
		}
	}

	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}
	tried = append(tried, "$PATH")
	return "", fmt.Errorf("executable %q not found, tried:\n  - %s", preferred, strings.Join(tried, "\n  - "))
}

func fileExists(p string) bool {
	if p == "" {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
