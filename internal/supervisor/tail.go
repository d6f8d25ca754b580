package supervisor

import (
	"os"
	"strings"
)

// tailFile returns at most lines trailing lines of the file at path, with
// the original line endings preserved. Missing or unreadable files yield an
// empty string.
func tailFile(path string, lines int) string {
	if lines <= 0 {
		return ""
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is derived from the plugin name
	if err != nil {
		return ""
	}

	content := string(data)
	if content == "" {
		return ""
	}

	trailingNewline := strings.HasSuffix(content, "\n")

	all := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	if len(all) > lines {
		all = all[len(all)-lines:]
	}

	out := strings.Join(all, "\n")
	if trailingNewline {
		out += "\n"
	}

	return out
}
