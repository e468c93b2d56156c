// Package envfile parses KEY=VALUE settings files of the kind watched for
// live reload.
package envfile

import (
	"bufio"
	"os"
	"strings"
)

// Parse reads a settings file into key/value pairs. Blank lines and lines
// starting with '#' are ignored; one layer of surrounding quotes is stripped
// from values. Malformed lines are skipped rather than rejected.
func Parse(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	vars := make(map[string]string)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		vars[key] = unquote(strings.TrimSpace(value))
	}

	return vars, scanner.Err()
}

// unquote strips one layer of matching surrounding quotes.
func unquote(s string) string {
	if len(s) < 2 {
		return s
	}
	first, last := s[0], s[len(s)-1]
	if first == last && (first == '"' || first == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}
