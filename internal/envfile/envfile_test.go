package envfile

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.env")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing settings file: %v", err)
	}
	return path
}

func TestParse(t *testing.T) {
	path := writeSettings(t, `
# upstream credentials
CREDMUX_COOKIES=sessionKey=abc,sessionKey=def
CREDMUX_ADMIN_KEY="secret-key"

LISTEN_ADDR='127.0.0.1:8700'
EMPTY=
SPACED =  padded value
`)

	vars, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	tests := map[string]string{
		"CREDMUX_COOKIES":   "sessionKey=abc,sessionKey=def",
		"CREDMUX_ADMIN_KEY": "secret-key",
		"LISTEN_ADDR":       "127.0.0.1:8700",
		"EMPTY":             "",
		"SPACED":            "padded value",
	}
	for key, want := range tests {
		got, ok := vars[key]
		if !ok {
			t.Errorf("key %q missing", key)
			continue
		}
		if got != want {
			t.Errorf("vars[%q] = %q, want %q", key, got, want)
		}
	}
	if len(vars) != len(tests) {
		t.Errorf("parsed %d keys, want %d: %v", len(vars), len(tests), vars)
	}
}

func TestParseValueWithEquals(t *testing.T) {
	path := writeSettings(t, "COOKIE=sessionKey=tok1;theme=dark\n")

	vars, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if got := vars["COOKIE"]; got != "sessionKey=tok1;theme=dark" {
		t.Errorf("vars[COOKIE] = %q, value split on wrong '='", got)
	}
}

func TestParseSkipsMalformedLines(t *testing.T) {
	path := writeSettings(t, "JUSTAWORD\n=novalue\nGOOD=1\n")

	vars, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(vars) != 1 || vars["GOOD"] != "1" {
		t.Errorf("vars = %v, want only GOOD=1", vars)
	}
}

func TestParseMissingFile(t *testing.T) {
	if _, err := Parse(filepath.Join(t.TempDir(), "absent.env")); err == nil {
		t.Error("Parse() expected error for missing file")
	}
}

func TestUnquote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`"quoted"`, "quoted"},
		{`'quoted'`, "quoted"},
		{`""`, ""},
		{`"mismatched'`, `"mismatched'`},
		{`plain`, `plain`},
		{`"`, `"`},
		{`""nested""`, `"nested"`}, // only one layer stripped
	}
	for _, tt := range tests {
		if got := unquote(tt.in); got != tt.want {
			t.Errorf("unquote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
