package wiring

import (
	"os"
	"path/filepath"
	"testing"
)

func writeWiringFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "wiring.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write test wiring file: %v", err)
	}
	return path
}

func TestLoadParsesPluginsAndParams(t *testing.T) {
	path := writeWiringFile(t, `
plugins = ["demo", "hist"]

[params]
nthreads = "4"
"demo:chunk_size" = "10"
`)

	doc, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Plugins) != 2 || doc.Plugins[0] != "demo" {
		t.Fatalf("unexpected plugins: %v", doc.Plugins)
	}
	if doc.Params["nthreads"] != "4" {
		t.Fatalf("unexpected nthreads param: %v", doc.Params["nthreads"])
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := writeWiringFile(t, `this is not valid toml {{{`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error parsing a malformed wiring file")
	}
}

func TestResolvePrefersPrefixedOverBare(t *testing.T) {
	doc := &Document{Params: map[string]string{
		"chunk_size":      "1",
		"demo:chunk_size": "10",
	}}

	if got := doc.Resolve("demo", "chunk_size", "0"); got != "10" {
		t.Fatalf("expected prefixed value to win, got %q", got)
	}
	if got := doc.Resolve("other", "chunk_size", "0"); got != "1" {
		t.Fatalf("expected bare value for an unscoped prefix, got %q", got)
	}
	if got := doc.Resolve("other", "missing", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback when neither key is set, got %q", got)
	}
}

func TestResolveForStripsPrefix(t *testing.T) {
	doc := &Document{Params: map[string]string{
		"demo:chunk_size": "10",
		"demo:nthreads":   "2",
		"other:nthreads":  "99",
	}}

	got := doc.ResolveFor("demo")
	if len(got) != 2 || got["chunk_size"] != "10" || got["nthreads"] != "2" {
		t.Fatalf("unexpected resolved params: %+v", got)
	}
}
