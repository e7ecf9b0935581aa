package bundler

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNeedsBundling(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   bool
	}{
		{"no imports", "export function handler() {}", false},
		{"import statement", `import { foo } from './utils.js';`, true},
		{"import no space", `import{foo} from './utils.js';`, true},
		{"dynamic import", `const m = import('./mod.js');`, true},
		{"comment with import word", "// this is important\nexport function handler() {}", false},
		{"require call", `const fs = require('fs');`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := needsBundling(tt.source); got != tt.want {
				t.Errorf("needsBundling(%q) = %v, want %v", tt.source, got, tt.want)
			}
		})
	}
}

func TestLoadNoImportsReturnsSourceUnchanged(t *testing.T) {
	dir := t.TempDir()
	src := `export function handler(request) { return new Response("ok"); }`
	entry := filepath.Join(dir, "index.js")
	if err := os.WriteFile(entry, []byte(src), 0644); err != nil {
		t.Fatal(err)
	}

	b := New(entry, "")
	result, assets, err := b.Load()
	if err != nil {
		t.Fatal(err)
	}
	if result != src {
		t.Errorf("expected source unchanged, got %q", result)
	}
	if assets != nil {
		t.Errorf("expected nil asset manifest with no public dir, got %v", assets)
	}
}

func TestLoadWithImportsBundles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "utils.js"),
		[]byte(`export function greet(name) { return "Hello " + name; }`), 0644); err != nil {
		t.Fatal(err)
	}
	entrySrc := `import { greet } from './utils.js';
export function handler(request) { return new Response(greet("World")); }`
	entry := filepath.Join(dir, "index.js")
	if err := os.WriteFile(entry, []byte(entrySrc), 0644); err != nil {
		t.Fatal(err)
	}

	b := New(entry, "")
	result, _, err := b.Load()
	if err != nil {
		t.Fatal(err)
	}
	if result == entrySrc {
		t.Error("bundled output should differ from source")
	}
}

func TestLoadMissingEntryFile(t *testing.T) {
	dir := t.TempDir()
	b := New(filepath.Join(dir, "index.js"), "")
	if _, _, err := b.Load(); err == nil {
		t.Fatal("expected error for missing entry file")
	}
}

func TestBuildAssetManifest(t *testing.T) {
	dir := t.TempDir()
	publicDir := filepath.Join(dir, "public")
	if err := os.MkdirAll(publicDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(publicDir, "favicon.ico"), []byte("icodata"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(publicDir, "style.css"), []byte("body{}"), 0644); err != nil {
		t.Fatal(err)
	}

	entry := filepath.Join(dir, "index.js")
	if err := os.WriteFile(entry, []byte(`export function handler(request) { return new Response("ok"); }`), 0644); err != nil {
		t.Fatal(err)
	}

	b := New(entry, publicDir)
	_, assets, err := b.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(assets) != 2 {
		t.Fatalf("expected 2 assets, got %d: %v", len(assets), assets)
	}

	var sawFavicon bool
	for _, a := range assets {
		if a.Path == "/favicon.ico" {
			sawFavicon = true
			if a.Size != int64(len("icodata")) {
				t.Errorf("unexpected size: %d", a.Size)
			}
		}
	}
	if !sawFavicon {
		t.Errorf("expected /favicon.ico in manifest, got %v", assets)
	}
}
