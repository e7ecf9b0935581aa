package envfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadParsesKeyValuePairs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "GREETING=hello\nAPI_URL=https://example.com\n# a comment\nQUOTED=\"value with spaces\"\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	vars, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if vars["GREETING"] != "hello" {
		t.Errorf("GREETING = %q", vars["GREETING"])
	}
	if vars["API_URL"] != "https://example.com" {
		t.Errorf("API_URL = %q", vars["API_URL"])
	}
	if vars["QUOTED"] != "value with spaces" {
		t.Errorf("QUOTED = %q", vars["QUOTED"])
	}
}

func TestLoadEmptyPathReturnsEmptyMap(t *testing.T) {
	vars, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(vars) != 0 {
		t.Errorf("expected empty map, got %v", vars)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load("/nonexistent/.env"); err == nil {
		t.Fatal("expected error for missing env file")
	}
}

func TestBuildEnvWrapsVarsWithEmptySecrets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("FOO=bar\n"), 0644); err != nil {
		t.Fatal(err)
	}

	env, err := BuildEnv(path)
	if err != nil {
		t.Fatalf("BuildEnv: %v", err)
	}
	if env.Vars["FOO"] != "bar" {
		t.Errorf("Vars[FOO] = %q", env.Vars["FOO"])
	}
	if len(env.Secrets) != 0 {
		t.Errorf("expected no secrets, got %v", env.Secrets)
	}
}
