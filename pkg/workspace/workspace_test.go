package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveRootExpandsHomeAndCreatesDirectory(t *testing.T) {
	homeDir := t.TempDir()
	t.Setenv("HOME", homeDir)

	root, err := ResolveRoot("~/assistant-workspace")
	if err != nil {
		t.Fatalf("ResolveRoot error: %v", err)
	}

	want, err := filepath.EvalSymlinks(filepath.Join(homeDir, "assistant-workspace"))
	if err != nil {
		t.Fatalf("EvalSymlinks error: %v", err)
	}
	if root != want {
		t.Fatalf("ResolveRoot root = %q, want %q", root, want)
	}

	if info, statErr := os.Stat(root); statErr != nil || !info.IsDir() {
		t.Fatalf("workspace directory missing: %v", statErr)
	}
}

func TestResolveRootEmptyMeansInherit(t *testing.T) {
	root, err := ResolveRoot("   ")
	if err != nil {
		t.Fatalf("ResolveRoot error: %v", err)
	}
	if root != "" {
		t.Fatalf("ResolveRoot root = %q, want empty", root)
	}
}

func TestResolveRootCreatesNestedDirectories(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "deep", "nested", "dir")

	root, err := ResolveRoot(target)
	if err != nil {
		t.Fatalf("ResolveRoot error: %v", err)
	}

	want, err := filepath.EvalSymlinks(target)
	if err != nil {
		t.Fatalf("EvalSymlinks error: %v", err)
	}
	if root != want {
		t.Fatalf("ResolveRoot root = %q, want %q", root, want)
	}
}
