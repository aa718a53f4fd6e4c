package internal

import (
	"bytes"
	"go/format"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// moduleRoot walks up from the working directory to the directory holding
// go.mod.
func moduleRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getting working directory: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("go.mod not found above the working directory")
		}
		dir = parent
	}
}

// TestGofmtCompliance fails when a source file under internal/ or cmd/
// differs from its gofmt output. Fix with: gofmt -w ./internal/ ./cmd/
func TestGofmtCompliance(t *testing.T) {
	root := moduleRoot(t)

	for _, sub := range []string{"internal", "cmd"} {
		var unformatted, unparsable []string

		walkErr := filepath.WalkDir(filepath.Join(root, sub), func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				name := d.Name()
				if name == "testdata" || name == "vendor" || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
					return filepath.SkipDir
				}
				return nil
			}
			if filepath.Ext(path) != ".go" {
				return nil
			}

			src, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			rel, _ := filepath.Rel(root, path)
			formatted, err := format.Source(src)
			if err != nil {
				unparsable = append(unparsable, rel+": "+err.Error())
				return nil
			}
			if !bytes.Equal(src, formatted) {
				unformatted = append(unformatted, rel)
			}
			return nil
		})

		t.Run(sub, func(t *testing.T) {
			if walkErr != nil {
				t.Fatalf("walking %s: %v", sub, walkErr)
			}
			for _, f := range unparsable {
				t.Errorf("does not parse: %s", f)
			}
			if len(unformatted) > 0 {
				t.Errorf("not gofmt-formatted:\n  %s\nrun: gofmt -w ./%s/", strings.Join(unformatted, "\n  "), sub)
			}
		})
	}
}
