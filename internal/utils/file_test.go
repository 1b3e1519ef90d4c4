package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIsImageFile(t *testing.T) {
	for name, want := range map[string]bool{
		"a.JPG":     true,
		"b.webp":    true,
		"c.txt":     false,
		"noext":     false,
		"dir/d.png": true,
	} {
		if got := IsImageFile(name); got != want {
			t.Errorf("IsImageFile(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestGenerateOutputFilename(t *testing.T) {
	got := GenerateOutputFilename("/in/cat.jpg", "/out", "_boxes", "png")
	if want := filepath.Join("/out", "cat_boxes.png"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	got = GenerateOutputFilename("/in/cat.webp", "/out", "", "")
	if want := filepath.Join("/out", "cat.webp"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExpandInputs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.png", "a.jpg", "notes.txt", filepath.Join("sub", "c.webp")} {
		path := filepath.Join(dir, name)
		if err := EnsureDir(filepath.Dir(path)); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := ExpandInputs(dir)
	if err != nil {
		t.Fatalf("ExpandInputs failed: %v", err)
	}
	want := []string{filepath.Join(dir, "a.jpg"), filepath.Join(dir, "b.png"), filepath.Join(dir, "sub", "c.webp")}
	if len(files) != len(want) {
		t.Fatalf("got %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("files[%d] = %q, want %q", i, files[i], want[i])
		}
	}

	single, err := ExpandInputs(want[0])
	if err != nil || len(single) != 1 {
		t.Errorf("single file: %v %v", single, err)
	}
	url, _ := ExpandInputs("https://example.com/cat.jpg")
	if len(url) != 1 {
		t.Errorf("url input: %v", url)
	}
	if _, err := ExpandInputs(filepath.Join(dir, "missing")); err == nil {
		t.Error("Expected an error for a missing path")
	}
}
