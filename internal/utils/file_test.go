package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAllowedFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"photo.jpg", true},
		{"photo.JPEG", true},
		{"scan.png", true},
		{"anim.gif", false},
		{"photo.webp", false},
		{"noext", false},
		{".png", true},
	}
	for _, tt := range tests {
		if got := AllowedFile(tt.name); got != tt.want {
			t.Errorf("AllowedFile(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"basket.jpg", "basket.jpg"},
		{"my basket.jpg", "my_basket.jpg"},
		{"a:b*c?.png", "a_b_c_.png"},
		{"..hidden.png", "hidden.png"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUniqueFilename(t *testing.T) {
	a := UniqueFilename("../../etc/basket photo.jpg")
	b := UniqueFilename("../../etc/basket photo.jpg")
	if a == b {
		t.Errorf("Expected distinct names, got %q twice", a)
	}
	if !strings.HasSuffix(a, "_basket_photo.jpg") {
		t.Errorf("Unexpected name %q", a)
	}
	if strings.Contains(a, "/") {
		t.Errorf("Name must not contain a path separator: %q", a)
	}
	if got := UniqueFilename("..."); !strings.HasSuffix(got, "_upload") {
		t.Errorf("Expected fallback name, got %q", got)
	}
}

func TestGenerateOutputFilename(t *testing.T) {
	got := GenerateOutputFilename("/tmp/in/basket.jpg", "out", "", "_annotated", "png")
	if want := filepath.Join("out", "basket_annotated.png"); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestEnsureDirAndFileExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if err := EnsureDir(dir); err != nil {
		t.Fatalf("EnsureDir failed: %v", err)
	}
	if FileExists(dir) {
		t.Error("Directory reported as file")
	}
	file := filepath.Join(dir, "x.txt")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if !FileExists(file) {
		t.Error("Expected file to exist")
	}
}
