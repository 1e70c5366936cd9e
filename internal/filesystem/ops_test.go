package filesystem

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Normal Channel", "Normal Channel"},
		{"Slash/Name", "SlashName"},
		{"Colon:Name", "ColonName"},
		{"Trailing Dot.", "Trailing Dot"},
		{"Question?Mark", "QuestionMark"},
		{"<Invalid>", "Invalid"},
		{"Tech Review Channel ", "Tech Review Channel"},
	}

	for _, tt := range tests {
		got := Sanitize(tt.input)
		if got != tt.expected {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.mp4")
	dst := filepath.Join(dir, "dst.mp4")

	if err := os.WriteFile(src, []byte("video"), 0644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	if err := MoveFile(src, dst); err != nil {
		t.Fatalf("MoveFile failed: %v", err)
	}

	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("Expected src to be gone after move")
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read dst: %v", err)
	}
	if string(data) != "video" {
		t.Errorf("Expected dst content 'video', got %q", data)
	}

	// Missing source must fail loudly
	if err := MoveFile(filepath.Join(dir, "absent"), dst); err == nil {
		t.Error("Expected error moving a missing file")
	}
}

func TestFindByID(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		"20240101_abc12345678_some_video.mp4",
		"20240102_def12345678_other_video.mkv.part",
	}
	for _, name := range files {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	got, err := FindByID(dir, "abc12345678")
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if got != "20240101_abc12345678_some_video.mp4" {
		t.Errorf("Unexpected match: %q", got)
	}

	got, err = FindByID(dir, "zzz00000000")
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if got != "" {
		t.Errorf("Expected no match, got %q", got)
	}

	// Missing directory is not an error, just no match
	got, err = FindByID(filepath.Join(dir, "absent"), "abc12345678")
	if err != nil {
		t.Fatalf("FindByID on missing dir failed: %v", err)
	}
	if got != "" {
		t.Errorf("Expected no match on missing dir, got %q", got)
	}
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "c")
	if err := EnsureDir(dir); err != nil {
		t.Fatalf("EnsureDir failed: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !info.IsDir() {
		t.Error("Expected a directory")
	}
}
