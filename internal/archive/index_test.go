package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bbilly1/tubearchivist/internal/logger"
)

func TestParseID(t *testing.T) {
	tests := []struct {
		name   string
		wantID string
		wantOK bool
	}{
		{"20240101_abc12345678_some_video_title.mp4", "abc12345678", true},
		{"20231224_x-Y_Z0123ab_clip.mkv", "x-Y_Z0123ab", true},
		{"20240101_short_video.mp4", "", false},       // id too short
		{"abc12345678_video.mp4", "", false},          // missing date prefix
		{"20240101_abc12345678_.mp4", "", false},      // empty title
		{"20240101_abc12345678_video", "", false},     // no extension
		{"notadate0_abc12345678_video.mp4", "", false},
		{".DS_Store", "", false},
	}

	for _, tt := range tests {
		id, ok := ParseID(tt.name)
		if ok != tt.wantOK || id != tt.wantID {
			t.Errorf("ParseID(%q) = (%q, %v), want (%q, %v)", tt.name, id, ok, tt.wantID, tt.wantOK)
		}
	}
}

func TestIndexAll(t *testing.T) {
	dir := t.TempDir()
	layout := map[string][]string{
		"Tech Channel": {
			"20240101_abc12345678_first_video.mp4",
			"20240102_def12345678_second_video.mkv",
		},
		"Cooking": {
			"20230601_ghi12345678_pasta.webm",
			"notes.txt", // does not match the grammar, must be skipped
		},
	}
	for channel, files := range layout {
		channelDir := filepath.Join(dir, channel)
		if err := os.MkdirAll(channelDir, 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		for _, name := range files {
			if err := os.WriteFile(filepath.Join(channelDir, name), nil, 0644); err != nil {
				t.Fatalf("write: %v", err)
			}
		}
	}

	index := NewIndex(dir, logger.Default())
	ids, err := index.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}

	want := []string{"abc12345678", "def12345678", "ghi12345678"}
	if len(ids) != len(want) {
		t.Fatalf("Expected %d ids, got %d: %v", len(want), len(ids), ids)
	}
	for _, id := range want {
		if _, ok := ids[id]; !ok {
			t.Errorf("Expected id %s in index", id)
		}
	}
}

func TestIndexMissingDir(t *testing.T) {
	index := NewIndex(filepath.Join(t.TempDir(), "absent"), logger.Default())
	ids, err := index.All()
	if err != nil {
		t.Fatalf("All on missing dir failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("Expected empty index, got %v", ids)
	}
}

func TestIndexContains(t *testing.T) {
	dir := t.TempDir()
	channelDir := filepath.Join(dir, "Channel")
	if err := os.MkdirAll(channelDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(channelDir, "20240101_abc12345678_video.mp4"), nil, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	index := NewIndex(dir, logger.Default())
	ok, err := index.Contains("abc12345678")
	if err != nil {
		t.Fatalf("Contains failed: %v", err)
	}
	if !ok {
		t.Error("Expected abc12345678 to be archived")
	}

	ok, err = index.Contains("zzz00000000")
	if err != nil {
		t.Fatalf("Contains failed: %v", err)
	}
	if ok {
		t.Error("Expected zzz00000000 to be absent")
	}
}
