package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bbilly1/tubearchivist/internal/archive"
	"github.com/bbilly1/tubearchivist/internal/constants"
	"github.com/bbilly1/tubearchivist/internal/logger"
	"github.com/bbilly1/tubearchivist/internal/progress"
	"github.com/bbilly1/tubearchivist/internal/resolver"
	"github.com/bbilly1/tubearchivist/internal/store"
)

func newTestPending(t *testing.T) (*Pending, *store.Memory, *resolver.Mock, string) {
	t.Helper()
	m := store.NewMemory()
	mock := resolver.NewMock()
	videosDir := t.TempDir()
	idx := archive.NewIndex(videosDir, logger.Default())
	p := NewPending(m, mock, idx, progress.Discard{}, logger.Default())
	return p, m, mock, videosDir
}

func archiveFile(t *testing.T, videosDir, youtubeID string) {
	t.Helper()
	channelDir := filepath.Join(videosDir, "Some Channel")
	if err := os.MkdirAll(channelDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	name := fmt.Sprintf("20240101_%s_video.mp4", youtubeID)
	if err := os.WriteFile(filepath.Join(channelDir, name), nil, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestExtractVideoID(t *testing.T) {
	tests := []struct {
		ref     string
		want    string
		wantErr bool
	}{
		{"abc12345678", "abc12345678", false},
		{"https://www.youtube.com/watch?v=abc12345678", "abc12345678", false},
		{"https://youtu.be/abc12345678", "abc12345678", false},
		{"https://www.youtube.com/shorts/abc12345678", "abc12345678", false},
		{"https://www.youtube.com/embed/abc12345678", "abc12345678", false},
		{"https://www.youtube.com/watch?v=short", "", true},
		{"not a url at all", "", true},
	}

	for _, tt := range tests {
		got, err := extractVideoID(tt.ref)
		if (err != nil) != tt.wantErr {
			t.Errorf("extractVideoID(%q) error = %v, wantErr %v", tt.ref, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("extractVideoID(%q) = %q, want %q", tt.ref, got, tt.want)
		}
	}
}

func TestParseCandidates(t *testing.T) {
	p, _, mock, _ := newTestPending(t)
	mock.ListMembersFunc = func(ctx context.Context, url string, limit int) ([]resolver.Member, error) {
		return []resolver.Member{
			{ID: "chn00000001", Title: "Channel Video 1"},
			{ID: "chn00000002", Title: "Channel Video 2"},
		}, nil
	}

	ids, err := p.ParseCandidates(context.Background(), []Candidate{
		{URL: "abc12345678", Kind: KindVideo},
		{URL: "https://www.youtube.com/@somechannel", Kind: KindChannel},
		{URL: "https://youtu.be/def12345678", Kind: KindVideo},
	})
	if err != nil {
		t.Fatalf("ParseCandidates failed: %v", err)
	}

	want := []string{"abc12345678", "chn00000001", "chn00000002", "def12345678"}
	if len(ids) != len(want) {
		t.Fatalf("Expected %d ids, got %d: %v", len(want), len(ids), ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("Expected ids[%d] = %s, got %s", i, want[i], ids[i])
		}
	}
}

func TestParseCandidatesUnknownKind(t *testing.T) {
	p, _, mock, _ := newTestPending(t)
	expanded := false
	mock.ListMembersFunc = func(ctx context.Context, url string, limit int) ([]resolver.Member, error) {
		expanded = true
		return nil, nil
	}

	_, err := p.ParseCandidates(context.Background(), []Candidate{
		{URL: "https://www.youtube.com/@somechannel", Kind: KindChannel},
		{URL: "something", Kind: Kind("album")},
	})
	if err == nil {
		t.Fatal("Expected error for unknown kind")
	}
	if expanded {
		t.Error("No expansion may happen when the batch contains an unknown kind")
	}
}

func TestAddToPendingSkipsArchived(t *testing.T) {
	p, m, _, videosDir := newTestPending(t)
	archiveFile(t, videosDir, "arc00000001")

	added, err := p.AddToPending(context.Background(), []string{"arc00000001", "new00000001"})
	if err != nil {
		t.Fatalf("AddToPending failed: %v", err)
	}
	if added != 1 {
		t.Errorf("Expected 1 added, got %d", added)
	}

	var entry Entry
	if err := m.GetByID(context.Background(), constants.DownloadIndex, "arc00000001", &entry); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Archived id must not be queued, got err %v", err)
	}
	if err := m.GetByID(context.Background(), constants.DownloadIndex, "new00000001", &entry); err != nil {
		t.Fatalf("Expected new id queued: %v", err)
	}
	if entry.Status != StatusPending {
		t.Errorf("Expected status pending, got %s", entry.Status)
	}
}

func TestAddToPendingSkipsResolverFailure(t *testing.T) {
	p, m, mock, _ := newTestPending(t)
	mock.ResolveFunc = func(ctx context.Context, youtubeID string) (*resolver.Video, error) {
		if youtubeID == "bad00000001" {
			return nil, errors.New("video unavailable")
		}
		return &resolver.Video{ID: youtubeID, Title: "ok", ChannelID: "UC001", DurationSec: 60, UploadDate: "20240315"}, nil
	}

	added, err := p.AddToPending(context.Background(), []string{"bad00000001", "god00000001"})
	if err != nil {
		t.Fatalf("AddToPending failed: %v", err)
	}
	if added != 1 {
		t.Errorf("Expected 1 added, got %d", added)
	}

	var entry Entry
	if err := m.GetByID(context.Background(), constants.DownloadIndex, "god00000001", &entry); err != nil {
		t.Fatalf("Expected good id queued: %v", err)
	}
	if entry.Duration != "1:00" || entry.Published != "2024-03-15" {
		t.Errorf("Unexpected derived fields: duration %q published %q", entry.Duration, entry.Published)
	}
}

func TestAddToPendingDoesNotOverwrite(t *testing.T) {
	p, m, _, _ := newTestPending(t)
	ctx := context.Background()

	existing := Entry{YoutubeID: "abc12345678", Title: "original", Status: StatusIgnore, Timestamp: 1}
	if err := m.CreateIfAbsent(ctx, constants.DownloadIndex, existing.YoutubeID, existing); err != nil {
		t.Fatalf("seed: %v", err)
	}

	added, err := p.AddToPending(ctx, []string{"abc12345678"})
	if err != nil {
		t.Fatalf("AddToPending failed: %v", err)
	}
	if added != 0 {
		t.Errorf("Expected 0 added for existing entry, got %d", added)
	}

	var entry Entry
	if err := m.GetByID(ctx, constants.DownloadIndex, "abc12345678", &entry); err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if entry.Status != StatusIgnore || entry.Title != "original" {
		t.Errorf("Existing entry was overwritten: %+v", entry)
	}
}

func TestAddToPendingChannelIndexed(t *testing.T) {
	p, m, mock, _ := newTestPending(t)
	ctx := context.Background()

	if err := m.CreateIfAbsent(ctx, constants.ChannelIndex, "UCknown000000000000000", map[string]any{
		"channel_id": "UCknown000000000000000", "channel_name": "Known",
	}); err != nil {
		t.Fatalf("seed channel: %v", err)
	}
	mock.ResolveFunc = func(ctx context.Context, youtubeID string) (*resolver.Video, error) {
		channelID := "UCknown000000000000000"
		if youtubeID == "out00000001" {
			channelID = "UCother000000000000000"
		}
		return &resolver.Video{ID: youtubeID, ChannelID: channelID}, nil
	}

	if _, err := p.AddToPending(ctx, []string{"inn00000001", "out00000001"}); err != nil {
		t.Fatalf("AddToPending failed: %v", err)
	}

	var entry Entry
	if err := m.GetByID(ctx, constants.DownloadIndex, "inn00000001", &entry); err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !entry.ChannelIndexed {
		t.Error("Expected channel_indexed true for known channel")
	}
	if err := m.GetByID(ctx, constants.DownloadIndex, "out00000001", &entry); err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if entry.ChannelIndexed {
		t.Error("Expected channel_indexed false for unknown channel")
	}
}

func TestAllPartitionsByStatus(t *testing.T) {
	p, m, _, _ := newTestPending(t)
	ctx := context.Background()

	seed := []Entry{
		{YoutubeID: "aaa11111111", Status: StatusPending, Timestamp: 100},
		{YoutubeID: "bbb22222222", Status: StatusIgnore, Timestamp: 200},
		{YoutubeID: "ccc33333333", Status: StatusPending, Timestamp: 300},
	}
	for _, entry := range seed {
		if err := m.CreateIfAbsent(ctx, constants.DownloadIndex, entry.YoutubeID, entry); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	pending, ignored, err := p.All(ctx)
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(pending) != 2 || pending[0].YoutubeID != "ccc33333333" || pending[1].YoutubeID != "aaa11111111" {
		t.Errorf("Unexpected pending order: %+v", pending)
	}
	if len(ignored) != 1 || ignored[0] != "bbb22222222" {
		t.Errorf("Unexpected ignored: %v", ignored)
	}
}

func TestAllEmpty(t *testing.T) {
	p, _, _, _ := newTestPending(t)
	pending, ignored, err := p.All(context.Background())
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(pending) != 0 || len(ignored) != 0 {
		t.Errorf("Expected empty results, got %v / %v", pending, ignored)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	p, m, _, _ := newTestPending(t)
	ctx := context.Background()

	if err := m.CreateIfAbsent(ctx, constants.DownloadIndex, "abc12345678", Entry{YoutubeID: "abc12345678"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := p.Delete(ctx, "abc12345678"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := p.Delete(ctx, "abc12345678"); err != nil {
		t.Errorf("Second delete must be a no-op, got %v", err)
	}
}

func TestIgnoreTransition(t *testing.T) {
	p, m, _, _ := newTestPending(t)
	ctx := context.Background()

	if err := m.CreateIfAbsent(ctx, constants.DownloadIndex, "abc12345678", Entry{
		YoutubeID: "abc12345678", Status: StatusPending, Timestamp: 1,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	p.now = func() time.Time { return time.Unix(5000, 0) }

	if err := p.Ignore(ctx, []string{"abc12345678"}); err != nil {
		t.Fatalf("Ignore failed: %v", err)
	}
	var entry Entry
	if err := m.GetByID(ctx, constants.DownloadIndex, "abc12345678", &entry); err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if entry.Status != StatusIgnore {
		t.Errorf("Expected status ignore, got %s", entry.Status)
	}
	if entry.Timestamp != 5000 {
		t.Errorf("Expected fresh timestamp 5000, got %d", entry.Timestamp)
	}

	// Ignoring an already ignored entry violates the transition table
	if err := p.Ignore(ctx, []string{"abc12345678"}); !errors.Is(err, ErrBadTransition) {
		t.Errorf("Expected ErrBadTransition, got %v", err)
	}

	// And back again
	if err := p.ForgetIgnore(ctx, []string{"abc12345678"}); err != nil {
		t.Fatalf("ForgetIgnore failed: %v", err)
	}
	if err := m.GetByID(ctx, constants.DownloadIndex, "abc12345678", &entry); err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if entry.Status != StatusPending {
		t.Errorf("Expected status pending, got %s", entry.Status)
	}
}
