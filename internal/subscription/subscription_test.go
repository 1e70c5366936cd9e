package subscription

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/bbilly1/tubearchivist/internal/archive"
	"github.com/bbilly1/tubearchivist/internal/constants"
	"github.com/bbilly1/tubearchivist/internal/logger"
	"github.com/bbilly1/tubearchivist/internal/progress"
	"github.com/bbilly1/tubearchivist/internal/queue"
	"github.com/bbilly1/tubearchivist/internal/resolver"
	"github.com/bbilly1/tubearchivist/internal/store"
)

type fakeRecent struct {
	members []resolver.Member
	err     error
	calls   int
}

func (f *fakeRecent) Recent(ctx context.Context, channelID string) ([]resolver.Member, error) {
	f.calls++
	return f.members, f.err
}

type testEnv struct {
	manager  *Manager
	store    *store.Memory
	resolver *resolver.Mock
	recent   *fakeRecent
	videos   string
}

func newTestManager(t *testing.T, opts Options) *testEnv {
	t.Helper()
	m := store.NewMemory()
	mock := resolver.NewMock()
	recent := &fakeRecent{}
	videosDir := t.TempDir()
	idx := archive.NewIndex(videosDir, logger.Default())
	q := queue.NewPending(m, mock, idx, progress.Discard{}, logger.Default())
	manager := NewManager(m, mock, recent, q, idx, progress.Discard{}, opts, logger.Default())
	return &testEnv{manager: manager, store: m, resolver: mock, recent: recent, videos: videosDir}
}

func seedChannel(t *testing.T, m *store.Memory, id, name string, subscribed bool) {
	t.Helper()
	channel := Channel{ChannelID: id, ChannelName: name, ChannelSubscribed: subscribed}
	if err := m.CreateIfAbsent(context.Background(), constants.ChannelIndex, id, channel); err != nil {
		t.Fatalf("seed channel %s: %v", id, err)
	}
}

func TestGetChannels(t *testing.T) {
	env := newTestManager(t, Options{})
	seedChannel(t, env.store, "UC002", "Beta", true)
	seedChannel(t, env.store, "UC001", "Alpha", false)
	seedChannel(t, env.store, "UC003", "Gamma", true)

	all, err := env.manager.GetChannels(context.Background(), false)
	if err != nil {
		t.Fatalf("GetChannels failed: %v", err)
	}
	if len(all) != 3 || all[0].ChannelName != "Alpha" || all[2].ChannelName != "Gamma" {
		t.Errorf("Unexpected channels: %+v", all)
	}

	subscribed, err := env.manager.GetChannels(context.Background(), true)
	if err != nil {
		t.Fatalf("GetChannels failed: %v", err)
	}
	if len(subscribed) != 2 || subscribed[0].ChannelID != "UC002" || subscribed[1].ChannelID != "UC003" {
		t.Errorf("Unexpected subscribed channels: %+v", subscribed)
	}
}

func TestGetLastVideosFeedFastPath(t *testing.T) {
	env := newTestManager(t, Options{ChannelSize: 5, UseFeed: true})
	env.recent.members = []resolver.Member{{ID: "fee00000001"}}
	env.resolver.ListMembersFunc = func(ctx context.Context, url string, limit int) ([]resolver.Member, error) {
		t.Error("Resolver must not be hit when the feed succeeds")
		return nil, nil
	}

	members, err := env.manager.GetLastVideos(context.Background(), "UC001", true)
	if err != nil {
		t.Fatalf("GetLastVideos failed: %v", err)
	}
	if len(members) != 1 || members[0].ID != "fee00000001" {
		t.Errorf("Expected feed members, got %+v", members)
	}
}

func TestGetLastVideosFeedFallback(t *testing.T) {
	env := newTestManager(t, Options{ChannelSize: 5, UseFeed: true})
	env.recent.err = errors.New("feed unreachable")

	var gotLimit int
	env.resolver.ListMembersFunc = func(ctx context.Context, url string, limit int) ([]resolver.Member, error) {
		gotLimit = limit
		return []resolver.Member{{ID: "res00000001"}}, nil
	}

	members, err := env.manager.GetLastVideos(context.Background(), "UC001", true)
	if err != nil {
		t.Fatalf("GetLastVideos failed: %v", err)
	}
	if len(members) != 1 || members[0].ID != "res00000001" {
		t.Errorf("Expected resolver members, got %+v", members)
	}
	if gotLimit != 5 {
		t.Errorf("Expected provider-side limit 5, got %d", gotLimit)
	}
}

func TestFindMissing(t *testing.T) {
	env := newTestManager(t, Options{ChannelSize: 10})
	ctx := context.Background()

	seedChannel(t, env.store, "UC001", "Alpha", true)
	seedChannel(t, env.store, "UC002", "Beta", true)
	seedChannel(t, env.store, "UC003", "Carol", false)

	// Known ids: one pending, one ignored, one archived
	if err := env.store.CreateIfAbsent(ctx, constants.DownloadIndex, "pen00000001", queue.Entry{
		YoutubeID: "pen00000001", Status: queue.StatusPending, Timestamp: 1,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := env.store.CreateIfAbsent(ctx, constants.DownloadIndex, "ign00000001", queue.Entry{
		YoutubeID: "ign00000001", Status: queue.StatusIgnore, Timestamp: 2,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	channelDir := filepath.Join(env.videos, "Alpha")
	if err := os.MkdirAll(channelDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(channelDir, "20240101_arc00000001_video.mp4"), nil, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	listed := make(map[string]bool)
	env.resolver.ListMembersFunc = func(ctx context.Context, url string, limit int) ([]resolver.Member, error) {
		listed[url] = true
		if url == fmt.Sprintf(channelURLTemplate, "UC001") {
			return []resolver.Member{
				{ID: "pen00000001"}, {ID: "arc00000001"}, {ID: "new00000001"},
			}, nil
		}
		return []resolver.Member{
			{ID: "ign00000001"}, {ID: "new00000001"}, {ID: "new00000002"},
		}, nil
	}

	missing, err := env.manager.FindMissing(ctx)
	if err != nil {
		t.Fatalf("FindMissing failed: %v", err)
	}
	want := []string{"new00000001", "new00000002"}
	if len(missing) != len(want) {
		t.Fatalf("Expected %v, got %v", want, missing)
	}
	for i := range want {
		if missing[i] != want[i] {
			t.Errorf("Expected missing[%d] = %s, got %s", i, want[i], missing[i])
		}
	}
	if listed[fmt.Sprintf(channelURLTemplate, "UC003")] {
		t.Error("Unsubscribed channel must not be scanned")
	}
}

func TestFindMissingSkipsFailingChannel(t *testing.T) {
	env := newTestManager(t, Options{ChannelSize: 10})
	seedChannel(t, env.store, "UC001", "Alpha", true)
	seedChannel(t, env.store, "UC002", "Beta", true)

	env.resolver.ListMembersFunc = func(ctx context.Context, url string, limit int) ([]resolver.Member, error) {
		if url == fmt.Sprintf(channelURLTemplate, "UC001") {
			return nil, errors.New("channel gone")
		}
		return []resolver.Member{{ID: "new00000001"}}, nil
	}

	missing, err := env.manager.FindMissing(context.Background())
	if err != nil {
		t.Fatalf("FindMissing must not abort on one failing channel: %v", err)
	}
	if len(missing) != 1 || missing[0] != "new00000001" {
		t.Errorf("Expected the healthy channel scanned, got %v", missing)
	}
}

func TestChangeSubscribeExisting(t *testing.T) {
	env := newTestManager(t, Options{})
	ctx := context.Background()
	seedChannel(t, env.store, "UC001", "Alpha", false)

	if err := env.manager.ChangeSubscribe(ctx, "UC001", true); err != nil {
		t.Fatalf("ChangeSubscribe failed: %v", err)
	}

	var channel Channel
	if err := env.store.GetByID(ctx, constants.ChannelIndex, "UC001", &channel); err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !channel.ChannelSubscribed {
		t.Error("Expected channel subscribed")
	}
	if channel.ChannelName != "Alpha" {
		t.Errorf("Name must survive the partial update, got %q", channel.ChannelName)
	}
}

func TestChangeSubscribeNewChannel(t *testing.T) {
	env := newTestManager(t, Options{})
	ctx := context.Background()

	env.resolver.ListMembersFunc = func(ctx context.Context, url string, limit int) ([]resolver.Member, error) {
		if limit != 1 {
			t.Errorf("Expected discovery limit 1, got %d", limit)
		}
		return []resolver.Member{{ID: "lat00000001"}}, nil
	}
	env.resolver.ResolveFunc = func(ctx context.Context, youtubeID string) (*resolver.Video, error) {
		return &resolver.Video{ID: youtubeID, ChannelID: "UCnew", ChannelName: "Fresh Channel"}, nil
	}

	if err := env.manager.ChangeSubscribe(ctx, "UCnew", true); err != nil {
		t.Fatalf("ChangeSubscribe failed: %v", err)
	}

	var channel Channel
	if err := env.store.GetByID(ctx, constants.ChannelIndex, "UCnew", &channel); err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !channel.ChannelSubscribed || channel.ChannelName != "Fresh Channel" {
		t.Errorf("Unexpected created channel: %+v", channel)
	}
}

func TestChangeSubscribeValidation(t *testing.T) {
	env := newTestManager(t, Options{})
	if err := env.manager.ChangeSubscribe(context.Background(), "", true); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}

	if _, err := ParseSubscribeFlag("yes"); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for string flag, got %v", err)
	}
	flag, err := ParseSubscribeFlag(true)
	if err != nil || !flag {
		t.Errorf("Expected (true, nil), got (%v, %v)", flag, err)
	}
}

func TestChangeSubscribeResyncsArchived(t *testing.T) {
	env := newTestManager(t, Options{})
	ctx := context.Background()
	seedChannel(t, env.store, "UC001", "Alpha", false)

	if err := env.store.CreateIfAbsent(ctx, constants.VideoIndex, "vid00000001", map[string]any{
		"youtube_id": "vid00000001", "channel_id": "UC001", "title": "stale", "published": "2024-01-01",
	}); err != nil {
		t.Fatalf("seed video: %v", err)
	}
	env.resolver.ResolveFunc = func(ctx context.Context, youtubeID string) (*resolver.Video, error) {
		return &resolver.Video{ID: youtubeID, ChannelID: "UC001", ChannelName: "Alpha", Title: "fresh title"}, nil
	}

	if err := env.manager.ChangeSubscribe(ctx, "UC001", true); err != nil {
		t.Fatalf("ChangeSubscribe failed: %v", err)
	}

	var video struct {
		Title string `json:"title"`
	}
	if err := env.store.GetByID(ctx, constants.VideoIndex, "vid00000001", &video); err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if video.Title != "fresh title" {
		t.Errorf("Expected resynced title, got %q", video.Title)
	}
}
