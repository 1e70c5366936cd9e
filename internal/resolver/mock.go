package resolver

import (
	"context"
	"fmt"
	"sync"
)

// Mock is a test double. Unset function fields fall back to canned data.
type Mock struct {
	ResolveFunc     func(ctx context.Context, youtubeID string) (*Video, error)
	ListMembersFunc func(ctx context.Context, url string, limit int) ([]Member, error)
	DownloadFunc    func(ctx context.Context, youtubeID string, opts DownloadOptions) (string, error)

	mu        sync.Mutex
	downloads []string
}

func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Resolve(ctx context.Context, youtubeID string) (*Video, error) {
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, youtubeID)
	}
	return &Video{
		ID:          youtubeID,
		Title:       "Mock Video " + youtubeID,
		ChannelID:   "UCmock0000000000000000",
		ChannelName: "Mock Channel",
		ThumbURL:    fmt.Sprintf("https://example.com/thumbs/%s.jpg", youtubeID),
		DurationSec: 180,
		UploadDate:  "20240101",
	}, nil
}

func (m *Mock) ListMembers(ctx context.Context, url string, limit int) ([]Member, error) {
	if m.ListMembersFunc != nil {
		return m.ListMembersFunc(ctx, url, limit)
	}
	return []Member{{ID: "mck00000001", Title: "Mock Member"}}, nil
}

func (m *Mock) Download(ctx context.Context, youtubeID string, opts DownloadOptions) (string, error) {
	m.mu.Lock()
	m.downloads = append(m.downloads, youtubeID)
	m.mu.Unlock()

	if m.DownloadFunc != nil {
		return m.DownloadFunc(ctx, youtubeID, opts)
	}
	return "", fmt.Errorf("mock download not configured for %s", youtubeID)
}

// Downloads returns every id Download was called with, in order.
func (m *Mock) Downloads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.downloads...)
}
