package constants

import (
	"testing"
	"time"
)

func TestDefaultValues(t *testing.T) {
	// Test that default values are set correctly
	if DefaultPort != "8000" {
		t.Errorf("Expected DefaultPort to be '8000', got '%s'", DefaultPort)
	}

	if DefaultESURL != "http://localhost:9200" {
		t.Errorf("Expected DefaultESURL to be 'http://localhost:9200', got '%s'", DefaultESURL)
	}

	if DefaultDBPath != "tubearchivist.db" {
		t.Errorf("Expected DefaultDBPath to be 'tubearchivist.db', got '%s'", DefaultDBPath)
	}
}

func TestCollections(t *testing.T) {
	collections := []string{
		DownloadIndex,
		VideoIndex,
		ChannelIndex,
	}

	for _, c := range collections {
		if c == "" {
			t.Error("Collection constant should not be empty")
		}
	}
}

func TestTimeouts(t *testing.T) {
	if DefaultHTTPTimeout <= 0 {
		t.Error("DefaultHTTPTimeout should be positive")
	}

	if PITKeepAlive < time.Second {
		t.Error("PITKeepAlive should be at least one second")
	}

	if DownloadRetryBackoff != 10*time.Second {
		t.Errorf("Expected DownloadRetryBackoff to be 10s, got %v", DownloadRetryBackoff)
	}
}
