package headless

import (
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesAndDefaults(t *testing.T) {
	t.Parallel()

	_, err := New(Config{NavigationTimeout: -time.Second})
	require.Error(t, err)

	r, err := New(Config{})
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, defaultNavigationTimeout, r.cfg.NavigationTimeout)
	require.Equal(t, defaultSettle, r.cfg.Settle)
}

func TestResponseMetaCapturesDocumentOnly(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 404, URL: "https://example.com/logo.png"},
	})
	meta.captureEvent("not an event")

	status, url := meta.snapshotWithFallbacks("https://example.com", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://example.com", url)

	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 503, URL: "https://example.com/final"},
	})
	status, url = meta.snapshotWithFallbacks("https://example.com", "https://example.com/loc")
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.Equal(t, "https://example.com/final", url)
}

func TestSnapshotPrefersFinalURL(t *testing.T) {
	t.Parallel()

	_, url := newResponseMeta().snapshotWithFallbacks("https://example.com", "https://example.com/after")
	require.Equal(t, "https://example.com/after", url)
}

func TestToNetworkHeaders(t *testing.T) {
	t.Parallel()

	headers := toNetworkHeaders(http.Header{
		"X-One":   {"a"},
		"X-Many":  {"a", "b"},
		"X-Empty": {},
	})
	require.Equal(t, "a", headers["X-One"])
	require.Equal(t, []string{"a", "b"}, headers["X-Many"])
	_, ok := headers["X-Empty"]
	require.False(t, ok)
}
