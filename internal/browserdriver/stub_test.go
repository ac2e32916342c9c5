package browserdriver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/browsecore/browseserver/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><head><title>Stub Page</title></head>
			<body><article><p>Hello from the stub page.</p>
			<p>Click this Continue button to proceed.</p></article></body></html>`))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestStubDriverNavigateCapturesStateAndContent(t *testing.T) {
	srv := newTestServer(t)
	d := NewStubDriver()

	err := d.Navigate(context.Background(), srv.URL, 5*time.Second)
	require.NoError(t, err)

	title, err := d.Title(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Stub Page", title)

	text, err := d.ExtractText(context.Background(), "")
	require.NoError(t, err)
	assert.Contains(t, text, "Hello from the stub page.")
}

func TestStubDriverNavigateNon2xxFailsWithNavigationFailed(t *testing.T) {
	srv := newTestServer(t)
	d := NewStubDriver()

	err := d.Navigate(context.Background(), srv.URL+"/missing", 5*time.Second)
	require.Error(t, err)
	assert.Equal(t, apperr.NavigationFailed, apperr.KindOf(err))
}

func TestStubDriverClickMatchesTextFromLastPage(t *testing.T) {
	srv := newTestServer(t)
	d := NewStubDriver()
	require.NoError(t, d.Navigate(context.Background(), srv.URL, 5*time.Second))

	require.NoError(t, d.Click(context.Background(), "", "continue", 5*time.Second))

	err := d.Click(context.Background(), "", "nonexistent button", 5*time.Second)
	require.Error(t, err)
	assert.Equal(t, apperr.ElementNotFound, apperr.KindOf(err))
}

func TestStubDriverExtractTextBeforeNavigateFails(t *testing.T) {
	d := NewStubDriver()
	_, err := d.ExtractText(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, apperr.ElementNotFound, apperr.KindOf(err))
}

func TestStubDriverScreenshotProducesValidPNGDimensions(t *testing.T) {
	srv := newTestServer(t)
	d := NewStubDriver()
	require.NoError(t, d.Navigate(context.Background(), srv.URL, 5*time.Second))

	data, width, height, err := d.Screenshot(context.Background(), ScreenshotOptions{Width: 200, Height: 100})
	require.NoError(t, err)
	assert.Equal(t, 200, width)
	assert.Equal(t, 100, height)
	assert.True(t, len(data) > 8)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data[:4])
}

func TestStubDriverScreenshotsDifferAcrossPages(t *testing.T) {
	srv := newTestServer(t)
	d1 := NewStubDriver()
	require.NoError(t, d1.Navigate(context.Background(), srv.URL, 5*time.Second))
	data1, _, _, err := d1.Screenshot(context.Background(), ScreenshotOptions{Width: 64, Height: 64})
	require.NoError(t, err)

	d2 := NewStubDriver()
	data2, _, _, err := d2.Screenshot(context.Background(), ScreenshotOptions{Width: 64, Height: 64})
	require.NoError(t, err)

	assert.NotEqual(t, data1, data2)
}
