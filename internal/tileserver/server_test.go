package tileserver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tilearray/internal/loader"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "ACTION"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "ACTION", "001.png"), []byte("\x89PNG-ish"), 0644))

	src, err := loader.NewDirSource(root)
	require.NoError(t, err)
	srv := httptest.NewServer(NewServer(src, "").Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestServeTile(t *testing.T) {
	srv := newServer(t)

	resp, err := http.Get(srv.URL + "/tile/ACTION/001.png")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, []byte("\x89PNG-ish"), body)
}

func TestServeErrors(t *testing.T) {
	srv := newServer(t)

	tests := []struct {
		method, path string
		status       int
	}{
		{http.MethodGet, "/tile/ACTION/002.png", http.StatusNotFound},
		{http.MethodGet, "/tile/", http.StatusBadRequest},
		{http.MethodPost, "/tile/ACTION/001.png", http.StatusMethodNotAllowed},
		{http.MethodGet, "/health", http.StatusOK},
	}
	for _, tt := range tests {
		req, err := http.NewRequest(tt.method, srv.URL+tt.path, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, tt.status, resp.StatusCode, "%s %s", tt.method, tt.path)
	}
}

func TestHTTPSourceReadsFromServer(t *testing.T) {
	srv := newServer(t)

	src, err := loader.NewHTTPSource(srv.URL+"/tile/", "")
	require.NoError(t, err)
	defer src.Close()

	data, err := src.Fetch(context.Background(), "ACTION/001.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG-ish"), data)

	_, err = src.Fetch(context.Background(), "ACTION/009.png")
	assert.ErrorIs(t, err, loader.ErrNotFound)
}
