package loader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tilearray/internal/logging"
	"tilearray/pkg/tiles"
)

// ErrNotFound is matched by every source when a tile asset does not exist.
var ErrNotFound = errors.New("loader: tile asset not found")

// Source fetches the encoded bytes of a tile asset by name. Implementations
// must be safe for concurrent use.
type Source interface {
	Fetch(ctx context.Context, name string) ([]byte, error)
	Close() error
}

// OpenSource picks a source for location: http(s) URLs are fetched over the
// network and cached under cacheDir, .db/.sqlite/.sqlite3 files are archives
// and anything else is a directory.
func OpenSource(location, cacheDir string) (Source, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return NewHTTPSource(location, cacheDir)
	}
	switch strings.ToLower(filepath.Ext(location)) {
	case ".db", ".sqlite", ".sqlite3":
		return NewArchiveSource(location)
	}
	return NewDirSource(location)
}

// DirSource reads tile assets from a directory tree.
type DirSource struct {
	root string
}

func NewDirSource(root string) (*DirSource, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("loader: asset directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("loader: %s is not a directory", root)
	}
	return &DirSource{root: root}, nil
}

func (s *DirSource) Fetch(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(name)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return data, err
}

func (s *DirSource) Close() error { return nil }

type fetchCall struct {
	done chan struct{}
	data []byte
	err  error
}

// HTTPSource fetches tile assets below a base URL. Responses are cached on
// disk when a cache directory is set, and concurrent fetches of one name
// share a single request.
type HTTPSource struct {
	base     *url.URL
	cacheDir string
	client   *http.Client

	inFlight   map[string]*fetchCall
	inFlightMu sync.Mutex
}

// UserAgent is sent with every asset request.
const UserAgent = "tilearray/1.0"

func NewHTTPSource(baseURL, cacheDir string) (*HTTPSource, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("loader: invalid asset URL: %w", err)
	}
	if cacheDir != "" {
		if err := os.MkdirAll(cacheDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	return &HTTPSource{
		base:     base,
		cacheDir: cacheDir,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		inFlight: make(map[string]*fetchCall),
	}, nil
}

func (s *HTTPSource) cachePath(name string) string {
	return filepath.Join(s.cacheDir, filepath.FromSlash(name))
}

// Fetch returns the asset bytes, from the disk cache if present. A caller
// that joined a request whose own context was cancelled retries with ctx.
func (s *HTTPSource) Fetch(ctx context.Context, name string) ([]byte, error) {
	if s.cacheDir != "" {
		if data, err := os.ReadFile(s.cachePath(name)); err == nil {
			return data, nil
		}
	}

	for {
		s.inFlightMu.Lock()
		if call, ok := s.inFlight[name]; ok {
			s.inFlightMu.Unlock()
			select {
			case <-call.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if isContextErr(call.err) && ctx.Err() == nil {
				continue
			}
			return call.data, call.err
		}
		// A fetch may have finished and filled the cache since the check above.
		if s.cacheDir != "" {
			if data, err := os.ReadFile(s.cachePath(name)); err == nil {
				s.inFlightMu.Unlock()
				return data, nil
			}
		}
		call := &fetchCall{done: make(chan struct{})}
		s.inFlight[name] = call
		s.inFlightMu.Unlock()

		call.data, call.err = s.download(ctx, name)

		s.inFlightMu.Lock()
		delete(s.inFlight, name)
		close(call.done)
		s.inFlightMu.Unlock()

		return call.data, call.err
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (s *HTTPSource) download(ctx context.Context, name string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tiles.URL(s.base, name), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("asset server returned status %d for %s", resp.StatusCode, name)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}

	if s.cacheDir != "" {
		path := s.cachePath(name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err == nil {
			err = os.WriteFile(path, data, 0644)
		}
		if err != nil {
			// The bytes are still usable.
			logging.Logger().Warn("failed to cache tile asset", "name", name, "error", err)
		}
	}
	return data, nil
}

func (s *HTTPSource) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// ArchiveSource reads tile assets from a SQLite file holding a table
// tiles(name TEXT PRIMARY KEY, data BLOB).
type ArchiveSource struct {
	db   *sql.DB
	stmt *sql.Stmt
}

func NewArchiveSource(path string) (*ArchiveSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("loader: archive: %w", err)
	}
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, err
	}

	stmt, err := db.Prepare("SELECT data FROM tiles WHERE name = ?")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("loader: archive %s: %w", path, err)
	}
	return &ArchiveSource{db: db, stmt: stmt}, nil
}

func (s *ArchiveSource) Fetch(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	if err := s.stmt.QueryRowContext(ctx, name).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, err
	}
	return data, nil
}

func (s *ArchiveSource) Close() error {
	return errors.Join(s.stmt.Close(), s.db.Close())
}

var (
	_ Source = (*DirSource)(nil)
	_ Source = (*HTTPSource)(nil)
	_ Source = (*ArchiveSource)(nil)
)
