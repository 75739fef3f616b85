// Package loader fetches and decodes tile graphics concurrently and hands
// them to the atlas on the rendering thread.
//
// Fetching and decoding run on a worker pool. Uploads never do: the owner of
// the GPU context calls Drain once per frame, or Wait when it needs the whole
// atlas before drawing. A tile that fails to load leaves its layer empty and
// is reported, never escalated.
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"sync"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"tilearray/internal/logging"
)

// DefaultWorkers is the worker pool size when none is configured.
const DefaultWorkers = 8

// ErrStarted is returned by Start on a loader that already started.
var ErrStarted = errors.New("loader: already started")

// ImageLoadError reports one tile that could not be fetched, decoded or
// uploaded.
type ImageLoadError struct {
	Index int
	Name  string
	Cause error
}

func (e *ImageLoadError) Error() string {
	return fmt.Sprintf("loader: tile %d (%s): %v", e.Index, e.Name, e.Cause)
}

func (e *ImageLoadError) Unwrap() error { return e.Cause }

// Result is the outcome of one tile. Image is nil when Err is set.
type Result struct {
	Index int
	Name  string
	Image image.Image
	Err   error
}

// Uploader receives decoded tiles. *atlas.Atlas implements it.
type Uploader interface {
	UploadImage(layer int, img image.Image) error
}

// Report summarizes a load.
type Report struct {
	Total  int
	Loaded int
	Failed int
	Errors []*ImageLoadError
}

// Complete reports whether every tile has an outcome.
func (r Report) Complete() bool { return r.Loaded+r.Failed == r.Total }

// Option configures a Loader.
type Option func(*Loader)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.workers = n
		}
	}
}

// WithProgress registers fn to be called on the rendering thread after each
// tile has been uploaded or has failed.
func WithProgress(fn func(Result)) Option {
	return func(l *Loader) { l.progress = fn }
}

// Loader loads tile graphics from a Source.
type Loader struct {
	src      Source
	workers  int
	progress func(Result)

	names   []string
	results chan Result
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	report  Report
}

func New(src Source, opts ...Option) *Loader {
	l := &Loader{src: src, workers: DefaultWorkers}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start fires one fetch and decode job per name. Name i becomes atlas layer
// i. Start returns immediately.
func (l *Loader) Start(ctx context.Context, names []string) error {
	if l.results != nil {
		return ErrStarted
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.names = names
	l.report = Report{Total: len(names)}
	// Buffered for every result so workers never wait on the render thread.
	l.results = make(chan Result, len(names))

	jobs := make(chan int)
	workers := min(l.workers, len(names))
	for i := 0; i < workers; i++ {
		l.wg.Add(1)
		go l.worker(ctx, jobs)
	}
	go func() {
		defer close(jobs)
		for i := range names {
			select {
			case jobs <- i:
			case <-ctx.Done():
				for ; i < len(names); i++ {
					l.results <- Result{Index: i, Name: names[i], Err: ctx.Err()}
				}
				return
			}
		}
	}()

	logging.Logger().Info("tile load started", "tiles", len(names), "workers", workers)
	return nil
}

func (l *Loader) worker(ctx context.Context, jobs <-chan int) {
	defer l.wg.Done()
	for i := range jobs {
		name := l.names[i]
		img, err := l.load(ctx, name)
		l.results <- Result{Index: i, Name: name, Image: img, Err: err}
	}
}

func (l *Loader) load(ctx context.Context, name string) (image.Image, error) {
	data, err := l.src.Fetch(ctx, name)
	if err != nil {
		return nil, err
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	logging.Logger().Debug("tile decoded", "name", name, "format", format, "size", img.Bounds().Size())
	return img, nil
}

// Drain uploads every result that is ready without blocking and returns the
// number handled. Call it from the thread that owns the GPU context.
func (l *Loader) Drain(dst Uploader) int {
	n := 0
	for !l.report.Complete() {
		select {
		case res := <-l.results:
			l.handle(dst, res)
			n++
		default:
			return n
		}
	}
	return n
}

// Wait uploads results until every tile has an outcome or ctx ends, and
// returns the report.
func (l *Loader) Wait(ctx context.Context, dst Uploader) (Report, error) {
	for !l.report.Complete() {
		select {
		case res := <-l.results:
			l.handle(dst, res)
		case <-ctx.Done():
			return l.Report(), ctx.Err()
		}
	}
	logging.Logger().Info("tile load finished", "loaded", l.report.Loaded, "failed", l.report.Failed)
	return l.Report(), nil
}

func (l *Loader) handle(dst Uploader, res Result) {
	if res.Err == nil {
		if err := dst.UploadImage(res.Index, res.Image); err != nil {
			res.Err = err
			res.Image = nil
		}
	}

	if res.Err != nil {
		lerr := &ImageLoadError{Index: res.Index, Name: res.Name, Cause: res.Err}
		res.Err = lerr
		l.report.Failed++
		l.report.Errors = append(l.report.Errors, lerr)
		logging.Logger().Warn("tile failed to load", "index", res.Index, "name", res.Name, "error", lerr.Cause)
	} else {
		l.report.Loaded++
	}

	if l.progress != nil {
		l.progress(res)
	}
}

// Done reports whether every tile has been handled.
func (l *Loader) Done() bool { return l.results != nil && l.report.Complete() }

// Report returns a snapshot of the load so far.
func (l *Loader) Report() Report {
	r := l.report
	r.Errors = append([]*ImageLoadError(nil), l.report.Errors...)
	return r
}

// Close cancels outstanding fetches and waits for the workers to exit. The
// source is left open.
func (l *Loader) Close() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}
