package pipeline

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/ppiankov/decipher/internal/logger"
	"github.com/ppiankov/decipher/internal/util"
	"github.com/ppiankov/decipher/internal/worker"
)

// ErrEmptyInput is returned for an input with neither a source nor inline content
var ErrEmptyInput = errors.New("input has no source and no content")

// DocumentInput is one item of a batch. Source is a local path or an http(s) URL;
// when Data is already set the source is not read again.
type DocumentInput struct {
	Name        string `json:"name"`
	Source      string `json:"source,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"-"`
}

func (in DocumentInput) needsLoad() bool {
	return in.Data == nil && in.Source != ""
}

func (in DocumentInput) isURL() bool {
	return strings.HasPrefix(in.Source, "http://") || strings.HasPrefix(in.Source, "https://")
}

// InputError rejects a batch because one of its inputs could not be read
type InputError struct {
	Index int
	Name  string
	Err   error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("cannot read document %d (%s): %v", e.Index+1, e.Name, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

// Loader reads every input of a batch before processing starts
type Loader struct {
	fetcher  *Fetcher
	robots   *util.RobotsChecker // nil disables robots.txt checks
	hosts    *worker.Limiter
	pool     *worker.Pool
	maxBytes int64
	log      *logger.Logger
}

// NewLoader creates a loader. robots may be nil.
func NewLoader(fetcher *Fetcher, robots *util.RobotsChecker, workers int, maxBytes int64, log *logger.Logger) *Loader {
	if log == nil {
		log = logger.Nop()
	}
	return &Loader{
		fetcher:  fetcher,
		robots:   robots,
		hosts:    worker.NewLimiter(1, 1),
		pool:     worker.NewPool(workers),
		maxBytes: maxBytes,
		log:      log,
	}
}

// Load fills in Data, Name and ContentType for every input, preserving order.
// Any unreadable input fails the whole batch with an *InputError.
func (l *Loader) Load(ctx context.Context, inputs []DocumentInput) ([]DocumentInput, error) {
	out := make([]DocumentInput, len(inputs))
	copy(out, inputs)

	jobs := make([]worker.Job, len(out))
	for i := range out {
		jobs[i] = worker.JobFunc(func(ctx context.Context) error {
			return l.loadOne(ctx, &out[i])
		})
	}

	errs := l.pool.Run(ctx, jobs)
	if i, err := worker.FirstError(errs); err != nil {
		name := out[i].Name
		if name == "" {
			name = out[i].Source
		}
		return nil, &InputError{Index: i, Name: name, Err: err}
	}
	return out, nil
}

func (l *Loader) loadOne(ctx context.Context, in *DocumentInput) error {
	if !in.needsLoad() {
		if in.Data == nil {
			return ErrEmptyInput
		}
		return nil
	}
	if in.isURL() {
		return l.loadURL(ctx, in)
	}
	return l.loadFile(in)
}

func (l *Loader) loadFile(in *DocumentInput) error {
	info, err := os.Stat(in.Source)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", in.Source)
	}
	if l.maxBytes > 0 && info.Size() > l.maxBytes {
		return fmt.Errorf("file exceeds %d bytes", l.maxBytes)
	}

	data, err := os.ReadFile(in.Source)
	if err != nil {
		return err
	}
	in.Data = data
	if in.Name == "" {
		in.Name = filepath.Base(in.Source)
	}
	if in.ContentType == "" {
		in.ContentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(in.Source)))
	}
	return nil
}

func (l *Loader) loadURL(ctx context.Context, in *DocumentInput) error {
	if l.fetcher == nil {
		return fmt.Errorf("URL sources are not enabled")
	}

	host, err := worker.HostKey(in.Source)
	if err != nil {
		return err
	}

	if l.robots != nil {
		decision, err := l.robots.Check(ctx, in.Source)
		if err != nil {
			return err
		}
		if !decision.Allowed {
			return fmt.Errorf("disallowed by robots.txt")
		}
		if err := l.hosts.WaitWithDelay(ctx, host, decision.CrawlDelay); err != nil {
			return err
		}
	}

	l.log.Debug("fetching document", "url", in.Source)
	result, err := l.fetcher.FetchWithRetry(ctx, in.Source)
	if err != nil {
		return err
	}

	in.Data = result.Data
	if in.Name == "" {
		in.Name = result.Name
	}
	if in.ContentType == "" {
		in.ContentType = result.ContentType
	}
	return nil
}
