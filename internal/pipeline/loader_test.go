package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/decipher/internal/util"
)

func TestLoader_FilesAndInline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("local file content"), 0o644))

	loader := NewLoader(nil, nil, 2, 1<<20, nil)
	docs, err := loader.Load(context.Background(), []DocumentInput{
		{Source: path},
		{Name: "inline.md", Data: []byte("inline content")},
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "notes.txt", docs[0].Name)
	assert.Equal(t, "local file content", string(docs[0].Data))
	assert.Contains(t, docs[0].ContentType, "text/plain")
	assert.Equal(t, "inline.md", docs[1].Name)
	assert.Equal(t, "inline content", string(docs[1].Data))
}

func TestLoader_UnreadableInputRejectsBatch(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.txt")
	require.NoError(t, os.WriteFile(good, []byte("ok"), 0o644))

	loader := NewLoader(nil, nil, 2, 1<<20, nil)
	_, err := loader.Load(context.Background(), []DocumentInput{
		{Source: good},
		{Source: filepath.Join(dir, "missing.pdf")},
	})

	var inErr *InputError
	require.ErrorAs(t, err, &inErr)
	assert.Equal(t, 1, inErr.Index)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoader_FileTooLarge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.txt")
	require.NoError(t, os.WriteFile(path, make([]byte, 64), 0o644))

	loader := NewLoader(nil, nil, 1, 32, nil)
	_, err := loader.Load(context.Background(), []DocumentInput{{Source: path}})
	assert.Error(t, err)
}

func TestLoader_URLWithRobots(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			_, _ = fmt.Fprint(w, "User-agent: *\nDisallow: /private/\n")
		case "/papers/attention.html":
			w.Header().Set("Content-Type", "text/html")
			_, _ = fmt.Fprint(w, "<html><body><p>Attention</p></body></html>")
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	fetcher := NewFetcher(5*time.Second, "decipher-test", 1<<20, "", "", "")
	robots := util.NewRobotsChecker("decipher-test", fetcher.Client())
	loader := NewLoader(fetcher, robots, 2, 1<<20, nil)

	docs, err := loader.Load(context.Background(), []DocumentInput{{Source: server.URL + "/papers/attention.html"}})
	require.NoError(t, err)
	assert.Equal(t, "attention.html", docs[0].Name)
	assert.Equal(t, "text/html", docs[0].ContentType)

	_, err = loader.Load(context.Background(), []DocumentInput{{Source: server.URL + "/private/draft.html"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "robots.txt")
}

func TestLoader_URLWithoutFetcher(t *testing.T) {
	loader := NewLoader(nil, nil, 1, 0, nil)
	_, err := loader.Load(context.Background(), []DocumentInput{{Source: "https://example.com/a.pdf"}})
	assert.Error(t, err)
}
