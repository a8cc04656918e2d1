package pdf

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepresearch/researchd/pkg/config"
)

func testConfig() *config.PdfConfig {
	return &config.PdfConfig{
		HeadProbeTimeout: 2 * time.Second,
		PrimaryTimeout:   2 * time.Second,
		FallbackTimeout:  2 * time.Second,
		MinPartialChars:  10,
	}
}

func TestService_IsPDFURL(t *testing.T) {
	t.Run("suffix match short-circuits without a network call", func(t *testing.T) {
		svc := NewService(testConfig(), nil)
		isPDF, err := svc.IsPDFURL(context.Background(), "https://example.com/paper.PDF")
		require.NoError(t, err)
		assert.True(t, isPDF)
	})

	t.Run("HEAD content-type probe", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodHead {
				w.Header().Set("Content-Type", "application/pdf")
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		svc := NewService(testConfig(), nil)
		isPDF, err := svc.IsPDFURL(context.Background(), server.URL+"/download")
		require.NoError(t, err)
		assert.True(t, isPDF)
	})

	t.Run("ranged GET probe when HEAD is inconclusive", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.Header().Set("Content-Type", "application/pdf")
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		svc := NewService(testConfig(), nil)
		isPDF, err := svc.IsPDFURL(context.Background(), server.URL+"/download")
		require.NoError(t, err)
		assert.True(t, isPDF)
	})

	t.Run("non-pdf page", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		svc := NewService(testConfig(), nil)
		isPDF, err := svc.IsPDFURL(context.Background(), server.URL+"/page")
		require.NoError(t, err)
		assert.False(t, isPDF)
	})

	t.Run("blank url is never a pdf", func(t *testing.T) {
		svc := NewService(testConfig(), nil)
		isPDF, err := svc.IsPDFURL(context.Background(), "   ")
		require.NoError(t, err)
		assert.False(t, isPDF)
	})
}

func TestMergeChunk(t *testing.T) {
	t.Run("incoming repeats the whole accumulated prefix", func(t *testing.T) {
		var b strings.Builder
		b.WriteString("Hello")
		mergeChunk(&b, "Hello, world")
		assert.Equal(t, "Hello, world", b.String())
	})

	t.Run("accumulated already ends with incoming, a true no-op repeat", func(t *testing.T) {
		var b strings.Builder
		b.WriteString("Hello, world")
		mergeChunk(&b, "world")
		assert.Equal(t, "Hello, world", b.String())
	})

	t.Run("true delta appends", func(t *testing.T) {
		var b strings.Builder
		b.WriteString("Hello")
		mergeChunk(&b, ", world")
		assert.Equal(t, "Hello, world", b.String())
	})

	t.Run("empty incoming is a no-op", func(t *testing.T) {
		var b strings.Builder
		b.WriteString("Hello")
		mergeChunk(&b, "")
		assert.Equal(t, "Hello", b.String())
	})
}

type scriptedExtractor struct {
	chunks []string
	err    error
	delay  time.Duration
}

func (s *scriptedExtractor) ExtractStream(ctx context.Context, _, _ string) (<-chan string, <-chan error) {
	chunkCh := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		defer close(chunkCh)
		for _, c := range s.chunks {
			if s.delay > 0 {
				select {
				case <-time.After(s.delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case chunkCh <- c:
			case <-ctx.Done():
				return
			}
		}
		if s.err != nil {
			errCh <- s.err
		}
	}()
	return chunkCh, errCh
}

func TestService_ExtractWithStream(t *testing.T) {
	t.Run("completes when the stream ends with usable text", func(t *testing.T) {
		svc := NewService(testConfig(), &scriptedExtractor{chunks: []string{"full document text"}})
		result, err := svc.ExtractWithStream(context.Background(), "https://example.com/a.pdf", "Title", time.Now().Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, StatusComplete, result.Status)
		assert.Equal(t, "full document text", result.Text)
	})

	t.Run("no text at all is failed, not a timeout", func(t *testing.T) {
		svc := NewService(testConfig(), &scriptedExtractor{chunks: nil})
		result, err := svc.ExtractWithStream(context.Background(), "https://example.com/a.pdf", "Title", time.Now().Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, result.Status)
	})

	t.Run("deadline elapses with enough partial text", func(t *testing.T) {
		cfg := testConfig()
		cfg.MinPartialChars = 5
		svc := NewService(cfg, &scriptedExtractor{chunks: []string{"a long partial chunk", "a longer partial chunk still"}, delay: 50 * time.Millisecond})
		result, err := svc.ExtractWithStream(context.Background(), "https://example.com/a.pdf", "Title", time.Now().Add(60*time.Millisecond))
		require.NoError(t, err)
		assert.Equal(t, StatusPartialTimeout, result.Status)
		assert.True(t, result.Partial)
	})

	t.Run("deadline elapses before enough partial text accumulates", func(t *testing.T) {
		cfg := testConfig()
		cfg.MinPartialChars = 1000
		svc := NewService(cfg, &scriptedExtractor{chunks: []string{"short"}, delay: 50 * time.Millisecond})
		result, err := svc.ExtractWithStream(context.Background(), "https://example.com/a.pdf", "Title", time.Now().Add(60*time.Millisecond))
		require.NoError(t, err)
		assert.Equal(t, StatusQueued, result.Status)
	})

	t.Run("nil primary extractor is disabled", func(t *testing.T) {
		svc := NewService(testConfig(), nil)
		result, err := svc.ExtractWithStream(context.Background(), "https://example.com/a.pdf", "Title", time.Now().Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, result.Status)
	})
}

func TestService_ExtractInMemory(t *testing.T) {
	t.Run("4xx response is a failure, not an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		svc := NewService(testConfig(), nil)
		result, err := svc.ExtractInMemory(context.Background(), server.URL+"/missing.pdf", "")
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, result.Status)
	})

	t.Run("unreachable host is a failure, not an error", func(t *testing.T) {
		svc := NewService(testConfig(), nil)
		result, err := svc.ExtractInMemory(context.Background(), "http://127.0.0.1:1/unreachable.pdf", "")
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, result.Status)
	})

	t.Run("non-pdf bytes fail structural parsing", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("not a pdf at all"))
		}))
		defer server.Close()

		svc := NewService(testConfig(), nil)
		result, err := svc.ExtractInMemory(context.Background(), server.URL+"/fake.pdf", "Fake")
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, result.Status)
		assert.Equal(t, "Fake", result.Title)
	})
}

func TestDeriveTitle(t *testing.T) {
	assert.Equal(t, "Given Title", deriveTitle("https://example.com/a.pdf", "Given Title"))
	assert.Equal(t, "https://example.com/a.pdf", deriveTitle("https://example.com/a.pdf", "  "))
}
