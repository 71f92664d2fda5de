package persona

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func profileServer(t *testing.T, handler http.HandlerFunc) *AvatarFetcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAvatarFetcher(srv.URL+"/shapes/public/", srv.Client())
}

func TestAvatarFetcher_FieldPriority(t *testing.T) {
	bodies := map[string]string{
		"both":          `{"avatar_url":"https://cdn.example/first.png","avatar":"https://cdn.example/second.png"}`,
		"avatar":        `{"avatar":"https://cdn.example/second.png"}`,
		"html":          `<html><head><meta property="og:image" content="https://cdn.example/og.png"></head></html>`,
		"img":           `<div><img class="pic" src="https://cdn.example/img.webp"></div>`,
		"nothing":       `{"name":"Nothing"}`,
		"content-first": `<head><meta content="https://cdn.example/og.png" property="og:image"></head><body><img src="https://cdn.example/site-logo.png"></body>`,
		"img-before-og": `<body><img src="https://cdn.example/logo.png"><meta property="OG:IMAGE" content="https://cdn.example/late-og.png"></body>`,
		"relative-img":  `<body><img src="/static/x.png"><img alt="pic" src="https://cdn.example/abs.gif"></body>`,
	}
	f := profileServer(t, func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/shapes/public/"):]
		body, ok := bodies[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body))
	})

	ctx := context.Background()
	require.Equal(t, "https://cdn.example/first.png", f.Fetch(ctx, "both"))
	require.Equal(t, "https://cdn.example/second.png", f.Fetch(ctx, "avatar"))
	require.Equal(t, "https://cdn.example/og.png", f.Fetch(ctx, "html"))
	require.Equal(t, "https://cdn.example/img.webp", f.Fetch(ctx, "img"))
	require.Equal(t, "", f.Fetch(ctx, "nothing"))
	require.Equal(t, "https://cdn.example/og.png", f.Fetch(ctx, "content-first"))
	require.Equal(t, "https://cdn.example/late-og.png", f.Fetch(ctx, "img-before-og"))
	require.Equal(t, "https://cdn.example/abs.gif", f.Fetch(ctx, "relative-img"))
	require.Equal(t, "", f.Fetch(ctx, "missing"))
}

func TestAvatarFetcher_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	f := NewAvatarFetcher(base, nil)
	require.Equal(t, "", f.Fetch(context.Background(), "bella-donna"))
}

func TestAvatarFetcher_ConcurrentLookups(t *testing.T) {
	const callers = 8
	var hits atomic.Int32
	release := make(chan struct{})
	f := profileServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.Write([]byte(`{"avatar_url":"https://cdn.example/a.png"}`))
	})

	var started, done sync.WaitGroup
	results := make([]string, callers)
	for i := range results {
		started.Add(1)
		done.Add(1)
		go func(i int) {
			defer done.Done()
			started.Done()
			results[i] = f.Fetch(context.Background(), "same")
		}(i)
	}
	started.Wait()
	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, time.Millisecond)
	// let the remaining callers join the in-flight lookup
	time.Sleep(50 * time.Millisecond)
	close(release)
	done.Wait()

	for _, r := range results {
		require.Equal(t, "https://cdn.example/a.png", r)
	}
	require.Equal(t, int32(1), hits.Load())
}
