package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngPayload = bytes.Repeat([]byte{0x89}, 2048)

// imageServer returns an httptest server serving a valid image and a hit counter
func imageServer(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngPayload)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

// failingServer returns an httptest server answering with the given status
func failingServer(t *testing.T, status int) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func remote(id, url string) Endpoint {
	return Endpoint{ID: id, Kind: KindRemote, URL: url, Timeout: 5 * time.Second}
}

func TestFirstEndpointWins(t *testing.T) {
	assert := assert.New(t)
	first, firstHits := imageServer(t)
	second, secondHits := imageServer(t)

	f := NewFetcher(nil)
	res := f.Fetch(context.Background(), []Endpoint{
		remote("first", first.URL),
		remote("second", second.URL),
	})

	require.True(t, res.Success)
	assert.Equal("first", res.Source)
	assert.Equal(pngPayload, res.Payload)
	assert.Equal("image/png", res.ContentType)
	assert.Empty(res.Attempts)
	assert.Equal(int32(1), atomic.LoadInt32(firstHits))
	assert.Equal(int32(0), atomic.LoadInt32(secondHits))
}

func TestFailoverReachesLaterEndpoint(t *testing.T) {
	assert := assert.New(t)
	bad1, _ := failingServer(t, http.StatusInternalServerError)
	bad2, _ := failingServer(t, http.StatusNotFound)
	good, _ := imageServer(t)

	f := NewFetcher(nil)
	res := f.Fetch(context.Background(), []Endpoint{
		remote("bad1", bad1.URL),
		remote("bad2", bad2.URL),
		remote("good", good.URL),
	})

	require.True(t, res.Success)
	assert.Equal("good", res.Source)
	require.Len(t, res.Attempts, 2)
	assert.Equal("bad1", res.Attempts[0].Endpoint)
	assert.Equal("bad2", res.Attempts[1].Endpoint)
	assert.Equal(OutcomeTransportError, res.Attempts[0].Outcome)
	assert.Equal(OutcomeTransportError, res.Attempts[1].Outcome)
}

func TestAllEndpointsFail(t *testing.T) {
	assert := assert.New(t)
	bad, _ := failingServer(t, http.StatusBadGateway)
	small := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("tiny"))
	}))
	defer small.Close()

	f := NewFetcher(nil)
	res := f.Fetch(context.Background(), []Endpoint{
		remote("bad", bad.URL),
		remote("small", small.URL),
	})

	assert.False(res.Success)
	require.Len(t, res.Attempts, 2)
	assert.Equal(OutcomeTransportError, res.Attempts[0].Outcome)
	assert.Equal(OutcomeInvalidPayload, res.Attempts[1].Outcome)
}

func TestTimeoutClassification(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer slow.Close()

	f := NewFetcher(nil)
	res := f.Fetch(context.Background(), []Endpoint{
		{ID: "slow", Kind: KindRemote, URL: slow.URL, Timeout: 50 * time.Millisecond},
	})

	assert.False(t, res.Success)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, OutcomeTimeout, res.Attempts[0].Outcome)
}

func TestNonImagePayloadRejected(t *testing.T) {
	html := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html>")
		w.Write(bytes.Repeat([]byte("a"), 2048))
	}))
	defer html.Close()

	f := NewFetcher(nil)
	res := f.Fetch(context.Background(), []Endpoint{remote("html", html.URL)})

	assert.False(t, res.Success)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, OutcomeInvalidPayload, res.Attempts[0].Outcome)
}

func TestJSONAPIIndirection(t *testing.T) {
	assert := assert.New(t)
	img, imgHits := imageServer(t)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"date": "2024-01-01", "image": %q}`, img.URL)
	}))
	defer api.Close()

	f := NewFetcher(nil)
	res := f.Fetch(context.Background(), []Endpoint{remote("api", api.URL)})

	require.True(t, res.Success)
	assert.Equal("api", res.Source)
	assert.Equal(pngPayload, res.Payload)
	assert.Equal(int32(1), atomic.LoadInt32(imgHits))
}

func TestJSONAPIMissingImageURL(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"date": "2024-01-01"}`)
	}))
	defer api.Close()

	f := NewFetcher(nil)
	res := f.Fetch(context.Background(), []Endpoint{remote("api", api.URL)})

	assert.False(t, res.Success)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, OutcomeInvalidPayload, res.Attempts[0].Outcome)
}

type fakeRenderer struct {
	payload []byte
	err     error
	calls   int32
}

func (r *fakeRenderer) Render(ctx context.Context) ([]byte, string, error) {
	atomic.AddInt32(&r.calls, 1)
	if r.err != nil {
		return nil, "", r.err
	}
	return r.payload, "image/png", nil
}

func TestRenderEndpoint(t *testing.T) {
	assert := assert.New(t)
	r := &fakeRenderer{payload: pngPayload}

	f := NewFetcher(r)
	res := f.Fetch(context.Background(), []Endpoint{
		{ID: "local", Kind: KindRender, Timeout: time.Second},
	})

	require.True(t, res.Success)
	assert.Equal("local", res.Source)
	assert.Equal(pngPayload, res.Payload)
	assert.Equal(int32(1), atomic.LoadInt32(&r.calls))
}

func TestRenderFailureFailsOver(t *testing.T) {
	assert := assert.New(t)
	good, _ := imageServer(t)
	r := &fakeRenderer{err: errors.New("wkhtmltoimage exploded")}

	f := NewFetcher(r)
	res := f.Fetch(context.Background(), []Endpoint{
		{ID: "local", Kind: KindRender, Timeout: time.Second},
		remote("good", good.URL),
	})

	require.True(t, res.Success)
	assert.Equal("good", res.Source)
	require.Len(t, res.Attempts, 1)
	assert.Equal(OutcomeRenderFailure, res.Attempts[0].Outcome)
}

func TestRenderWithoutRenderer(t *testing.T) {
	f := NewFetcher(nil)
	res := f.Fetch(context.Background(), []Endpoint{
		{ID: "local", Kind: KindRender, Timeout: time.Second},
	})

	assert.False(t, res.Success)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, OutcomeRenderFailure, res.Attempts[0].Outcome)
}

func TestRegistrySnapshotIsImmutable(t *testing.T) {
	assert := assert.New(t)
	reg := NewRegistry([]Endpoint{remote("a", "http://a"), remote("b", "http://b")})

	snap := reg.Snapshot()
	reg.Replace([]Endpoint{remote("c", "http://c")})

	require.Len(t, snap, 2)
	assert.Equal("a", snap[0].ID)
	assert.Equal("b", snap[1].ID)

	next := reg.Snapshot()
	require.Len(t, next, 1)
	assert.Equal("c", next[0].ID)
}
