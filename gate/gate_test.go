package gate

import (
	"bytes"
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moyuren/calendar/cache"
	"github.com/moyuren/calendar/fetch"
)

var pngPayload = bytes.Repeat([]byte{0x89}, 2048)

type fakeFetcher struct {
	calls   int32
	result  fetch.Result
	entered chan struct{}
	release chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, endpoints []fetch.Endpoint) fetch.Result {
	atomic.AddInt32(&f.calls, 1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return f.result
}

func successResult() fetch.Result {
	return fetch.Result{
		Success:     true,
		Payload:     pngPayload,
		ContentType: "image/png",
		Source:      "52vmy",
	}
}

func failureResult() fetch.Result {
	return fetch.Result{
		Attempts: []fetch.Attempt{
			{Endpoint: "52vmy", Outcome: fetch.OutcomeTimeout, Err: errors.New("deadline exceeded")},
			{Endpoint: "monkeyray", Outcome: fetch.OutcomeTransportError, Err: errors.New("connection refused")},
		},
	}
}

func newTestGate(t *testing.T, f Fetcher) (*Gate, *cache.Store) {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	require.NoError(t, err)
	reg := fetch.NewRegistry([]fetch.Endpoint{
		{ID: "52vmy", Kind: fetch.KindRemote, URL: "http://example.invalid", Timeout: time.Second},
	})
	return New(store, f, reg), store
}

func TestFreshCacheHitSkipsFetcher(t *testing.T) {
	assert := assert.New(t)
	f := &fakeFetcher{result: successResult()}
	g, store := newTestGate(t, f)

	today := DateKey(time.Now())
	_, err := store.Put(today, "52vmy", pngPayload, "image/png")
	require.NoError(t, err)

	payload, contentType, err := g.Obtain(context.Background(), today, false)
	require.NoError(t, err)
	assert.Equal(pngPayload, payload)
	assert.Equal("image/png", contentType)
	assert.Equal(int32(0), atomic.LoadInt32(&f.calls))
}

func TestForceAlwaysFetches(t *testing.T) {
	assert := assert.New(t)
	f := &fakeFetcher{result: successResult()}
	g, store := newTestGate(t, f)

	today := DateKey(time.Now())
	_, err := store.Put(today, "52vmy", bytes.Repeat([]byte{0x01}, 2048), "image/jpeg")
	require.NoError(t, err)

	payload, contentType, err := g.Obtain(context.Background(), today, true)
	require.NoError(t, err)
	assert.Equal(pngPayload, payload)
	assert.Equal("image/png", contentType)
	assert.Equal(int32(1), atomic.LoadInt32(&f.calls))
}

func TestStaleFallbackOnTotalFailure(t *testing.T) {
	assert := assert.New(t)
	f := &fakeFetcher{result: failureResult()}
	g, store := newTestGate(t, f)

	// an image cached under a prior day's key
	_, err := store.Put("2024-01-01", "52vmy", pngPayload, "image/png")
	require.NoError(t, err)

	// pretend it is two days later
	g.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	today := DateKey(g.now())

	payload, contentType, err := g.Obtain(context.Background(), today, false)
	require.NoError(t, err)
	assert.Equal(pngPayload, payload)
	assert.Equal("image/png", contentType)
	assert.Equal(int32(1), atomic.LoadInt32(&f.calls))
}

func TestExhaustedWithoutAnyCache(t *testing.T) {
	assert := assert.New(t)
	f := &fakeFetcher{result: failureResult()}
	g, _ := newTestGate(t, f)

	_, _, err := g.Obtain(context.Background(), DateKey(time.Now()), false)
	require.Error(t, err)

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	require.Len(t, exhausted.Attempts, 2)
	assert.Equal("52vmy", exhausted.Attempts[0].Endpoint)
	assert.Equal("monkeyray", exhausted.Attempts[1].Endpoint)
	assert.Contains(err.Error(), "timeout")
}

func TestYesterdaysEntryIsNotFresh(t *testing.T) {
	f := &fakeFetcher{result: successResult()}
	g, store := newTestGate(t, f)

	_, err := store.Put(DateKey(time.Now()), "52vmy", bytes.Repeat([]byte{0x01}, 2048), "image/jpeg")
	require.NoError(t, err)

	// the same key requested a day later must trigger a fresh fetch
	g.now = func() time.Time { return time.Now().Add(24 * time.Hour) }

	payload, _, err := g.Obtain(context.Background(), DateKey(time.Now()), false)
	require.NoError(t, err)
	assert.Equal(t, pngPayload, payload)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.calls))
}

func TestConcurrentObtainsCoalesce(t *testing.T) {
	const callers = 8

	f := &fakeFetcher{
		result:  successResult(),
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	g, _ := newTestGate(t, f)

	var wg sync.WaitGroup
	results := make([][]byte, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload, _, err := g.Obtain(context.Background(), "2024-01-01", false)
			assert.NoError(t, err)
			results[i] = payload
		}(i)
	}

	// wait for the winning flight to be inside the fetcher, then let it finish
	<-f.entered
	close(f.release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&f.calls))
	for _, payload := range results {
		assert.Equal(t, pngPayload, payload)
	}
}

// ctxFetcher fails when the context it was handed is already cancelled
type ctxFetcher struct {
	entered chan struct{}
	release chan struct{}
}

func (f *ctxFetcher) Fetch(ctx context.Context, endpoints []fetch.Endpoint) fetch.Result {
	f.entered <- struct{}{}
	<-f.release
	if ctx.Err() != nil {
		return fetch.Result{
			Attempts: []fetch.Attempt{
				{Endpoint: "52vmy", Outcome: fetch.OutcomeTransportError, Err: ctx.Err()},
			},
		}
	}
	return successResult()
}

// A caller that goes away mid-fetch must not abort the fetch for the
// waiters coalesced into the same flight
func TestWaitersSurviveInitiatorCancel(t *testing.T) {
	f := &ctxFetcher{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	g, _ := newTestGate(t, f)

	initiatorCtx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		g.Obtain(initiatorCtx, "2024-01-01", false)
	}()
	<-f.entered

	var payload []byte
	var obtainErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		payload, _, obtainErr = g.Obtain(context.Background(), "2024-01-01", false)
	}()

	// let the waiter join the flight, then kill the initiator
	time.Sleep(50 * time.Millisecond)
	cancel()
	close(f.release)

	<-done
	wg.Wait()
	require.NoError(t, obtainErr)
	assert.Equal(t, pngPayload, payload)
}

// Only the flight that actually fetches counts a miss, coalesced waiters
// and the in-flight cache double-check do not
func TestCacheMissCountedOncePerCoalescedFetch(t *testing.T) {
	var misses int32
	orig := incCacheMiss
	incCacheMiss = func() { atomic.AddInt32(&misses, 1) }
	defer func() { incCacheMiss = orig }()

	f := &fakeFetcher{
		result:  successResult(),
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	g, _ := newTestGate(t, f)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := g.Obtain(context.Background(), "2024-01-01", false)
			assert.NoError(t, err)
		}()
	}

	<-f.entered
	close(f.release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&misses))
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.calls))
}

func TestCacheWriteFailureStillReturnsImage(t *testing.T) {
	f := &fakeFetcher{result: successResult()}
	dir := t.TempDir()
	store, err := cache.NewStore(dir)
	require.NoError(t, err)
	reg := fetch.NewRegistry(nil)
	g := New(store, f, reg)

	// make every cache write fail
	require.NoError(t, os.RemoveAll(dir))

	payload, _, err := g.Obtain(context.Background(), "2024-01-01", false)
	require.NoError(t, err)
	assert.Equal(t, pngPayload, payload)
}
