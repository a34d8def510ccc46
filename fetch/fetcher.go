package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/moyuren/calendar/metrics"
)

// Bodies below this size are rejected, calendar images are well above 1KB
const minImageSize = 1000

const (
	userAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	acceptHeader = "image/jpeg,image/png,image/webp,image/*,application/json,*/*"
)

// Renderer produces a calendar image locally instead of fetching one
type Renderer interface {
	Render(ctx context.Context) (payload []byte, contentType string, err error)
}

// NewFetcher returns a Fetcher using the provided renderer for render
// endpoints. renderer may be nil, render endpoints then fail over.
func NewFetcher(renderer Renderer) *Fetcher {
	return &Fetcher{
		http:     &http.Client{},
		renderer: renderer,
	}
}

// Fetcher acquires a calendar image by trying endpoints in registry order
type Fetcher struct {
	http     *http.Client
	renderer Renderer
}

// Fetch tries each endpoint in order until one yields a valid image.
// The first success wins, later endpoints are not tried. When every endpoint
// fails the Result carries the ordered per-endpoint reasons.
func (f *Fetcher) Fetch(ctx context.Context, endpoints []Endpoint) Result {
	res := Result{}
	for _, ep := range endpoints {
		payload, contentType, outcome, err := f.attempt(ctx, ep)
		metrics.ObserveFetch(ep.ID, string(outcome))
		if err == nil {
			log.Infof("Fetched calendar image from %s (%d bytes, %s)", ep.ID, len(payload), contentType)
			res.Success = true
			res.Payload = payload
			res.ContentType = contentType
			res.Source = ep.ID
			return res
		}
		log.Warnf("Endpoint %s failed (%s): %s", ep.ID, outcome, err)
		res.Attempts = append(res.Attempts, Attempt{
			Endpoint: ep.ID,
			Outcome:  outcome,
			Err:      err,
		})
	}

	return res
}

// attempt acquires an image from a single endpoint within its timeout
func (f *Fetcher) attempt(ctx context.Context, ep Endpoint) ([]byte, string, Outcome, error) {
	actx := ctx
	if ep.Timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, ep.Timeout)
		defer cancel()
	}

	if ep.Kind == KindRender {
		return f.render(actx, ep)
	}
	return f.remote(actx, ep)
}

func (f *Fetcher) render(ctx context.Context, ep Endpoint) ([]byte, string, Outcome, error) {
	if f.renderer == nil {
		return nil, "", OutcomeRenderFailure, errors.New("no renderer configured")
	}
	payload, contentType, err := f.renderer.Render(ctx)
	if err != nil {
		return nil, "", renderOutcome(err), errors.Wrap(err, "render failed")
	}
	if len(payload) == 0 {
		return nil, "", OutcomeRenderFailure, errors.New("renderer returned an empty image")
	}

	return payload, contentType, OutcomeSuccess, nil
}

// remote downloads the image over HTTP. Some endpoints answer with a JSON
// document {"date": ..., "image": "https://..."} instead of raw image bytes,
// the referenced URL is then followed within the same attempt budget.
func (f *Fetcher) remote(ctx context.Context, ep Endpoint) ([]byte, string, Outcome, error) {
	body, contentType, outcome, err := f.get(ctx, ep.URL)
	if err != nil {
		return nil, "", outcome, err
	}

	if isJSON(contentType, body) {
		imageURL, err := imageURLFromAPI(body)
		if err != nil {
			return nil, "", OutcomeInvalidPayload, err
		}
		body, contentType, outcome, err = f.get(ctx, imageURL)
		if err != nil {
			return nil, "", outcome, err
		}
	}

	return validateImage(body, contentType)
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, string, Outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", OutcomeTransportError, errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, "", timeoutOr(err, OutcomeTransportError), errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", OutcomeTransportError, errors.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", timeoutOr(err, OutcomeTransportError), errors.Wrap(err, "failed to read body")
	}

	return body, resp.Header.Get("Content-Type"), OutcomeSuccess, nil
}

func validateImage(body []byte, contentType string) ([]byte, string, Outcome, error) {
	if len(body) < minImageSize {
		return nil, "", OutcomeInvalidPayload, errors.Errorf("body too small to be an image: %d bytes", len(body))
	}
	if !strings.HasPrefix(contentType, "image/") {
		contentType = http.DetectContentType(body)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", OutcomeInvalidPayload, errors.Errorf("body is not an image: %s", contentType)
	}

	return body, contentType, OutcomeSuccess, nil
}

// imageURLFromAPI extracts the image URL from a JSON API response
func imageURLFromAPI(body []byte) (string, error) {
	var doc struct {
		Date  string `json:"date"`
		Image string `json:"image"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", errors.Wrap(err, "failed to parse API response")
	}
	if !strings.HasPrefix(doc.Image, "http://") && !strings.HasPrefix(doc.Image, "https://") {
		return "", errors.Errorf("API response has no usable image URL: %q", doc.Image)
	}

	return doc.Image, nil
}

func isJSON(contentType string, body []byte) bool {
	if strings.Contains(contentType, "json") {
		return true
	}
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func timeoutOr(err error, fallback Outcome) Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return OutcomeTimeout
	}

	return fallback
}

func renderOutcome(err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTimeout
	}

	return OutcomeRenderFailure
}
