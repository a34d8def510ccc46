// Package notify pushes calendar images to the messaging host.
package notify

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const sendTimeout = 30 * time.Second

// NewWebhook returns a Webhook posting images to the given URL.
// url may be empty, sends then become no-ops.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:  url,
		http: &http.Client{Timeout: sendTimeout},
	}
}

// Webhook delivers images to the messaging host over a plain HTTP POST.
// The host routes the image to the target conversation via the X-Target
// header. Delivery failures are reported to the caller, never retried here.
type Webhook struct {
	url  string
	http *http.Client
}

// SendImage posts the image payload for the given target
func (w *Webhook) SendImage(ctx context.Context, target string, payload []byte, contentType string) error {
	if w.url == "" {
		log.Debugf("No webhook configured, dropping image for %s", target)
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "failed to build webhook request")
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Target", target)

	resp, err := w.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "webhook request failed")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("webhook answered %d", resp.StatusCode)
	}
	log.Infof("Sent calendar image to %s", target)

	return nil
}
