// Package render produces the calendar image locally with wkhtmltoimage,
// used as the last endpoint in the failover chain.
package render

import (
	"context"
	"html/template"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	wkhtmlBinary = "wkhtmltoimage"
	imageFormat  = "png"
	zoomFactor   = "3"
)

// NewWkhtml returns a renderer shelling out to wkhtmltoimage.
// Fails when the binary is not on PATH.
func NewWkhtml(tempDir string, data *DataProvider) (*Wkhtml, error) {
	path, err := exec.LookPath(wkhtmlBinary)
	if err != nil {
		return nil, errors.Wrapf(err, "%s not found on PATH", wkhtmlBinary)
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	if err := os.MkdirAll(tempDir, 0700); err != nil {
		return nil, errors.Wrap(err, "failed to create render temp dir")
	}
	log.Debugf("Using %s at %s", wkhtmlBinary, path)

	return &Wkhtml{
		binary:  path,
		tempDir: tempDir,
		data:    data,
	}, nil
}

// Wkhtml renders the calendar HTML template to a PNG via wkhtmltoimage
type Wkhtml struct {
	binary  string
	tempDir string
	data    *DataProvider
}

// swapped out in tests to render a fixed day
var nowLocal = time.Now

// Render produces today's calendar as a PNG
func (w *Wkhtml) Render(ctx context.Context) ([]byte, string, error) {
	html, err := w.fill()
	if err != nil {
		return nil, "", err
	}

	htmlFile, err := os.CreateTemp(w.tempDir, "moyu_*.html")
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to create temp html file")
	}
	defer os.Remove(htmlFile.Name())

	if _, err := htmlFile.WriteString(html); err != nil {
		htmlFile.Close()
		return nil, "", errors.Wrap(err, "failed to write temp html file")
	}
	htmlFile.Close()

	outFile := filepath.Join(w.tempDir, strings.TrimSuffix(filepath.Base(htmlFile.Name()), ".html")+"."+imageFormat)
	defer os.Remove(outFile)

	cmd := exec.CommandContext(ctx, w.binary,
		"--format", imageFormat,
		"--zoom", zoomFactor,
		"--quiet",
		"--enable-local-file-access",
		htmlFile.Name(), outFile,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, "", errors.Wrapf(err, "%s failed: %s", wkhtmlBinary, strings.TrimSpace(string(out)))
	}

	payload, err := os.ReadFile(outFile)
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to read rendered image")
	}
	log.Infof("Rendered calendar image locally (%d bytes)", len(payload))

	return payload, "image/png", nil
}

// fill executes the calendar template with today's data
func (w *Wkhtml) fill() (string, error) {
	tmpl, err := template.New("calendar").Parse(calendarTemplate)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse calendar template")
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, w.data.Generate(nowLocal())); err != nil {
		return "", errors.Wrap(err, "failed to fill calendar template")
	}

	return sb.String(), nil
}
