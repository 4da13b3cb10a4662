package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	apperrors "github.com/tesseract-ocr/tesseract-sub021/internal/errors"
)

const (
	maxDownloadRetries = 5
	initialBackoff     = time.Second
	maxBackoff         = 32 * time.Second
	downloadTimeout    = 10 * time.Minute
	defaultMaxFileSize = 512 << 20
)

// load reads src: inline bytes win, then URL, then path.
func (p *PageProcessor) load(ctx context.Context, jobID, what string, src Source) ([]byte, error) {
	switch {
	case len(src.Buffer) > 0:
		p.log.Debug("Using inline input", "job", jobID, "input", what, "bytes", len(src.Buffer))
		return src.Buffer, nil
	case src.URL != "":
		data, err := p.download(ctx, jobID, src.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to download %s: %w", what, err)
		}
		return data, nil
	case src.Path != "":
		data, err := os.ReadFile(src.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", what, err)
		}
		if int64(len(data)) > p.maxFileSize {
			return nil, fmt.Errorf("%s exceeds maximum size: %d > %d bytes", what, len(data), p.maxFileSize)
		}
		return data, nil
	}
	return nil, apperrors.NewUnsupportedInputError(jobID, "no "+what+" source provided (buffer, URL or path)")
}

// download fetches url with exponential backoff between attempts
func (p *PageProcessor) download(ctx context.Context, jobID, url string) ([]byte, error) {
	client := p.httpClient
	if client == nil {
		client = &http.Client{Timeout: downloadTimeout}
	}

	var lastErr error
	backoff := initialBackoff
	for attempt := 1; attempt <= maxDownloadRetries; attempt++ {
		data, err := p.fetch(ctx, client, url)
		if err == nil {
			p.log.Info("Download complete", "job", jobID, "url", url, "bytes", len(data), "attempt", attempt)
			return data, nil
		}
		lastErr = err
		p.log.Warn("Download attempt failed", "job", jobID, "url", url, "attempt", attempt, "error", err)

		if attempt == maxDownloadRetries {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled during retry backoff: %w", ctx.Err())
		}
		backoff = min(backoff*2, maxBackoff)
	}
	return nil, fmt.Errorf("failed after %d attempts: %w", maxDownloadRetries, lastErr)
}

func (p *PageProcessor) fetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	if resp.ContentLength > p.maxFileSize {
		return nil, fmt.Errorf("file size exceeds maximum: %d > %d bytes", resp.ContentLength, p.maxFileSize)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxFileSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > p.maxFileSize {
		return nil, fmt.Errorf("file size exceeds maximum: more than %d bytes", p.maxFileSize)
	}
	return data, nil
}

// detectImageType names the format from magic bytes, or "" when unknown
func detectImageType(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	switch {
	case bytes.HasPrefix(data, []byte("%PDF")):
		return "application/pdf"
	case len(data) >= 8 && bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}):
		return "image/png"
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")):
		return "image/gif"
	case len(data) > 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP":
		return "image/webp"
	case bytes.HasPrefix(data, []byte{0x49, 0x49, 0x2A, 0x00}) || bytes.HasPrefix(data, []byte{0x4D, 0x4D, 0x00, 0x2A}):
		return "image/tiff"
	case bytes.HasPrefix(data, []byte("BM")):
		return "image/bmp"
	}
	return ""
}

// decodeImage decodes a page image. PDFs and unknown formats are rejected
// as unsupported input; rasterising is someone else's job.
func decodeImage(jobID string, data []byte) (image.Image, error) {
	kind := detectImageType(data)
	switch kind {
	case "":
		return nil, apperrors.NewUnsupportedInputError(jobID, "unrecognised image format")
	case "application/pdf":
		return nil, apperrors.NewUnsupportedInputError(jobID, "PDF input must be rasterised first")
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", kind, err)
	}
	return img, nil
}
