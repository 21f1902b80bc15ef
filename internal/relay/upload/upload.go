// Package upload forwards participant images to an external image host.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

var (
	ErrEmptyFile     = errors.New("file is empty")
	ErrTooLarge      = errors.New("file is too large")
	ErrNotImage      = errors.New("file is not an image")
	ErrNotConfigured = errors.New("image host is not configured")
	ErrUpstream      = errors.New("image host failed")
)

type Options struct {
	Endpoint string
	APIKey   string
	MaxBytes int64
	Timeout  time.Duration
}

// Relay speaks the imgbb-style API: multipart "image" plus a "key" query
// parameter, answering {"data":{"url":...}}.
type Relay struct {
	opts   Options
	client *http.Client
}

func NewRelay(opts Options, client *http.Client) *Relay {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 10 << 20
	}
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Relay{opts: opts, client: client}
}

func (r *Relay) MaxBytes() int64 { return r.opts.MaxBytes }

// Upload validates data and returns the hosted URL.
func (r *Relay) Upload(ctx context.Context, filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyFile
	}
	if int64(len(data)) > r.opts.MaxBytes {
		return "", fmt.Errorf("%w: %d bytes (limit is %d)", ErrTooLarge, len(data), r.opts.MaxBytes)
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", fmt.Errorf("%w: detected %s", ErrNotImage, mt.String())
	}
	if r.opts.Endpoint == "" || r.opts.APIKey == "" {
		return "", ErrNotConfigured
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if filename == "" {
		filename = "upload" + mt.Extension()
	}
	part, err := w.CreateFormFile("image", filename)
	if err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.opts.Endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	q := req.URL.Query()
	q.Set("key", r.opts.APIKey)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrUpstream, err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Warn().Str("module", "relay.upload").Int("status", resp.StatusCode).Msg("image host rejected upload")
		return "", fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var out struct {
		Data struct {
			URL        string `json:"url"`
			DisplayURL string `json:"display_url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUpstream, err)
	}
	url := out.Data.URL
	if url == "" {
		url = out.Data.DisplayURL
	}
	if url == "" {
		return "", fmt.Errorf("%w: response without url", ErrUpstream)
	}
	log.Info().Str("module", "relay.upload").Str("mime", mt.String()).Int("bytes", len(data)).Msg("image uploaded")
	return url, nil
}
