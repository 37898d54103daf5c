// Package cdn uploads media to an external object store that authenticates
// uploads with a public upload preset and account name sent as form fields.
package cdn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultBaseURL = "https://api.cloudinary.com/v1_1"

type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// UploadError reports a non-success response from the object store.
type UploadError struct {
	StatusCode int
	Body       string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed with status %d: %s", e.StatusCode, e.Body)
}

type Config struct {
	BaseURL      string
	CloudName    string
	UploadPreset string
	Timeout      time.Duration
}

type Uploader struct {
	baseURL      string
	cloudName    string
	uploadPreset string
	httpClient   *http.Client

	mu    sync.Mutex
	cache map[string]*inflight
}

type inflight struct {
	done chan struct{}
	url  string
	err  error
}

func NewUploader(config Config) (*Uploader, error) {
	if config.CloudName == "" || config.UploadPreset == "" {
		return nil, fmt.Errorf("cdn cloud name and upload preset are required")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	return &Uploader{
		baseURL:      config.BaseURL,
		cloudName:    config.CloudName,
		uploadPreset: config.UploadPreset,
		httpClient:   &http.Client{Timeout: config.Timeout},
		cache:        make(map[string]*inflight),
	}, nil
}

// Upload pushes one asset and returns its stable remote URL.
func (u *Uploader) Upload(ctx context.Context, data []byte, kind Kind) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "asset")
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write form file: %w", err)
	}
	if err := writer.WriteField("upload_preset", u.uploadPreset); err != nil {
		return "", fmt.Errorf("failed to write upload preset: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize form: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/%s/upload", u.baseURL, u.cloudName, kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read upload response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &UploadError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var parsed struct {
		SecureURL string `json:"secure_url"`
		URL       string `json:"url"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse upload response: %w", err)
	}

	remoteURL := parsed.SecureURL
	if remoteURL == "" {
		remoteURL = parsed.URL
	}
	if remoteURL == "" {
		return "", fmt.Errorf("upload response missing asset URL")
	}

	log.Debug().Str("kind", string(kind)).Int("bytes", len(data)).Str("url", remoteURL).Msg("asset uploaded")

	return remoteURL, nil
}

// UploadCached uploads the asset identified by localKey at most once for the
// lifetime of this Uploader. Concurrent callers for the same key share one
// network call; later callers get the cached remote URL. Failed uploads are
// not cached, so a retry attempts the network call again.
func (u *Uploader) UploadCached(ctx context.Context, localKey string, data []byte, kind Kind) (string, error) {
	u.mu.Lock()
	if entry, ok := u.cache[localKey]; ok {
		u.mu.Unlock()
		select {
		case <-entry.done:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return entry.url, entry.err
	}

	entry := &inflight{done: make(chan struct{})}
	u.cache[localKey] = entry
	u.mu.Unlock()

	entry.url, entry.err = u.Upload(ctx, data, kind)
	if entry.err != nil {
		u.mu.Lock()
		delete(u.cache, localKey)
		u.mu.Unlock()
	}
	close(entry.done)

	return entry.url, entry.err
}
