// Package backend is the HTTP control-plane client: session creation,
// snapshot fetch and attachment upload.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/roginn/towd-you-so/internal/domain"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultMaxUpload = 10 << 20
	maxErrorBody     = 512
)

// Options tunes a Client. Zero values select defaults; a zero RateLimit
// disables client-side limiting.
type Options struct {
	HTTPClient     *http.Client
	Timeout        time.Duration
	RateLimit      float64
	RateBurst      int
	MaxUploadBytes int64
}

// Client talks to the backend's HTTP API rooted at baseURL.
type Client struct {
	baseURL   string
	http      *http.Client
	limiter   *rate.Limiter
	maxUpload int64
}

func New(baseURL string, opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}

	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}

	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      hc,
		maxUpload: maxUpload,
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c
}

type createSessionResponse struct {
	SessionID uuid.UUID `json:"session_id"`
}

// CreateSession mints a new session. Failures wrap domain.ErrSessionCreateFailed.
func (c *Client) CreateSession(ctx context.Context) (uuid.UUID, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/sessions", nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("backend.Client.CreateSession: %w: %w", domain.ErrSessionCreateFailed, err)
	}

	resp, err := c.do(req)
	if err != nil {
		return uuid.Nil, fmt.Errorf("backend.Client.CreateSession: %w: %w", domain.ErrSessionCreateFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return uuid.Nil, fmt.Errorf("backend.Client.CreateSession: %w: status %d: %s",
			domain.ErrSessionCreateFailed, resp.StatusCode, readErrorBody(resp.Body))
	}

	var out createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return uuid.Nil, fmt.Errorf("backend.Client.CreateSession: %w: decode: %w", domain.ErrSessionCreateFailed, err)
	}
	if out.SessionID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("backend.Client.CreateSession: %w: empty session_id", domain.ErrSessionCreateFailed)
	}

	log.Debug().Str("session_id", out.SessionID.String()).Msg("session created")
	return out.SessionID, nil
}

// ListEntries fetches the snapshot of a session's log. An empty or null body
// is an empty log; an unknown session wraps domain.ErrNotFound.
func (c *Client) ListEntries(ctx context.Context, sessionID uuid.UUID) ([]domain.Entry, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/sessions/"+sessionID.String()+"/entries", nil)
	if err != nil {
		return nil, fmt.Errorf("backend.Client.ListEntries: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("backend.Client.ListEntries: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("backend.Client.ListEntries: session %s: %w", sessionID, domain.ErrNotFound)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("backend.Client.ListEntries: status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("backend.Client.ListEntries: read: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	var entries []domain.Entry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("backend.Client.ListEntries: decode: %w", err)
	}
	return entries, nil
}

// Upload sends one file as the multipart field "file". Every failure is a
// *domain.UploadError.
func (c *Client) Upload(ctx context.Context, name string, r io.Reader) (domain.FileRef, error) {
	data, err := io.ReadAll(io.LimitReader(r, c.maxUpload+1))
	if err != nil {
		return domain.FileRef{}, &domain.UploadError{Reason: "reading file: " + err.Error()}
	}
	if int64(len(data)) > c.maxUpload {
		return domain.FileRef{}, &domain.UploadError{Reason: fmt.Sprintf("file exceeds %d bytes", c.maxUpload)}
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(name)))
	h.Set("Content-Type", contentType(name, data))

	part, err := mw.CreatePart(h)
	if err != nil {
		return domain.FileRef{}, &domain.UploadError{Reason: err.Error()}
	}
	if _, err := part.Write(data); err != nil {
		return domain.FileRef{}, &domain.UploadError{Reason: err.Error()}
	}
	if err := mw.Close(); err != nil {
		return domain.FileRef{}, &domain.UploadError{Reason: err.Error()}
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/upload", &body)
	if err != nil {
		return domain.FileRef{}, &domain.UploadError{Reason: err.Error()}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.do(req)
	if err != nil {
		return domain.FileRef{}, &domain.UploadError{Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return domain.FileRef{}, &domain.UploadError{Status: resp.StatusCode, Reason: readErrorBody(resp.Body)}
	}

	var ref domain.FileRef
	if err := json.NewDecoder(resp.Body).Decode(&ref); err != nil {
		return domain.FileRef{}, &domain.UploadError{Status: resp.StatusCode, Reason: "decode response: " + err.Error()}
	}
	if ref.FileID == "" {
		return domain.FileRef{}, &domain.UploadError{Status: resp.StatusCode, Reason: "response has no file_id"}
	}

	log.Debug().Str("file_id", ref.FileID).Int("bytes", len(data)).Msg("file uploaded")
	return ref, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}
	return c.http.Do(req)
}

// contentType prefers the extension and falls back to sniffing, so an image
// with an unusual name still uploads as an image.
func contentType(name string, data []byte) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}

// readErrorBody returns a short description of an error response. Problem
// documents contribute their detail field.
func readErrorBody(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return err.Error()
	}

	var problem struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(raw, &problem) == nil {
		switch {
		case problem.Detail != "":
			return problem.Detail
		case problem.Title != "":
			return problem.Title
		}
	}

	s := strings.TrimSpace(string(raw))
	if s == "" {
		return "empty response"
	}
	return s
}
