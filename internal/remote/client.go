package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bookplayer/internal/config"
	"bookplayer/internal/library"
)

const userAgent = "BookPlayer-Go/0.1.0"

// TokenSource supplies the bearer token attached to every request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// HTTPDoer abstracts http.Client.Do for testing.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client talks to the remote sync API. Every mutation is idempotent keyed by
// relative path, so replaying an already-applied request is a no-op on the
// remote side.
type Client struct {
	baseURL string
	http    HTTPDoer
	tokens  TokenSource
}

// ClientOption configures optional Client collaborators.
type ClientOption func(*Client)

// WithHTTPDoer substitutes the HTTP backend, for tests.
func WithHTTPDoer(doer HTTPDoer) ClientOption {
	return func(c *Client) { c.http = doer }
}

// NewClient builds a sync API client from configuration.
func NewClient(cfg *config.Config, tokens TokenSource, opts ...ClientOption) *Client {
	timeout := time.Duration(cfg.API.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := &Client{
		baseURL: strings.TrimRight(cfg.API.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type itemPayload struct {
	RelativePath     string  `json:"relativePath"`
	Type             string  `json:"type"`
	Title            string  `json:"title"`
	OriginalFileName string  `json:"originalFileName"`
	OrderRank        int     `json:"orderRank"`
	Duration         float64 `json:"duration"`
	CurrentTime      float64 `json:"currentTime"`
	PercentCompleted float64 `json:"percentCompleted"`
	IsFinished       bool    `json:"isFinished"`
}

// UploadItem registers an item's metadata and ships its file bytes. Folders
// and bound volumes carry no bytes; pass a nil body for those.
func (c *Client) UploadItem(ctx context.Context, item library.Item, body io.Reader) error {
	payload := itemPayload{
		RelativePath:     item.RelativePath,
		Type:             string(item.Kind),
		Title:            item.Title,
		OriginalFileName: item.OriginalFileName,
		OrderRank:        item.OrderRank,
		Duration:         item.Duration,
		CurrentTime:      item.CurrentTime,
		PercentCompleted: item.PercentCompleted,
		IsFinished:       item.IsFinished,
	}
	if err := c.doJSON(ctx, http.MethodPut, "/library/"+escapePath(item.RelativePath), payload, nil); err != nil {
		return Wrap(classify(err), "upload", item.RelativePath, err)
	}
	if body == nil {
		return nil
	}
	if err := c.doUpload(ctx, "/storage/"+escapePath(item.RelativePath), body); err != nil {
		return Wrap(classify(err), "upload bytes", item.RelativePath, err)
	}
	return nil
}

// UpdateItem applies a metadata patch (playback position, finished flag).
func (c *Client) UpdateItem(ctx context.Context, relativePath string, fields map[string]string) error {
	if err := c.doJSON(ctx, http.MethodPatch, "/library/"+escapePath(relativePath), fields, nil); err != nil {
		return Wrap(classify(err), "update", relativePath, err)
	}
	return nil
}

// MoveItem relocates an item from origin to destination.
func (c *Client) MoveItem(ctx context.Context, origin, destination string) error {
	payload := map[string]string{"origin": origin, "destination": destination}
	if err := c.doJSON(ctx, http.MethodPost, "/library/move", payload, nil); err != nil {
		return Wrap(classify(err), "move", origin, err)
	}
	return nil
}

// RenameFolder retitles a folder and rekeys its subtree remotely.
func (c *Client) RenameFolder(ctx context.Context, relativePath, newTitle, newPath string) error {
	payload := map[string]string{"newTitle": newTitle, "newPath": newPath}
	if err := c.doJSON(ctx, http.MethodPost, "/library/"+escapePath(relativePath)+"/rename", payload, nil); err != nil {
		return Wrap(classify(err), "rename", relativePath, err)
	}
	return nil
}

// DeleteItem removes an item remotely. Shallow deletes re-parent the folder's
// children on the remote side, mirroring the local operation.
func (c *Client) DeleteItem(ctx context.Context, relativePath string, shallow bool) error {
	path := "/library/" + escapePath(relativePath)
	if shallow {
		path += "?mode=shallow"
	}
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return Wrap(classify(err), "delete", relativePath, err)
	}
	return nil
}

// SetBookmark stores a bookmark for an item.
func (c *Client) SetBookmark(ctx context.Context, relativePath string, t float64, note string) error {
	payload := map[string]any{"time": t, "note": note}
	if err := c.doJSON(ctx, http.MethodPut, "/library/"+escapePath(relativePath)+"/bookmark", payload, nil); err != nil {
		return Wrap(classify(err), "set bookmark", relativePath, err)
	}
	return nil
}

// DeleteBookmark removes a bookmark.
func (c *Client) DeleteBookmark(ctx context.Context, relativePath string, t float64) error {
	payload := map[string]any{"time": t}
	if err := c.doJSON(ctx, http.MethodPost, "/library/"+escapePath(relativePath)+"/bookmark/delete", payload, nil); err != nil {
		return Wrap(classify(err), "delete bookmark", relativePath, err)
	}
	return nil
}

// UploadArtwork ships cover art bytes for an item.
func (c *Client) UploadArtwork(ctx context.Context, relativePath string, body io.Reader) error {
	if err := c.doUpload(ctx, "/artwork/"+escapePath(relativePath), body); err != nil {
		return Wrap(classify(err), "upload artwork", relativePath, err)
	}
	return nil
}

// FetchSnapshot returns the canonical remote listing of the whole library.
func (c *Client) FetchSnapshot(ctx context.Context) ([]library.Item, error) {
	var payload struct {
		Items []itemPayload `json:"items"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/library", nil, &payload); err != nil {
		return nil, Wrap(classify(err), "fetch snapshot", "", err)
	}

	items := make([]library.Item, 0, len(payload.Items))
	for _, entry := range payload.Items {
		items = append(items, library.Item{
			RelativePath:     entry.RelativePath,
			Kind:             library.Kind(entry.Type),
			Title:            entry.Title,
			OriginalFileName: entry.OriginalFileName,
			OrderRank:        entry.OrderRank,
			Duration:         entry.Duration,
			CurrentTime:      entry.CurrentTime,
			PercentCompleted: entry.PercentCompleted,
			IsFinished:       entry.IsFinished,
		})
	}
	return items, nil
}

// Download streams an item's audio bytes into dst, reporting progress in
// [0, 1] when the response carries a length. A failed download leaves dst
// partially written; callers download into a scratch file and move on success.
func (c *Client) Download(ctx context.Context, relativePath string, dst io.Writer, progress func(float64)) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/storage/"+escapePath(relativePath), nil)
	if err != nil {
		return Wrap(ErrPermanent, "download", relativePath, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Wrap(ErrTransient, "download", relativePath, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Wrap(classifyStatus(resp.StatusCode), "download", relativePath, statusError(resp))
	}

	total := resp.ContentLength
	var written int64
	buf := make([]byte, 128*1024)
	for {
		if err := ctx.Err(); err != nil {
			return Wrap(ErrTransient, "download", relativePath, err)
		}
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return Wrap(ErrPermanent, "download", relativePath, writeErr)
			}
			written += int64(n)
			if progress != nil && total > 0 {
				progress(float64(written) / float64(total))
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return Wrap(ErrTransient, "download", relativePath, readErr)
		}
	}
	if progress != nil {
		progress(1)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: resolve token: %w", ErrUnauthorized, err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) doUpload(ctx context.Context, path string, body io.Reader) error {
	req, err := c.newRequest(ctx, http.MethodPut, path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return statusError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// httpStatusError keeps the status code attached so classify can map it after
// the response body is gone.
type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("remote returned %d", e.status)
	}
	return fmt.Sprintf("remote returned %d: %s", e.status, e.body)
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &httpStatusError{status: resp.StatusCode, body: strings.TrimSpace(string(body))}
}

// classify maps a raw request error to the sentinel marker Wrap should tag it
// with.
func classify(err error) error {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return classifyStatus(statusErr.status)
	}
	if errors.Is(err, ErrUnauthorized) {
		return ErrUnauthorized
	}
	return ErrTransient
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrUnauthorized
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return ErrTransient
	case status >= 500:
		return ErrTransient
	case status >= 400:
		return ErrValidation
	default:
		return ErrTransient
	}
}

func escapePath(relativePath string) string {
	segments := strings.Split(relativePath, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}
