// Package predict talks to the remote palm prediction service.
package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/ayusman/palmreader/internal/httpc"
	"github.com/ayusman/palmreader/internal/log"
	"github.com/ayusman/palmreader/internal/metrics"
)

// FallbackMessage is shown to the user whenever a prediction fails.
const FallbackMessage = "Failed to get prediction."

const (
	// DefaultBaseURL is where the prediction service listens by default.
	DefaultBaseURL = "http://127.0.0.1:8000"

	predictPath = "/predict"
	formField   = "file"
	formFile    = "hand.jpg"

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 32 << 20
)

// ErrAPI is returned for any failed prediction exchange. The cause is
// kept in the chain for logs but is not otherwise classified.
var ErrAPI = errors.New("prediction request failed")

// Prediction is the result of one reading.
type Prediction struct {
	Text     string `json:"prediction"`
	Summary  string `json:"summary,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// response mirrors the predictor's JSON body.
type response struct {
	Prediction *string `json:"prediction"`
	Summary    string  `json:"summary"`
	ImagePath  string  `json:"image_path"`
}

// Client submits JPEG stills to the predictor.
type Client struct {
	base     string
	http     *http.Client
	resolver Resolver
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithResolver sets how image paths become URLs.
func WithResolver(r Resolver) Option {
	return func(c *Client) { c.resolver = r }
}

// NewClient returns a client for the predictor at base.
func NewClient(base string, opts ...Option) *Client {
	if base == "" {
		base = DefaultBaseURL
	}
	c := &Client{
		base:     strings.TrimSuffix(base, "/"),
		http:     httpc.NewClient(httpc.DefaultTimeout),
		resolver: HostResolver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the predictor base URL.
func (c *Client) BaseURL() string {
	return c.base
}

// Submit posts jpeg as the multipart field "file" and returns the
// prediction with its image path resolved to an absolute URL.
func (c *Client) Submit(ctx context.Context, jpeg []byte) (pred *Prediction, err error) {
	start := time.Now()
	defer func() {
		metrics.PredictRequest(time.Since(start).Seconds(), err)
	}()

	body, contentType, err := encodeForm(jpeg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAPI, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+predictPath, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAPI, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAPI, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrAPI, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Debug(log.Fields{"status": resp.StatusCode, "body": truncate(data, 200)}, "predictor returned error status")
		return nil, fmt.Errorf("%w: status %d", ErrAPI, resp.StatusCode)
	}

	var r response
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrAPI, err)
	}
	if r.Prediction == nil {
		return nil, fmt.Errorf("%w: response has no prediction", ErrAPI)
	}

	return &Prediction{
		Text:     *r.Prediction,
		Summary:  r.Summary,
		ImageURL: c.resolver.Resolve(c.base, r.ImagePath),
	}, nil
}

// FetchImage downloads the annotated image at url.
func (c *Client) FetchImage(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAPI, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAPI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: image status %d", ErrAPI, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading image: %v", ErrAPI, err)
	}
	return data, nil
}

func encodeForm(jpeg []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, formField, formFile))
	h.Set("Content-Type", "image/jpeg")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(jpeg); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
