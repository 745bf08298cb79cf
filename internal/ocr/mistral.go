package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/local/ocrmd/internal/filetype"
	mpkg "github.com/local/ocrmd/internal/metrics"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMistralURL   = "https://api.mistral.ai"
	DefaultMistralModel = "mistral-ocr-latest"
	mistralEngine       = "mistral"
	maxErrorBody        = 4 << 10
)

// MistralOptions configures the Mistral OCR client.
type MistralOptions struct {
	APIKey        string
	BaseURL       string
	Model         string
	Timeout       time.Duration // per HTTP request
	MaxAttempts   int
	BaseDelay     time.Duration
	Jitter        time.Duration
	BackoffFactor float64
	HTTPClient    *http.Client
}

// Mistral uploads a document, obtains a signed URL for it and runs OCR on
// that URL with embedded images requested.
type Mistral struct {
	http    *http.Client
	apiKey  string
	baseURL string
	model   string
	timeout time.Duration

	maxAttempts int
	baseDelay   time.Duration
	jitter      time.Duration
	factor      float64
}

func NewMistral(opts MistralOptions) (*Mistral, error) {
	if opts.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultMistralURL
	}
	if opts.Model == "" {
		opts.Model = DefaultMistralModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.BackoffFactor < 1 {
		opts.BackoffFactor = 1
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	return &Mistral{
		http:        opts.HTTPClient,
		apiKey:      opts.APIKey,
		baseURL:     opts.BaseURL,
		model:       opts.Model,
		timeout:     opts.Timeout,
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		jitter:      opts.Jitter,
		factor:      opts.BackoffFactor,
	}, nil
}

func (c *Mistral) Name() string { return mistralEngine }

// RawResponse is the OCR response body exactly as received.
type RawResponse []byte

// ModelDump decodes the body into a plain mapping. Numbers are kept as
// json.Number so the snapshot reproduces them exactly.
func (r RawResponse) ModelDump() (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(r))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode OCR response: %w", err)
	}
	if m == nil {
		return nil, errors.New("OCR response is null")
	}
	return m, nil
}

type uploadResponse struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Purpose  string `json:"purpose"`
}

type signedURLResponse struct {
	URL string `json:"url"`
}

type ocrDocument struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

type ocrRequest struct {
	Model              string      `json:"model"`
	Document           ocrDocument `json:"document"`
	IncludeImageBase64 bool        `json:"include_image_base64"`
}

func (c *Mistral) Process(ctx context.Context, data []byte, filename string) (any, error) {
	info := filetype.DetectBytes(data)
	if !info.Supported() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, info.MIMEType)
	}

	var up uploadResponse
	if err := c.withRetry(ctx, "upload", func(ctx context.Context) error {
		var err error
		up, err = c.upload(ctx, data, filename)
		return err
	}); err != nil {
		return nil, err
	}
	log.Info().Str("file", filename).Str("file_id", up.ID).Msg("uploaded document for OCR")

	var signed signedURLResponse
	if err := c.withRetry(ctx, "signed_url", func(ctx context.Context) error {
		return c.getJSON(ctx, "signed_url", "/v1/files/"+url.PathEscape(up.ID)+"/url?expiry=24", &signed)
	}); err != nil {
		return nil, err
	}
	if signed.URL == "" {
		return nil, fmt.Errorf("mistral signed_url: empty url for file %s", up.ID)
	}

	doc := ocrDocument{Type: "document_url", DocumentURL: signed.URL}
	if info.Kind == filetype.KindImage {
		doc = ocrDocument{Type: "image_url", ImageURL: signed.URL}
	}
	req := ocrRequest{Model: c.model, Document: doc, IncludeImageBase64: true}

	var raw RawResponse
	if err := c.withRetry(ctx, "ocr", func(ctx context.Context) error {
		body, err := c.postJSON(ctx, "ocr", "/v1/ocr", req)
		raw = body
		return err
	}); err != nil {
		return nil, err
	}
	log.Info().Str("file", filename).Str("model", c.model).Int("response_bytes", len(raw)).Msg("OCR completed")
	return raw, nil
}

func (c *Mistral) upload(ctx context.Context, data []byte, filename string) (uploadResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("purpose", "ocr"); err != nil {
		return uploadResponse{}, err
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return uploadResponse{}, err
	}
	if _, err := fw.Write(data); err != nil {
		return uploadResponse{}, err
	}
	if err := mw.Close(); err != nil {
		return uploadResponse{}, err
	}

	body, err := c.do(ctx, "upload", http.MethodPost, "/v1/files", mw.FormDataContentType(), &buf)
	if err != nil {
		return uploadResponse{}, err
	}
	var up uploadResponse
	if err := json.Unmarshal(body, &up); err != nil {
		return uploadResponse{}, fmt.Errorf("decode upload response: %w", err)
	}
	if up.ID == "" {
		return uploadResponse{}, errors.New("upload response has no file id")
	}
	return up, nil
}

func (c *Mistral) getJSON(ctx context.Context, stage, path string, out any) error {
	body, err := c.do(ctx, stage, http.MethodGet, path, "", nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", stage, err)
	}
	return nil
}

func (c *Mistral) postJSON(ctx context.Context, stage, path string, payload any) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, stage, http.MethodPost, path, "application/json", bytes.NewReader(b))
}

func (c *Mistral) do(ctx context.Context, stage, method, path, contentType string, body io.Reader) ([]byte, error) {
	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", stage, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	result := "error"
	defer func() { mpkg.ObserveBackend(mistralEngine, stage, result, time.Since(start)) }()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mistral %s: %w", stage, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("mistral %s: %w", stage, ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(msg), Engine: mistralEngine, Stage: stage}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", stage, err)
	}
	result = "ok"
	return data, nil
}

// withRetry runs fn until it succeeds, fails permanently, or attempts run out.
// Delay grows as base * factor^(attempt-1) plus up to Jitter.
func (c *Mistral) withRetry(ctx context.Context, stage string, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == c.maxAttempts || !IsTransient(err) {
			break
		}

		delay := c.backoff(attempt)
		mpkg.IncBackendRetry(mistralEngine, stage)
		log.Warn().Err(err).Str("stage", stage).Int("attempt", attempt).Dur("delay", delay).Msg("transient OCR error, retrying")

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}

func (c *Mistral) backoff(attempt int) time.Duration {
	d := time.Duration(float64(c.baseDelay) * math.Pow(c.factor, float64(attempt-1)))
	if c.jitter > 0 {
		d += time.Duration(rand.Int63n(int64(c.jitter)))
	}
	return d
}
