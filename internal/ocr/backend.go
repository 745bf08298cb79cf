// Package ocr contains the OCR backends that turn a document into a raw
// response for the normalizer.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/local/ocrmd/internal/config"
)

// Backend processes one document and returns its response in whatever shape
// the engine produces.
type Backend interface {
	Name() string
	Process(ctx context.Context, data []byte, filename string) (any, error)
}

var (
	ErrRateLimited   = errors.New("rate_limited")
	ErrMissingAPIKey = errors.New("missing MISTRAL_API_KEY")
	ErrUnsupported   = errors.New("unsupported document type")
	// ErrOCRNotEnabled is returned by the local backend when Tesseract
	// support was not compiled in. Rebuild with -tags ocr.
	ErrOCRNotEnabled = errors.New("OCR support not enabled; rebuild with -tags ocr")
)

// HTTPError represents a non-2xx response from an OCR service.
type HTTPError struct {
	StatusCode int
	Body       string
	Engine     string
	Stage      string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d from %s %s: %s", e.StatusCode, e.Engine, e.Stage, e.Body)
}

// IsTransient reports whether a failed call is worth retrying: rate limits,
// 5xx responses, timeouts and dropped connections.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || (httpErr.StatusCode >= 500 && httpErr.StatusCode < 600)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "eof")
}

// New builds the backend selected by cfg.Engine.
func New(cfg config.OCRConfig) (Backend, error) {
	switch cfg.Engine {
	case "", "mistral":
		return NewMistral(MistralOptions{
			APIKey:        cfg.APIKey,
			BaseURL:       cfg.BaseURL,
			Model:         cfg.Model,
			Timeout:       cfg.RequestTimeout,
			MaxAttempts:   cfg.MaxAttempts,
			BaseDelay:     cfg.RetryBaseDelay,
			Jitter:        cfg.RetryJitter,
			BackoffFactor: cfg.RetryBackoffFactor,
		})
	case "replay":
		return NewReplay(cfg.ReplayDir), nil
	case "tesseract":
		return NewTesseract(cfg.TesseractLanguage), nil
	default:
		return nil, fmt.Errorf("unknown OCR engine %q", cfg.Engine)
	}
}
