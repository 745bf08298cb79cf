package statuscheck

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Pinger models a dependency that can be probed for reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker aggregates health checks for the dependencies a run is configured
// to use. Unconfigured dependencies are not reported.
type Checker struct {
	redis      Pinger
	s3         Pinger
	httpClient *http.Client
	mistralURL string
	mistralKey string
	outputDir  string
	binaries   []string
	lookPath   func(string) (string, error)
}

// Options configures the Checker.
type Options struct {
	Redis      Pinger
	S3         Pinger
	HTTPClient *http.Client
	// MistralURL enables the OCR API check when set.
	MistralURL string
	MistralKey string
	// OutputDir enables a write probe of a local output directory.
	OutputDir string
	// Binaries lists executables that must be on PATH.
	Binaries []string
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Summary maps subsystem names to their status.
type Summary map[string]Status

// OK reports whether every checked subsystem is ready.
func (s Summary) OK() bool {
	for _, st := range s {
		if !st.OK {
			return false
		}
	}
	return true
}

// Names returns the checked subsystems in sorted order.
func (s Summary) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New creates a new Checker with the provided options.
func New(opts Options) *Checker {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Checker{
		redis:      opts.Redis,
		s3:         opts.S3,
		httpClient: client,
		mistralURL: strings.TrimRight(opts.MistralURL, "/"),
		mistralKey: strings.TrimSpace(opts.MistralKey),
		outputDir:  opts.OutputDir,
		binaries:   opts.Binaries,
		lookPath:   exec.LookPath,
	}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	s := Summary{}
	if c.redis != nil {
		s["redis"] = ping(ctx, c.redis, 2*time.Second)
	}
	if c.s3 != nil {
		s["s3"] = ping(ctx, c.s3, 5*time.Second)
	}
	if c.mistralURL != "" {
		s["mistral"] = c.checkMistral(ctx)
	}
	if c.outputDir != "" {
		s["output"] = c.checkOutputDir()
	}
	for _, bin := range c.binaries {
		s[bin] = c.checkBinary(bin)
	}
	return s
}

func ping(ctx context.Context, p Pinger, timeout time.Duration) Status {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkMistral(ctx context.Context) Status {
	if c.mistralKey == "" {
		return Status{OK: false, Message: "API key missing"}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.mistralURL+"/v1/models", nil)
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.mistralKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Status{OK: false, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	return Status{OK: true, Message: "Available"}
}

func (c *Checker) checkOutputDir() Status {
	if err := os.MkdirAll(c.outputDir, 0o755); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	f, err := os.CreateTemp(c.outputDir, ".ocrmd-probe-*")
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return Status{OK: true, Message: "Writable: " + filepath.Clean(c.outputDir)}
}

func (c *Checker) checkBinary(name string) Status {
	if _, err := c.lookPath(name); err != nil {
		return Status{OK: false, Message: "Binary not found"}
	}
	return Status{OK: true, Message: "Available"}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
