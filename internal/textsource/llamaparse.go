package textsource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LlamaParseConfig configures the hosted parsing service client.
type LlamaParseConfig struct {
	APIKey       string
	BaseURL      string // default https://api.cloud.llamaindex.ai/api/parsing
	PollInterval time.Duration
	Timeout      time.Duration // per HTTP request
}

// LlamaParse uploads documents to the hosted parser and returns the markdown result.
type LlamaParse struct {
	cfg  LlamaParseConfig
	http *http.Client
	log  *slog.Logger
}

var errParseJobFailed = errors.New("parse job failed")

func NewLlamaParse(cfg LlamaParseConfig, logger *slog.Logger) *LlamaParse {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.cloud.llamaindex.ai/api/parsing"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LlamaParse{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, log: logger}
}

type parseJob struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error_message,omitempty"`
}

func (c *LlamaParse) Text(ctx context.Context, name string, r io.Reader) (string, error) {
	rid := uuid.New().String()
	start := time.Now()

	job, err := c.upload(ctx, name, r)
	if err != nil {
		c.log.Error("textsource.llamaparse.upload_error", "req_id", rid, "name", name, "error", err)
		return "", err
	}
	c.log.Info("textsource.llamaparse.uploaded", "req_id", rid, "name", name, "job_id", job.ID)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		switch strings.ToUpper(job.Status) {
		case "SUCCESS":
			md, err := c.result(ctx, job.ID)
			if err != nil {
				return "", err
			}
			c.log.Info("textsource.llamaparse.ok",
				"req_id", rid, "name", name, "job_id", job.ID,
				"chars", len(md), "elapsed_ms", time.Since(start).Milliseconds(),
			)
			return md, nil
		case "ERROR", "CANCELED", "CANCELLED":
			return "", fmt.Errorf("%w: %s %s", errParseJobFailed, job.Status, job.Error)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
		if job, err = c.status(ctx, job.ID); err != nil {
			return "", err
		}
	}
}

func (c *LlamaParse) upload(ctx context.Context, name string, r io.Reader) (parseJob, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return parseJob{}, fmt.Errorf("build upload: %w", err)
	}
	if _, err := io.Copy(fw, r); err != nil {
		return parseJob{}, fmt.Errorf("read document: %w", err)
	}
	if err := mw.Close(); err != nil {
		return parseJob{}, fmt.Errorf("build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("upload"), &body)
	if err != nil {
		return parseJob{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var job parseJob
	if err := c.do(req, &job); err != nil {
		return parseJob{}, fmt.Errorf("upload: %w", err)
	}
	if job.ID == "" {
		return parseJob{}, fmt.Errorf("upload: response has no job id")
	}
	return job, nil
}

func (c *LlamaParse) status(ctx context.Context, id string) (parseJob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("job", id), nil)
	if err != nil {
		return parseJob{}, err
	}
	var job parseJob
	if err := c.do(req, &job); err != nil {
		return parseJob{}, fmt.Errorf("job status: %w", err)
	}
	job.ID = id
	return job, nil
}

func (c *LlamaParse) result(ctx context.Context, id string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("job", id, "result", "markdown"), nil)
	if err != nil {
		return "", err
	}
	var out struct {
		Markdown string `json:"markdown"`
	}
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("job result: %w", err)
	}
	return out.Markdown, nil
}

func (c *LlamaParse) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(raw), 512))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *LlamaParse) url(parts ...string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.Join(parts, "/")
}
