package finance

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

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Aidin1998/finsync/internal/scheduler"
	"github.com/Aidin1998/finsync/internal/syncbus"
	"github.com/Aidin1998/finsync/pkg/validation"
)

var ErrNotFound = errors.New("not found")

// APIError is a non-2xx backend response.
type APIError struct {
	Status  int
	Method  string
	Path    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.Message)
}

// Temporary reports whether retrying the call may succeed.
func (e *APIError) Temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests || e.Status == http.StatusRequestTimeout
}

// Publisher receives a sync event for every accepted write.
type Publisher interface {
	Publish(evt syncbus.SyncEvent)
}

type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	MaxRetries     int
	// CacheTTL overrides the scheduler's default result cache TTL for reads.
	CacheTTL time.Duration
	Token    string
}

// Client talks to the finance backend through the request scheduler.
type Client struct {
	base      *url.URL
	cfg       Config
	http      *http.Client
	sched     *scheduler.Scheduler
	publisher Publisher
	validator *validation.Validator
	logger    *zap.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

func WithValidator(v *validation.Validator) ClientOption {
	return func(c *Client) { c.validator = v }
}

func NewClient(cfg Config, sched *scheduler.Scheduler, pub Publisher, opts ...ClientOption) (*Client, error) {
	if sched == nil {
		return nil, errors.New("finance client requires a scheduler")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid backend base url %q", cfg.BaseURL)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	c := &Client{
		base:      base,
		cfg:       cfg,
		http:      &http.Client{},
		sched:     sched,
		publisher: pub,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.validator == nil {
		c.validator = validation.NewValidator(c.logger)
	}
	c.logger = c.logger.Named("finance")
	return c, nil
}

func (c *Client) readOptions(p scheduler.Priority, key string) scheduler.Options {
	return scheduler.Options{
		Priority:   p,
		MaxRetries: c.cfg.MaxRetries,
		Timeout:    c.cfg.RequestTimeout,
		CacheKey:   key,
		CacheTTL:   c.cfg.CacheTTL,
	}
}

func (c *Client) writeOptions() scheduler.Options {
	return scheduler.Options{
		Priority:   scheduler.PriorityHigh,
		MaxRetries: c.cfg.MaxRetries,
		Timeout:    c.cfg.RequestTimeout,
	}
}

// get admits a cached GET of path under cache key key.
func get[T any](ctx context.Context, c *Client, p scheduler.Priority, key, path string) (T, error) {
	return scheduler.Admit(ctx, c.sched, func(ctx context.Context) (T, error) {
		var out T
		err := c.do(ctx, http.MethodGet, path, nil, "", &out)
		return out, err
	}, c.readOptions(p, key))
}

// write admits a mutating call at high priority and publishes a sync event
// once the backend accepts it. Retries reuse one idempotency key.
func write[T any](ctx context.Context, c *Client, method, path string, body any, entity syncbus.EntityType, action syncbus.Action, idOf func(T) string) (T, error) {
	idem := uuid.NewString()
	out, err := scheduler.Admit(ctx, c.sched, func(ctx context.Context) (T, error) {
		var out T
		err := c.do(ctx, method, path, body, idem, &out)
		return out, err
	}, c.writeOptions())
	if err != nil {
		return out, err
	}
	if c.publisher != nil {
		c.publisher.Publish(syncbus.SyncEvent{
			Type:     entity,
			Action:   action,
			EntityID: idOf(out),
			Metadata: map[string]string{"source": "client"},
		})
	}
	return out, nil
}

// do performs one HTTP round trip. Client errors other than 408 and 429 are
// marked permanent so the scheduler does not retry them.
func (c *Client) do(ctx context.Context, method, path string, body any, idempotencyKey string, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return scheduler.Permanent(fmt.Errorf("encode %s body: %w", path, err))
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return scheduler.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode, Method: method, Path: path, Message: strings.TrimSpace(string(msg))}
		c.logger.Debug("backend call failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		if apiErr.Temporary() {
			return apiErr
		}
		return scheduler.Permanent(apiErr)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return scheduler.Permanent(fmt.Errorf("decode %s response: %w", path, err))
	}
	return nil
}
