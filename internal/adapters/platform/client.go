// client.go — HTTP client del API de la plataforma con rate limiting, retries
// y firma de operador en las llamadas de settlement.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "http://localhost:8081"

	// Lecturas (markets, prices): 20/s. Settlement: 5/s, cada tx cuesta gas.
	readRatePerSec   = 20
	settleRatePerSec = 5

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// statusError es una respuesta 4xx que no se reintenta.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("client error %d: %s", e.code, e.body)
}

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == http.StatusNotFound
}

// Client es el HTTP client de la plataforma.
type Client struct {
	http          *http.Client
	base          string
	readLimiter   *rate.Limiter
	settleLimiter *rate.Limiter
	signer        *Signer
	retryWait     time.Duration
	now           func() time.Time
}

// Option configura el Client.
type Option func(*Client)

// WithSigner firma las peticiones de settlement con la clave del operador.
func WithSigner(s *Signer) Option {
	return func(c *Client) { c.signer = s }
}

// WithRetryWait cambia la espera base entre reintentos.
func WithRetryWait(d time.Duration) Option {
	return func(c *Client) { c.retryWait = d }
}

// WithHTTPClient reemplaza el http.Client (timeouts, transport).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient crea un Client contra base. Si base está vacío usa el default local.
func NewClient(base string, opts ...Option) *Client {
	if base == "" {
		base = defaultBaseURL
	}
	c := &Client{
		http:          &http.Client{Timeout: 10 * time.Second},
		base:          base,
		readLimiter:   rate.NewLimiter(readRatePerSec, 10),
		settleLimiter: rate.NewLimiter(settleRatePerSec, 5),
		retryWait:     baseRetryWait,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// get hace un GET con rate limiting y retries.
func (c *Client) get(ctx context.Context, limiter *rate.Limiter, path string, out any) error {
	return c.doWithRetry(ctx, limiter, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, out)
}

// post hace un POST JSON firmado con rate limiting y retries.
// idemKey viaja en cada reintento para que el servidor deduplique.
func (c *Client) post(ctx context.Context, limiter *rate.Limiter, path, idemKey string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	return c.doWithRetry(ctx, limiter, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if idemKey != "" {
			req.Header.Set("X-Idempotency-Key", idemKey)
		}
		if c.signer != nil {
			if err := c.signer.SignRequest(req, b, c.now()); err != nil {
				return nil, err
			}
		}
		return c.http.Do(req)
	}, out)
}

// doWithRetry ejecuta la función con backoff exponencial, respetando el contexto.
func (c *Client) doWithRetry(ctx context.Context, limiter *rate.Limiter, fn func() (*http.Response, error), out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := fn()
		if err != nil {
			if attempt == maxRetries || ctx.Err() != nil {
				return fmt.Errorf("request failed after %d retries: %w", attempt, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("platform: rate limited", "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return &statusError{code: resp.StatusCode, body: string(bytes.TrimSpace(body))}
		}

		defer resp.Body.Close()
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.retryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
