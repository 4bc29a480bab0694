package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dropDatabas3/flocksync/internal/observability/logger"
)

// Client es el cliente HTTP compartido por los adapters. Clasifica el status
// y reintenta transporte (429/5xx) antes de que el retry grueso del workflow
// layer vea el error.
type Client struct {
	HTTP *http.Client

	// MaxAttempts por llamada, incluyendo la primera. Default 3.
	MaxAttempts int
	// RetryAfterDefault cuando el 429 no trae header. Default 20s.
	RetryAfterDefault time.Duration
	// ServerErrDelay entre reintentos por 5xx o fallo de red. Default 1s.
	ServerErrDelay time.Duration
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		HTTP:              &http.Client{Timeout: timeout},
		MaxAttempts:       3,
		RetryAfterDefault: 20 * time.Second,
		ServerErrDelay:    time.Second,
	}
}

// DoJSON ejecuta el request y decodifica el body en out (out nil ⇒ descarta).
// bearer vacío ⇒ sin Authorization (el token endpoint usa form body propio).
func (c *Client) DoJSON(ctx context.Context, method, url, bearer string, body any, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("adapter: marshal body: %w", err)
		}
		payload = b
	}

	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, rd)
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}

		resp, err := c.HTTP.Do(req)
		if err != nil {
			// Fallo de red: transporte, mismo trato que un 5xx.
			lastErr = fmt.Errorf("adapter: transport: %w", err)
			if !c.sleep(ctx, c.serverDelay()) {
				return ctx.Err()
			}
			continue
		}

		if resp.StatusCode < 400 {
			if out == nil {
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				return nil
			}
			err := json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			if err != nil {
				return fmt.Errorf("adapter: decode response: %w", err)
			}
			return nil
		}

		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		se := &StatusError{StatusCode: resp.StatusCode, Body: string(b)}

		if !se.Retryable() || attempt == attempts {
			return se
		}
		lastErr = se

		delay := c.serverDelay()
		if resp.StatusCode == http.StatusTooManyRequests {
			delay = c.retryAfter(resp)
			logger.From(ctx).Warn("rate limited by remote API",
				logger.String("url", url),
				logger.Duration(delay),
				logger.Attempt(attempt),
			)
		}
		if !c.sleep(ctx, delay) {
			return ctx.Err()
		}
	}
	return lastErr
}

func (c *Client) retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if c.RetryAfterDefault > 0 {
		return c.RetryAfterDefault
	}
	return 20 * time.Second
}

func (c *Client) serverDelay() time.Duration {
	if c.ServerErrDelay > 0 {
		return c.ServerErrDelay
	}
	return time.Second
}

func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
