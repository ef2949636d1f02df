package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hydrantlabs/designq/internal/metrics"
	"github.com/hydrantlabs/designq/internal/tracing"
	"github.com/hydrantlabs/designq/pkg/domain"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// Client invokes the external reasoning agent with a prompt and consumes
// its streamed output. Chunks are informational only; authoritative
// progress arrives out-of-band through the callback endpoints.
type Client interface {
	Invoke(ctx context.Context, req InvokeRequest, onChunk func(chunk string)) error
}

type InvokeRequest struct {
	TaskID string `json:"taskId"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type httpAgentClient struct {
	url     string
	token   string
	hc      *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

func NewHTTPClient(url, token string, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "design-agent",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("agent circuit breaker state change", "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Task timeouts and shutdowns say nothing about agent health.
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
	return &httpAgentClient{
		url:     url,
		token:   token,
		hc:      &http.Client{}, // no client timeout: the stream is long-lived, ctx bounds it
		breaker: cb,
		logger:  logger,
	}
}

func (c *httpAgentClient) Invoke(ctx context.Context, req InvokeRequest, onChunk func(string)) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.invoke(ctx, req, onChunk)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: circuit open", domain.ErrAgentInvocation)
	}
	return err
}

func (c *httpAgentClient) invoke(ctx context.Context, req InvokeRequest, onChunk func(string)) error {
	req.Stream = true
	resp, err := c.connect(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		metrics.AgentStreamChunksTotal.Inc()
		if onChunk != nil {
			onChunk(line)
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", domain.ErrAgentInvocation, ctx.Err())
		}
		return fmt.Errorf("%w: stream read: %v", domain.ErrAgentInvocation, err)
	}
	return nil
}

// connect establishes the streaming response, retrying transient failures
// with exponential backoff. 4xx responses are permanent: the agent rejected
// the invocation and redelivery will not change that.
func (c *httpAgentClient) connect(ctx context.Context, req InvokeRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal invoke request: %w", err)
	}

	op := func() (*http.Response, error) {
		hr, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		hr.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			hr.Header.Set("Authorization", "Bearer "+c.token)
		}
		tracing.InjectHeaders(ctx, hr.Header)

		resp, err := c.hc.Do(hr)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}
		resp.Body.Close()
		statusErr := fmt.Errorf("%w: agent returned %d", domain.ErrAgentInvocation, resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, statusErr
		}
		return nil, backoff.Permanent(statusErr)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = time.Minute
	resp, err := backoff.RetryWithData(op, backoff.WithContext(bo, ctx))
	if err != nil {
		if errors.Is(err, domain.ErrAgentInvocation) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrAgentInvocation, err)
	}
	return resp, nil
}
