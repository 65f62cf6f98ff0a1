// Package completion sends rendered prompts to the language model and returns
// its raw text, retrying once on transient failures.
package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"

	"github.com/political-reasoner/backend/internal/apperr"
	"github.com/political-reasoner/backend/internal/logger"
	"github.com/political-reasoner/backend/internal/service/prompt"
)

const maxAttempts = 2

// Params are the generation parameters of one completion call.
type Params struct {
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// Completer is the capability the request handlers depend on.
type Completer interface {
	Complete(ctx context.Context, p prompt.Prompt, params Params) (string, error)
}

// Overrides holds operator-level settings that take precedence over the
// per-template defaults carried by a prompt.
type Overrides struct {
	Model       string
	Temperature *float64
	MaxTokens   *int
	Timeout     time.Duration
}

// For resolves the parameters for p.
func (o Overrides) For(p prompt.Prompt) Params {
	params := Params{
		Model:       o.Model,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
		Timeout:     o.Timeout,
	}
	if o.Temperature != nil {
		params.Temperature = float32(*o.Temperature)
	}
	if o.MaxTokens != nil {
		params.MaxTokens = *o.MaxTokens
	}
	return params
}

// Client implements Completer on top of an eino chat model.
type Client struct {
	chatModel      model.BaseChatModel
	backoff        time.Duration
	defaultTimeout time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
}

// NewClient wraps chatModel. backoff is the fixed delay before the single retry;
// defaultTimeout applies when Params carries none.
func NewClient(chatModel model.BaseChatModel, backoff, defaultTimeout time.Duration) *Client {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &Client{
		chatModel:      chatModel,
		backoff:        backoff,
		defaultTimeout: defaultTimeout,
		sleep:          sleepContext,
	}
}

// Complete issues the call, retrying once on rate limiting and network-level
// failures. Caller cancellation is never retried.
func (c *Client) Complete(ctx context.Context, p prompt.Prompt, params Params) (string, error) {
	const op = "completion.Complete"

	timeout := params.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	opts := make([]model.Option, 0, 3)
	if params.Model != "" {
		opts = append(opts, model.WithModel(params.Model))
	}
	opts = append(opts, model.WithTemperature(params.Temperature))
	if params.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(params.MaxTokens))
	}

	messages := p.Messages()
	for attempt := 1; ; attempt++ {
		started := time.Now()
		text, err := c.attempt(ctx, messages, timeout, opts)
		if err == nil {
			logger.Log.WithFields(logrus.Fields{
				"kind":     p.Kind,
				"attempt":  attempt,
				"length":   len(text),
				"duration": time.Since(started).Round(time.Millisecond),
			}).Debug("[completion] ok")
			return text, nil
		}

		kind, transient := classify(ctx, err)
		fields := logrus.Fields{
			"kind":    p.Kind,
			"attempt": attempt,
			"class":   kind,
			"error":   err.Error(),
		}

		if kind == apperr.Canceled {
			logger.Log.WithFields(fields).Info("[completion] caller canceled")
			return "", apperr.Wrap(kind, op, err)
		}
		if !transient || attempt >= maxAttempts {
			logger.Log.WithFields(fields).Warn("[completion] call failed")
			return "", apperr.Wrap(kind, op, err)
		}

		logger.Log.WithFields(fields).Warn("[completion] transient failure, retrying")
		if err := c.sleep(ctx, c.backoff); err != nil {
			return "", apperr.Wrap(apperr.Canceled, op, err)
		}
	}
}

func (c *Client) attempt(ctx context.Context, messages []*schema.Message, timeout time.Duration, opts []model.Option) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := c.chatModel.Generate(attemptCtx, messages, opts...)
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return "", err
	}
	if msg == nil {
		return "", nil
	}
	return msg.Content, nil
}

// statusPattern finds an HTTP status the provider SDKs print into their
// errors, e.g. "status code: 429", "Error code: 429" or "StatusCode=503".
var statusPattern = regexp.MustCompile(`(?i)\b(?:status[ _]?code|error code|http status|status)\s*[:=]?\s*([1-5]\d{2})\b`)

// classify maps a provider failure to a kind and reports whether one retry is
// allowed. Only rate limiting and network-level failures are retried.
func classify(ctx context.Context, err error) (apperr.Kind, bool) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return apperr.UpstreamTimeout, false
		}
		return apperr.Canceled, false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.UpstreamTimeout, true
	}
	if errors.Is(err, context.Canceled) {
		return apperr.Canceled, false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return apperr.UpstreamTimeout, true
		}
		return apperr.UpstreamError, true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return apperr.UpstreamError, true
	}

	msg := strings.ToLower(err.Error())

	// quota exhaustion is reported as 429 but will not clear on a retry
	if containsAny(msg, "insufficient_quota", "quota exceeded", "exceeded your current quota") {
		return apperr.UpstreamError, false
	}

	if m := statusPattern.FindStringSubmatch(msg); m != nil {
		kind := kindForStatus(m[1])
		return kind, kind.Retryable()
	}

	switch {
	case containsAny(msg, "rate limit", "ratelimit", "too many requests"):
		return apperr.UpstreamRateLimited, true
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return apperr.UpstreamTimeout, true
	case containsAny(msg, "connection reset", "connection refused", "broken pipe", "unexpected eof"):
		return apperr.UpstreamError, true
	default:
		return apperr.UpstreamError, false
	}
}

func kindForStatus(status string) apperr.Kind {
	switch status {
	case "429":
		return apperr.UpstreamRateLimited
	case "408", "504":
		return apperr.UpstreamTimeout
	default:
		return apperr.UpstreamError
	}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
