package completion_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/political-reasoner/backend/internal/apperr"
	"github.com/political-reasoner/backend/internal/service/completion"
	"github.com/political-reasoner/backend/internal/service/prompt"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type step func(ctx context.Context) (*schema.Message, error)

// scriptedModel plays one step per Generate call and repeats the last step.
type scriptedModel struct {
	steps   []step
	calls   atomic.Int32
	lastOpt *model.Options
}

func (m *scriptedModel) Generate(ctx context.Context, _ []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	n := int(m.calls.Add(1)) - 1
	if n >= len(m.steps) {
		n = len(m.steps) - 1
	}
	m.lastOpt = model.GetCommonOptions(&model.Options{}, opts...)
	return m.steps[n](ctx)
}

func (m *scriptedModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func reply(text string) step {
	return func(context.Context) (*schema.Message, error) {
		return schema.AssistantMessage(text, nil), nil
	}
}

func fail(err error) step {
	return func(context.Context) (*schema.Message, error) { return nil, err }
}

// hang blocks until the attempt context expires.
func hang() step {
	return func(ctx context.Context) (*schema.Message, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

var testPrompt = prompt.Prompt{
	Kind:        prompt.KindAnalysis,
	System:      "system",
	Text:        "analyze this",
	Temperature: 0.7,
	MaxTokens:   1500,
}

func newClient(m *scriptedModel) *completion.Client {
	return completion.NewClient(m, time.Millisecond, time.Second)
}

func TestCompleteReturnsText(t *testing.T) {
	m := &scriptedModel{steps: []step{reply(`{"sentiment":"positive"}`)}}

	text, err := newClient(m).Complete(context.Background(), testPrompt, completion.Params{
		Model:       "gpt-4.1",
		Temperature: 0.7,
		MaxTokens:   1500,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"sentiment":"positive"}`, text)
	assert.EqualValues(t, 1, m.calls.Load())

	require.NotNil(t, m.lastOpt.Model)
	assert.Equal(t, "gpt-4.1", *m.lastOpt.Model)
	require.NotNil(t, m.lastOpt.MaxTokens)
	assert.Equal(t, 1500, *m.lastOpt.MaxTokens)
	require.NotNil(t, m.lastOpt.Temperature)
	assert.InDelta(t, 0.7, *m.lastOpt.Temperature, 1e-6)
}

func TestCompleteTimeoutThenSuccess(t *testing.T) {
	m := &scriptedModel{steps: []step{hang(), reply("second time lucky")}}

	text, err := newClient(m).Complete(context.Background(), testPrompt, completion.Params{Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, "second time lucky", text)
	assert.EqualValues(t, 2, m.calls.Load())
}

func TestCompleteTwoTimeouts(t *testing.T) {
	m := &scriptedModel{steps: []step{hang()}}

	_, err := newClient(m).Complete(context.Background(), testPrompt, completion.Params{Timeout: 20 * time.Millisecond})
	require.Error(t, err)
	assert.Equal(t, apperr.UpstreamTimeout, apperr.KindOf(err))
	assert.True(t, errors.Is(err, apperr.E(apperr.UpstreamTimeout)))
	assert.EqualValues(t, 2, m.calls.Load())
}

func TestCompleteRateLimitedRetriedOnce(t *testing.T) {
	m := &scriptedModel{steps: []step{fail(errors.New("error, status code: 429, message: Rate limit reached"))}}

	_, err := newClient(m).Complete(context.Background(), testPrompt, completion.Params{})
	require.Error(t, err)
	assert.Equal(t, apperr.UpstreamRateLimited, apperr.KindOf(err))
	assert.EqualValues(t, 2, m.calls.Load())
}

func TestCompleteRateLimitThenSuccess(t *testing.T) {
	m := &scriptedModel{steps: []step{fail(errors.New("too many requests")), reply("ok")}}

	text, err := newClient(m).Complete(context.Background(), testPrompt, completion.Params{})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.EqualValues(t, 2, m.calls.Load())
}

func TestCompleteAuthFailureNotRetried(t *testing.T) {
	m := &scriptedModel{steps: []step{fail(errors.New("error, status code: 401, message: Incorrect API key provided"))}}

	_, err := newClient(m).Complete(context.Background(), testPrompt, completion.Params{})
	require.Error(t, err)
	assert.Equal(t, apperr.UpstreamError, apperr.KindOf(err))
	assert.EqualValues(t, 1, m.calls.Load())
	assert.Equal(t, "the language model service returned an error", apperr.Message(err))
}

func TestCompleteNetworkFailureRetried(t *testing.T) {
	m := &scriptedModel{steps: []step{fail(errors.New("read tcp 10.0.0.1:443: connection reset by peer")), reply("recovered")}}

	text, err := newClient(m).Complete(context.Background(), testPrompt, completion.Params{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", text)
	assert.EqualValues(t, 2, m.calls.Load())
}

func TestCompleteCallerCancellation(t *testing.T) {
	m := &scriptedModel{steps: []step{hang()}}
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := newClient(m).Complete(ctx, testPrompt, completion.Params{Timeout: 5 * time.Second})
	require.Error(t, err)
	assert.Equal(t, apperr.Canceled, apperr.KindOf(err))
	assert.EqualValues(t, 1, m.calls.Load())
}

func TestCompleteEmptyContent(t *testing.T) {
	m := &scriptedModel{steps: []step{reply("")}}

	text, err := newClient(m).Complete(context.Background(), testPrompt, completion.Params{})
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestOverridesFor(t *testing.T) {
	temp := 0.2
	tokens := 64

	params := completion.Overrides{Model: "m", Timeout: time.Second}.For(testPrompt)
	assert.Equal(t, completion.Params{Model: "m", Temperature: 0.7, MaxTokens: 1500, Timeout: time.Second}, params)

	params = completion.Overrides{Temperature: &temp, MaxTokens: &tokens}.For(testPrompt)
	assert.InDelta(t, 0.2, params.Temperature, 1e-6)
	assert.Equal(t, 64, params.MaxTokens)
}

func TestCompleteStatusDigitsInMessageNotRateLimit(t *testing.T) {
	m := &scriptedModel{steps: []step{fail(errors.New("error, status code: 400, message: max_tokens is too large: 14290"))}}

	_, err := newClient(m).Complete(context.Background(), testPrompt, completion.Params{})
	require.Error(t, err)
	assert.Equal(t, apperr.UpstreamError, apperr.KindOf(err))
	assert.EqualValues(t, 1, m.calls.Load())
}

func TestCompleteQuotaExhaustedNotRetried(t *testing.T) {
	m := &scriptedModel{steps: []step{fail(errors.New("error, status code: 429, message: You exceeded your current quota, type: insufficient_quota"))}}

	_, err := newClient(m).Complete(context.Background(), testPrompt, completion.Params{})
	require.Error(t, err)
	assert.Equal(t, apperr.UpstreamError, apperr.KindOf(err))
	assert.EqualValues(t, 1, m.calls.Load())
}

func TestCompleteServerErrorNotRetried(t *testing.T) {
	m := &scriptedModel{steps: []step{fail(errors.New("Error code: 500 - internal server error")), reply("unused")}}

	_, err := newClient(m).Complete(context.Background(), testPrompt, completion.Params{})
	require.Error(t, err)
	assert.Equal(t, apperr.UpstreamError, apperr.KindOf(err))
	assert.EqualValues(t, 1, m.calls.Load())
}
