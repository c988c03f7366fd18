package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-answer-api/internal/config"
	"rag-answer-api/internal/domain/entity"
	"rag-answer-api/internal/domain/service"
	apperrors "rag-answer-api/pkg/errors"
)

type fakeChatModel struct {
	mu    sync.Mutex
	errs  []error // 依次返回的错误，耗尽后成功
	text  string
	calls int
}

func (m *fakeChatModel) nextErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.errs) == 0 {
		return nil
	}
	err := m.errs[0]
	m.errs = m.errs[1:]
	return err
}

func (m *fakeChatModel) Generate(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	if err := m.nextErr(); err != nil {
		return nil, err
	}
	return &schema.Message{
		Role:    schema.Assistant,
		Content: m.text,
		ResponseMeta: &schema.ResponseMeta{
			Usage: &schema.TokenUsage{PromptTokens: 120, CompletionTokens: 30},
		},
	}, nil
}

func (m *fakeChatModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if err := m.nextErr(); err != nil {
		return nil, err
	}
	parts := []*schema.Message{
		{Role: schema.Assistant, Content: "北京"},
		{Role: schema.Assistant, Content: "是首都"},
		{
			Role: schema.Assistant,
			ResponseMeta: &schema.ResponseMeta{
				Usage: &schema.TokenUsage{PromptTokens: 120, CompletionTokens: 8},
			},
		},
	}
	return schema.StreamReaderFromArray(parts), nil
}

type fakeProvider struct{ m *fakeChatModel }

func (p fakeProvider) Get(_ context.Context, _ string) (model.BaseChatModel, error) {
	return p.m, nil
}

type recordingLedger struct {
	mu      sync.Mutex
	records []service.AttemptUsage
}

func (r *recordingLedger) RecordAttempt(_ context.Context, usage service.AttemptUsage) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, usage)
	return 0.01, nil
}

func testDeployment() entity.ModelDeployment {
	return entity.ModelDeployment{
		Name: "mini", Model: "gpt-4o-mini",
		ContextWindow: 16000, MaxOutputTokens: 1000,
		InputPricePer1K: 0.15, OutputPricePer1K: 0.6,
	}
}

func fastRetry(attempts int) config.RetryConfig {
	return config.RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

func newTestClient(m *fakeChatModel, rec *recordingLedger, attempts int) *Client {
	return &Client{
		provider: fakeProvider{m: m},
		recorder: rec,
		retry:    fastRetry(attempts),
		limiters: make(map[string]*deploymentLimiter),
	}
}

func TestCompleteSuccess(t *testing.T) {
	rec := &recordingLedger{}
	c := newTestClient(&fakeChatModel{text: "北京是中国的首都"}, rec, 3)

	gen, err := c.Complete(context.Background(), testDeployment(), "问题", "u1")
	require.NoError(t, err)
	assert.Equal(t, "北京是中国的首都", gen.Text)
	assert.Equal(t, 120, gen.InputTokens)
	assert.Equal(t, 30, gen.OutputTokens)

	require.Len(t, rec.records, 1)
	assert.True(t, rec.records[0].Succeeded)
	assert.Equal(t, 120, rec.records[0].InputTokens)
}

func TestCompleteRetriesTransientThenSucceeds(t *testing.T) {
	rec := &recordingLedger{}
	m := &fakeChatModel{
		text: "回答",
		errs: []error{errors.New("503 service unavailable"), errors.New("connection reset")},
	}
	c := newTestClient(m, rec, 3)

	gen, err := c.Complete(context.Background(), testDeployment(), "问题", "u1")
	require.NoError(t, err)
	assert.Equal(t, "回答", gen.Text)
	assert.Equal(t, 3, m.calls)

	// 每次触达上游的尝试各记一条：两条失败 + 一条成功
	require.Len(t, rec.records, 3)
	assert.False(t, rec.records[0].Succeeded)
	assert.False(t, rec.records[1].Succeeded)
	assert.True(t, rec.records[2].Succeeded)
	assert.Equal(t, 0, rec.records[0].OutputTokens, "失败尝试按零输出计费")
}

func TestCompletePermanentErrorNoRetry(t *testing.T) {
	rec := &recordingLedger{}
	m := &fakeChatModel{errs: []error{errors.New("400 invalid request")}}
	c := newTestClient(m, rec, 3)

	_, err := c.Complete(context.Background(), testDeployment(), "问题", "u1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUpstreamRejected))
	assert.Equal(t, 1, m.calls, "永久性错误不得重试")
	require.Len(t, rec.records, 1)
	assert.False(t, rec.records[0].Succeeded)
}

func TestCompleteExhaustsRetries(t *testing.T) {
	rec := &recordingLedger{}
	m := &fakeChatModel{errs: []error{
		errors.New("429 too many requests"),
		errors.New("429 too many requests"),
		errors.New("429 too many requests"),
	}}
	c := newTestClient(m, rec, 3)

	_, err := c.Complete(context.Background(), testDeployment(), "问题", "u1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUpstreamUnavailable))
	assert.Equal(t, 3, m.calls)
	assert.Len(t, rec.records, 3)
}

func TestCompleteRateLimitedWithoutQueueing(t *testing.T) {
	rec := &recordingLedger{}
	c := newTestClient(&fakeChatModel{text: "回答"}, rec, 1)

	d := testDeployment()
	d.RequestsPerMinute = 1

	_, err := c.Complete(context.Background(), d, "问题", "u1")
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), d, "问题", "u1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrRateLimited))
	// 被限速拒绝的请求没有触达上游，不产生计费流水
	assert.Len(t, rec.records, 1)
}

func TestStreamDeliversDeltasAndBillsOnce(t *testing.T) {
	rec := &recordingLedger{}
	c := newTestClient(&fakeChatModel{}, rec, 3)

	chunks, err := c.Stream(context.Background(), testDeployment(), "问题", "u1")
	require.NoError(t, err)

	var text string
	for chunk := range chunks {
		require.NoError(t, chunk.Err)
		text += chunk.Delta
	}
	assert.Equal(t, "北京是首都", text)

	require.Len(t, rec.records, 1)
	assert.True(t, rec.records[0].Succeeded)
	assert.Equal(t, 8, rec.records[0].OutputTokens)
}

func TestStreamRetriesBeforeFirstDelta(t *testing.T) {
	rec := &recordingLedger{}
	m := &fakeChatModel{errs: []error{errors.New("502 bad gateway")}}
	c := newTestClient(m, rec, 3)

	chunks, err := c.Stream(context.Background(), testDeployment(), "问题", "u1")
	require.NoError(t, err)

	var text string
	for chunk := range chunks {
		require.NoError(t, chunk.Err)
		text += chunk.Delta
	}
	assert.Equal(t, "北京是首都", text)
	require.Len(t, rec.records, 2)
	assert.False(t, rec.records[0].Succeeded)
	assert.True(t, rec.records[1].Succeeded)
}

func TestIsTransientClassification(t *testing.T) {
	assert.True(t, IsTransient(errors.New("429 Too Many Requests")))
	assert.True(t, IsTransient(errors.New("503 Service Unavailable")))
	assert.True(t, IsTransient(errors.New("dial tcp: connection refused")))
	assert.True(t, IsTransient(errors.New("request timeout")))

	assert.False(t, IsTransient(errors.New("401 unauthorized")))
	assert.False(t, IsTransient(errors.New("400 invalid request")))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(nil))
}
