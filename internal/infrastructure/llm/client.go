package llm

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/time/rate"

	"rag-answer-api/internal/application/answer"
	"rag-answer-api/internal/config"
	"rag-answer-api/internal/domain/entity"
	"rag-answer-api/internal/domain/service"
	apperrors "rag-answer-api/pkg/errors"
	"rag-answer-api/pkg/logger"
	"rag-answer-api/pkg/metrics"
	"rag-answer-api/pkg/tracer"
	"rag-answer-api/pkg/utils"
)

// modelProvider 便于测试替换 eino 工厂
type modelProvider interface {
	Get(ctx context.Context, name string) (model.BaseChatModel, error)
}

// deploymentLimiter 单个部署的 RPM/TPM 双限速器
type deploymentLimiter struct {
	rpm *rate.Limiter
	tpm *rate.Limiter
}

// Client 生成客户端：限速、重试与逐次计费都在这一层完成。
// 每一次真正触达上游的调用尝试都会记一条计费流水，失败的尝试
// 按预估输入 token、零输出 token 保守计费。
type Client struct {
	provider modelProvider
	recorder service.UsageRecorder
	retry    config.RetryConfig
	queue    bool

	mu       sync.Mutex
	limiters map[string]*deploymentLimiter
}

var _ answer.Generator = (*Client)(nil)

// NewClient 创建生成客户端
func NewClient(provider *EinoFactory, recorder service.UsageRecorder, retry config.RetryConfig, queueOnLimit bool) *Client {
	return &Client{
		provider: provider,
		recorder: recorder,
		retry:    retry,
		queue:    queueOnLimit,
		limiters: make(map[string]*deploymentLimiter),
	}
}

// Complete 非流式生成。限速发生在任何上游调用之前，
// 被限速拒绝或排队的请求不产生计费流水。
func (c *Client) Complete(ctx context.Context, d entity.ModelDeployment, prompt, userID string) (*answer.Generation, error) {
	ctx, span := tracer.Start(ctx, "llm.Complete")
	defer span.End()

	estInput := utils.EstimateTokens(prompt)
	if err := c.acquire(ctx, d, estInput); err != nil {
		return nil, err
	}

	chatModel, err := c.provider.Get(ctx, d.Name)
	if err != nil {
		return nil, apperrors.ErrUpstreamUnavailable.WithError(err)
	}
	messages := []*schema.Message{schema.UserMessage(prompt)}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts(); attempt++ {
		start := time.Now()
		msg, genErr := chatModel.Generate(ctx, messages)
		elapsed := time.Since(start)
		metrics.LLMCallDuration.WithLabelValues(d.Model).Observe(elapsed.Seconds())

		if genErr == nil {
			in, out := usageTokens(msg, estInput)
			c.bill(ctx, userID, d.Model, in, out, elapsed, true)
			metrics.LLMCallTotal.WithLabelValues(d.Model, "ok").Inc()
			return &answer.Generation{
				Text:         msg.Content,
				InputTokens:  in,
				OutputTokens: out,
			}, nil
		}

		// 失败的尝试同样触达了上游，保守计费
		c.bill(ctx, userID, d.Model, estInput, 0, elapsed, false)
		metrics.LLMCallTotal.WithLabelValues(d.Model, "error").Inc()
		lastErr = genErr

		if !IsTransient(genErr) {
			return nil, classify(genErr)
		}
		if attempt < c.maxAttempts() {
			metrics.LLMRetries.WithLabelValues(d.Model).Inc()
			logger.Warn(ctx, "生成调用失败，退避后重试",
				"model", d.Model, "attempt", attempt, "error", genErr.Error())
			if err := c.sleep(ctx, attempt); err != nil {
				return nil, classify(err)
			}
		}
	}
	return nil, apperrors.ErrUpstreamUnavailable.WithError(lastErr)
}

// Stream 流式生成。首个增量送出之前的瞬时失败允许按同样的
// 退避策略重试；一旦开始向下游推送，中途失败只能以截断错误收尾。
func (c *Client) Stream(ctx context.Context, d entity.ModelDeployment, prompt, userID string) (<-chan answer.StreamChunk, error) {
	ctx, span := tracer.Start(ctx, "llm.Stream")

	estInput := utils.EstimateTokens(prompt)
	if err := c.acquire(ctx, d, estInput); err != nil {
		span.End()
		return nil, err
	}

	chatModel, err := c.provider.Get(ctx, d.Name)
	if err != nil {
		span.End()
		return nil, apperrors.ErrUpstreamUnavailable.WithError(err)
	}
	messages := []*schema.Message{schema.UserMessage(prompt)}

	out := make(chan answer.StreamChunk, 8)
	go func() {
		defer span.End()
		defer close(out)

		var lastErr error
		for attempt := 1; attempt <= c.maxAttempts(); attempt++ {
			start := time.Now()
			reader, err := chatModel.Stream(ctx, messages)
			if err != nil {
				c.bill(ctx, userID, d.Model, estInput, 0, time.Since(start), false)
				metrics.LLMCallTotal.WithLabelValues(d.Model, "error").Inc()
				lastErr = err
				if !IsTransient(err) {
					out <- answer.StreamChunk{Err: classify(err)}
					return
				}
				if attempt < c.maxAttempts() {
					metrics.LLMRetries.WithLabelValues(d.Model).Inc()
					if serr := c.sleep(ctx, attempt); serr != nil {
						out <- answer.StreamChunk{Err: classify(serr)}
						return
					}
				}
				continue
			}

			delivered := c.pump(ctx, d, userID, estInput, start, reader, out)
			if delivered >= 0 {
				return
			}
			// 尚未送出任何增量的失败可以整体重试
			lastErr = apperrors.ErrUpstreamUnavailable
			if attempt < c.maxAttempts() {
				metrics.LLMRetries.WithLabelValues(d.Model).Inc()
				if serr := c.sleep(ctx, attempt); serr != nil {
					out <- answer.StreamChunk{Err: classify(serr)}
					return
				}
			}
		}
		out <- answer.StreamChunk{Err: apperrors.ErrUpstreamUnavailable.WithError(lastErr)}
	}()
	return out, nil
}

// pump 消费一次上游流。返回已推送给下游的增量数；
// 返回 -1 表示一个增量都没送出就失败了，调用方可以重试。
func (c *Client) pump(
	ctx context.Context,
	d entity.ModelDeployment,
	userID string,
	estInput int,
	start time.Time,
	reader *schema.StreamReader[*schema.Message],
	out chan<- answer.StreamChunk,
) int {
	defer reader.Close()

	var (
		delivered int
		text      string
		in        = estInput
		outTokens = 0
	)
	for {
		msg, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			elapsed := time.Since(start)
			if outTokens == 0 {
				outTokens = utils.EstimateTokens(text)
			}
			c.bill(ctx, userID, d.Model, in, outTokens, elapsed, true)
			metrics.LLMCallTotal.WithLabelValues(d.Model, "ok").Inc()
			metrics.LLMCallDuration.WithLabelValues(d.Model).Observe(elapsed.Seconds())
			return delivered
		}
		if err != nil {
			elapsed := time.Since(start)
			if outTokens == 0 {
				outTokens = utils.EstimateTokens(text)
			}
			c.bill(ctx, userID, d.Model, in, outTokens, elapsed, false)
			metrics.LLMCallTotal.WithLabelValues(d.Model, "error").Inc()

			if delivered == 0 && IsTransient(err) {
				return -1
			}
			out <- answer.StreamChunk{Err: apperrors.ErrStreamTruncated.WithError(err)}
			return delivered
		}

		if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
			in = msg.ResponseMeta.Usage.PromptTokens
			outTokens = msg.ResponseMeta.Usage.CompletionTokens
		}
		if msg.Content == "" {
			continue
		}
		text += msg.Content
		select {
		case out <- answer.StreamChunk{Delta: msg.Content}:
			delivered++
		case <-ctx.Done():
			c.bill(ctx, userID, d.Model, in, utils.EstimateTokens(text), time.Since(start), false)
			out <- answer.StreamChunk{Err: classify(ctx.Err())}
			return delivered
		}
	}
}

// acquire 同时获取 RPM 与 TPM 额度。排队模式下阻塞等待，
// 否则立即判定并拒绝。
func (c *Client) acquire(ctx context.Context, d entity.ModelDeployment, estTokens int) error {
	lim := c.limiterFor(d)
	if lim == nil {
		return nil
	}
	if c.queue {
		if lim.rpm != nil {
			if err := lim.rpm.Wait(ctx); err != nil {
				return classify(err)
			}
		}
		if lim.tpm != nil {
			if err := lim.tpm.WaitN(ctx, capBurst(estTokens, lim.tpm.Burst())); err != nil {
				return classify(err)
			}
		}
		return nil
	}
	if lim.rpm != nil && !lim.rpm.Allow() {
		return apperrors.ErrRateLimited.WithDetail("requests per minute limit reached for " + d.Name)
	}
	if lim.tpm != nil && !lim.tpm.AllowN(time.Now(), capBurst(estTokens, lim.tpm.Burst())) {
		return apperrors.ErrRateLimited.WithDetail("tokens per minute limit reached for " + d.Name)
	}
	return nil
}

func (c *Client) limiterFor(d entity.ModelDeployment) *deploymentLimiter {
	if d.RequestsPerMinute <= 0 && d.TokensPerMinute <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if lim, ok := c.limiters[d.Name]; ok {
		return lim
	}
	lim := &deploymentLimiter{}
	if d.RequestsPerMinute > 0 {
		lim.rpm = rate.NewLimiter(rate.Limit(d.RequestsPerMinute)/60, d.RequestsPerMinute)
	}
	if d.TokensPerMinute > 0 {
		lim.tpm = rate.NewLimiter(rate.Limit(d.TokensPerMinute)/60, d.TokensPerMinute)
	}
	c.limiters[d.Name] = lim
	return lim
}

// bill 记一条计费流水。台账写失败不打断生成主流程，只记日志。
func (c *Client) bill(ctx context.Context, userID, m string, in, out int, elapsed time.Duration, succeeded bool) {
	_, err := c.recorder.RecordAttempt(context.WithoutCancel(ctx), service.AttemptUsage{
		UserID:       userID,
		Model:        m,
		InputTokens:  in,
		OutputTokens: out,
		DurationMs:   int(elapsed.Milliseconds()),
		Succeeded:    succeeded,
	})
	if err != nil {
		logger.Error(ctx, "计费流水写入失败", err, "model", m, "user_id", userID)
	}
	metrics.LLMTokensUsed.WithLabelValues(m, "input").Add(float64(in))
	metrics.LLMTokensUsed.WithLabelValues(m, "output").Add(float64(out))
}

func (c *Client) maxAttempts() int {
	if c.retry.MaxAttempts <= 0 {
		return 1
	}
	return c.retry.MaxAttempts
}

// sleep 指数退避加 ±20% 抖动
func (c *Client) sleep(ctx context.Context, attempt int) error {
	backoff := c.retry.InitialBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if c.retry.MaxBackoff > 0 && backoff > c.retry.MaxBackoff {
		backoff = c.retry.MaxBackoff
	}
	jitter := time.Duration((rand.Float64()*0.4 - 0.2) * float64(backoff))
	select {
	case <-time.After(backoff + jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func usageTokens(msg *schema.Message, fallbackInput int) (in, out int) {
	in = fallbackInput
	if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
		if msg.ResponseMeta.Usage.PromptTokens > 0 {
			in = msg.ResponseMeta.Usage.PromptTokens
		}
		out = msg.ResponseMeta.Usage.CompletionTokens
	}
	if out == 0 {
		out = utils.EstimateTokens(msg.Content)
	}
	return in, out
}

func capBurst(n, burst int) int {
	if n > burst {
		return burst
	}
	if n < 1 {
		return 1
	}
	return n
}
