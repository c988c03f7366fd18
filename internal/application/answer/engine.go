// Package answer 实现问答主流程编排
package answer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"rag-answer-api/internal/application/cache"
	"rag-answer-api/internal/application/ledger"
	"rag-answer-api/internal/application/modelrouter"
	"rag-answer-api/internal/application/retrieval"
	"rag-answer-api/internal/config"
	"rag-answer-api/internal/domain/entity"
	apperrors "rag-answer-api/pkg/errors"
	"rag-answer-api/pkg/logger"
	"rag-answer-api/pkg/metrics"
	"rag-answer-api/pkg/tracer"
)

// Generation 一次生成调用的最终产出
type Generation struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// StreamChunk 流式生成的一个增量。Err 非空表示流异常终止，
// 之后不会再有增量。
type StreamChunk struct {
	Delta string
	Err   error
}

// Generator 生成端口，由 LLM 客户端实现。
// 实现内部负责限流、重试与逐次计费；返回时计费已完成。
type Generator interface {
	Complete(ctx context.Context, d entity.ModelDeployment, prompt, userID string) (*Generation, error)
	Stream(ctx context.Context, d entity.ModelDeployment, prompt, userID string) (<-chan StreamChunk, error)
}

// Engine 问答主流程：缓存 → 检索 → 路由 → 预算准入 → 生成 → 记账 → 回填缓存
type Engine struct {
	orchestrator *retrieval.Orchestrator
	router       *modelrouter.Router
	ledger       *ledger.Ledger
	generator    Generator
	cache        *cache.TieredCache
	keyer        cache.Keyer
	precomputer  *cache.Precomputer
	cfg          config.AnswerConfig
	answerTTL    time.Duration
	reserve      int
}

// NewEngine 创建问答引擎
func NewEngine(
	orchestrator *retrieval.Orchestrator,
	router *modelrouter.Router,
	ldg *ledger.Ledger,
	generator Generator,
	tiered *cache.TieredCache,
	precomputer *cache.Precomputer,
	cfg config.AnswerConfig,
	answerTTL time.Duration,
	reserveTokens int,
) *Engine {
	return &Engine{
		orchestrator: orchestrator,
		router:       router,
		ledger:       ldg,
		generator:    generator,
		cache:        tiered,
		precomputer:  precomputer,
		cfg:          cfg,
		answerTTL:    answerTTL,
		reserve:      reserveTokens,
	}
}

// Answer 处理一次完整问答。整个流程受统一截止时间约束，
// 超时返回 CodeTimeout 而不是把半成品返回给调用方。
func (e *Engine) Answer(ctx context.Context, query entity.Query) (*entity.AnswerResult, error) {
	ctx, span := tracer.Start(ctx, "answer.Answer")
	defer span.End()

	if err := validateQuery(query); err != nil {
		return nil, err
	}
	if e.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Deadline)
		defer cancel()
	}
	start := time.Now()

	prep, err := e.prepare(ctx, query)
	if err != nil {
		metrics.AnswerTotal.WithLabelValues("error").Inc()
		return nil, mapDeadline(ctx, err)
	}
	if prep.cached != nil {
		metrics.AnswerTotal.WithLabelValues("cache_hit").Inc()
		return prep.cached, nil
	}

	if err := e.ledger.CheckAdmission(ctx, query.UserID, prep.deployment.Model, prep.promptTokens, prep.deployment.MaxOutputTokens); err != nil {
		metrics.AnswerTotal.WithLabelValues("denied").Inc()
		return nil, err
	}

	gen, err := e.generator.Complete(ctx, prep.deployment, prep.prompt, query.UserID)
	if err != nil {
		metrics.AnswerTotal.WithLabelValues("error").Inc()
		return nil, mapDeadline(ctx, err)
	}

	result := e.assemble(query, prep, gen.Text)
	// 降级场景的答案不缓存：证据不完整的回答不应在证据恢复后继续命中
	if !prep.rctx.Degraded {
		e.storeAnswer(ctx, prep.cacheKey, result)
		e.storeAnswer(ctx, prep.questionKey, result)
	}

	metrics.AnswerTotal.WithLabelValues("ok").Inc()
	metrics.AnswerDuration.WithLabelValues(prep.deployment.Model).Observe(time.Since(start).Seconds())
	metrics.AnswerConfidence.Observe(result.Confidence)
	return result, nil
}

// AnswerStream 流式问答。增量逐段推送；流正常完结后组装完整结果
// 写入答案缓存，最后一个 chunk 之后通过 final 通道给出完整结果。
func (e *Engine) AnswerStream(ctx context.Context, query entity.Query) (<-chan StreamChunk, <-chan *entity.AnswerResult, error) {
	ctx, span := tracer.Start(ctx, "answer.AnswerStream")

	if err := validateQuery(query); err != nil {
		span.End()
		return nil, nil, err
	}
	var cancel context.CancelFunc = func() {}
	if e.cfg.Deadline > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Deadline)
	}

	prep, err := e.prepare(ctx, query)
	if err != nil {
		cancel()
		span.End()
		return nil, nil, mapDeadline(ctx, err)
	}

	chunks := make(chan StreamChunk, 8)
	final := make(chan *entity.AnswerResult, 1)

	// 缓存命中：整个答案作为单个增量推送，语义与冷路径一致
	if prep.cached != nil {
		metrics.AnswerTotal.WithLabelValues("cache_hit").Inc()
		go func() {
			defer cancel()
			defer span.End()
			defer close(chunks)
			defer close(final)
			chunks <- StreamChunk{Delta: prep.cached.Answer}
			final <- prep.cached
		}()
		return chunks, final, nil
	}

	if err := e.ledger.CheckAdmission(ctx, query.UserID, prep.deployment.Model, prep.promptTokens, prep.deployment.MaxOutputTokens); err != nil {
		cancel()
		span.End()
		metrics.AnswerTotal.WithLabelValues("denied").Inc()
		return nil, nil, err
	}

	upstream, err := e.generator.Stream(ctx, prep.deployment, prep.prompt, query.UserID)
	if err != nil {
		cancel()
		span.End()
		metrics.AnswerTotal.WithLabelValues("error").Inc()
		return nil, nil, mapDeadline(ctx, err)
	}

	go func() {
		defer cancel()
		defer span.End()
		defer close(chunks)
		defer close(final)

		// 所有下发都带 ctx 逃生口：消费方停止读取后取消请求，
		// 转发协程必须退出并关闭通道，不能永久阻塞在发送上
		var b strings.Builder
		for chunk := range upstream {
			if chunk.Err != nil {
				metrics.AnswerTotal.WithLabelValues("error").Inc()
				select {
				case chunks <- StreamChunk{Err: chunk.Err}:
				case <-ctx.Done():
				}
				return
			}
			b.WriteString(chunk.Delta)
			select {
			case chunks <- StreamChunk{Delta: chunk.Delta}:
			case <-ctx.Done():
				metrics.AnswerTotal.WithLabelValues("error").Inc()
				return
			}
		}

		result := e.assemble(query, prep, b.String())
		if !prep.rctx.Degraded {
			e.storeAnswer(ctx, prep.cacheKey, result)
			e.storeAnswer(ctx, prep.questionKey, result)
		}
		metrics.AnswerTotal.WithLabelValues("ok").Inc()
		metrics.AnswerConfidence.Observe(result.Confidence)
		select {
		case final <- result:
		case <-ctx.Done():
		}
	}()
	return chunks, final, nil
}

// prepared 冷热路径共享的前置产出
type prepared struct {
	rctx         *retrieval.Context
	deployment   entity.ModelDeployment
	prompt       string
	promptTokens int
	cacheKey     string
	questionKey  string
	cached       *entity.AnswerResult
}

// prepare 执行生成前的公共阶段：答案缓存探测、检索、路由。
// 缓存探测分两级：问题级键在抽取与检索之前判定，重复问题不再
// 触发检索链路；prompt 级键在路由之后兜底，覆盖历史措辞不同但
// 最终 prompt 一致的情况。
func (e *Engine) prepare(ctx context.Context, query entity.Query) (*prepared, error) {
	e.precomputer.Observe(ctx, query.Question)

	questionKey := e.keyer.QuestionKey(query.Question, flattenHistory(query.History))
	if cached, ok := e.lookupAnswer(ctx, questionKey); ok {
		return &prepared{questionKey: questionKey, cached: cached}, nil
	}

	rctx, err := e.orchestrator.Retrieve(ctx, query.Question)
	if err != nil {
		return nil, err
	}

	prompt := retrieval.BuildPrompt(query.Question, query.History, rctx, e.cfg.MaxContextSnippets, e.cfg.MaxRelations)
	promptTokens := retrieval.EstimateTokens(prompt)

	dailyRemaining, monthlyRemaining, err := e.ledger.Remaining(ctx, query.UserID)
	if err != nil {
		return nil, err
	}
	remaining := dailyRemaining
	if monthlyRemaining < remaining {
		remaining = monthlyRemaining
	}

	deployment, err := e.router.Select(modelrouter.Input{
		PromptTokens:    promptTokens,
		ReserveTokens:   e.reserve,
		Confidence:      rctx.Confidence,
		RemainingBudget: remaining,
		DeepReasoning:   query.DeepReasoning,
	})
	if err != nil {
		return nil, err
	}

	prep := &prepared{
		rctx:         rctx,
		deployment:   deployment,
		prompt:       prompt,
		promptTokens: promptTokens,
		cacheKey:     e.keyer.AnswerKey(deployment.Model, prompt, rctx.Fingerprint),
		questionKey:  questionKey,
	}

	if cached, ok := e.lookupAnswer(ctx, prep.cacheKey); ok {
		prep.cached = cached
		// 回填问题级键，下一次同样的问题在检索之前就能命中
		e.storeAnswer(ctx, questionKey, cached)
	}
	return prep, nil
}

// lookupAnswer 探测答案缓存并反序列化；载荷损坏按未命中处理
func (e *Engine) lookupAnswer(ctx context.Context, key string) (*entity.AnswerResult, bool) {
	payload, ok := e.cache.Lookup(ctx, cache.KindAnswer, key)
	if !ok {
		return nil, false
	}
	var cached entity.AnswerResult
	if err := json.Unmarshal(payload, &cached); err != nil {
		logger.Warn(ctx, "答案缓存载荷损坏，按未命中处理", "key", key)
		return nil, false
	}
	cached.Cached = true
	return &cached, true
}

// flattenHistory 将会话历史压平为键派生用的字符串序列
func flattenHistory(history []entity.Turn) []string {
	if len(history) == 0 {
		return nil
	}
	out := make([]string, len(history))
	for i, turn := range history {
		out[i] = turn.Role + ": " + turn.Content
	}
	return out
}

// assemble 组装最终结果
func (e *Engine) assemble(query entity.Query, prep *prepared, text string) *entity.AnswerResult {
	return &entity.AnswerResult{
		Answer:       text,
		Sources:      prep.rctx.Sources(e.cfg.MaxContextSnippets),
		Confidence:   prep.rctx.Confidence,
		Entities:     prep.rctx.Entities,
		ModelUsed:    prep.deployment.Model,
		TimestampUTC: time.Now().UTC().Format(time.RFC3339),
		Cached:       false,
	}
}

// storeAnswer 将结果写入答案缓存
func (e *Engine) storeAnswer(ctx context.Context, key string, result *entity.AnswerResult) {
	if result.Answer == "" || e.answerTTL <= 0 {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	e.cache.Store(context.WithoutCancel(ctx), cache.KindAnswer, key, payload, e.answerTTL)
}

func validateQuery(query entity.Query) error {
	if strings.TrimSpace(query.Question) == "" {
		return apperrors.ErrInvalidParam.WithDetail("question must not be empty")
	}
	if query.UserID == "" {
		return apperrors.ErrInvalidParam.WithDetail("user id must not be empty")
	}
	return nil
}

// mapDeadline 把 context 超时统一映射为查询超时错误
func mapDeadline(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.ErrTimeout.WithError(err)
	}
	return err
}
