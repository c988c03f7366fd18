// Package ledger 提供权威用量台账与预算准入
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"rag-answer-api/internal/config"
	"rag-answer-api/internal/domain/entity"
	"rag-answer-api/internal/domain/repository"
	"rag-answer-api/internal/domain/service"
	apperrors "rag-answer-api/pkg/errors"
	"rag-answer-api/pkg/logger"
	"rag-answer-api/pkg/metrics"
)

// Ledger 是成本的唯一权威来源：记账走流水表，准入基于窗口累计成本。
// 累计成本带 TTL 快照缓存，准入决策允许在 SnapshotTTL 内读到陈旧值，
// 记账后主动失效快照以缩短陈旧窗口。
type Ledger struct {
	repo        repository.UsageRecordRepository
	deployments map[string]entity.ModelDeployment
	budget      config.BudgetConfig
	snapshots   *gocache.Cache
}

var _ service.UsageRecorder = (*Ledger)(nil)

// New 创建台账服务
func New(repo repository.UsageRecordRepository, deployments map[string]entity.ModelDeployment, budget config.BudgetConfig) *Ledger {
	ttl := budget.SnapshotTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Ledger{
		repo:        repo,
		deployments: deployments,
		budget:      budget,
		snapshots:   gocache.New(ttl, 2*ttl),
	}
}

// EstimateCost 按模型单价估算一次调用成本。
// 未知模型按已配置部署中最贵的单价估算，宁可高估不可低估。
func (l *Ledger) EstimateCost(model string, inputTokens, outputTokens int) float64 {
	if d, ok := l.deployments[model]; ok {
		return d.EstimateCost(inputTokens, outputTokens)
	}
	var worst entity.ModelDeployment
	for _, d := range l.deployments {
		if d.InputPricePer1K+d.OutputPricePer1K > worst.InputPricePer1K+worst.OutputPricePer1K {
			worst = d
		}
	}
	return worst.EstimateCost(inputTokens, outputTokens)
}

// CheckAdmission 在调用上游前做预算准入。
// 拒绝条件：已累计成本 + 本次预估成本 > 上限（恰好达到上限仍放行）。
// 依次检查用户日上限、用户月上限、全局月上限（配置为 0 时跳过）。
func (l *Ledger) CheckAdmission(ctx context.Context, userID, model string, estInputTokens, estOutputTokens int) error {
	est := l.EstimateCost(model, estInputTokens, estOutputTokens)
	now := time.Now().UTC()

	checks := []struct {
		scope   string
		userID  string
		ceiling float64
		start   time.Time
	}{
		{"daily", userID, l.budget.DailyCeilingPerUser, startOfDay(now)},
		{"monthly", userID, l.budget.MonthlyCeilingPerUser, startOfMonth(now)},
		{"global", "", l.budget.GlobalMonthlyCeiling, startOfMonth(now)},
	}

	for _, c := range checks {
		if c.ceiling <= 0 {
			continue
		}
		used, err := l.windowCost(ctx, c.userID, c.start, now)
		if err != nil {
			// 台账不可读时保守拒绝：无法证明预算充足
			metrics.BudgetAdmissionTotal.WithLabelValues("error").Inc()
			return apperrors.ErrDatabaseError.WithError(err)
		}
		if used+est > c.ceiling {
			metrics.BudgetAdmissionTotal.WithLabelValues("denied").Inc()
			logger.Info(ctx, "预算准入拒绝",
				"scope", c.scope, "user_id", userID,
				"used", used, "estimated", est, "ceiling", c.ceiling)
			return apperrors.ErrBudgetExceeded.WithDetail(
				fmt.Sprintf("%s budget exhausted: used %.4f + estimated %.4f exceeds ceiling %.4f", c.scope, used, est, c.ceiling))
		}
	}
	metrics.BudgetAdmissionTotal.WithLabelValues("allowed").Inc()
	return nil
}

// RecordAttempt 为一次到达上游的调用尝试记一条流水并返回成本。
// 失败的尝试同样记账（保守计费）。写入后失效相关快照。
func (l *Ledger) RecordAttempt(ctx context.Context, usage service.AttemptUsage) (float64, error) {
	cost := l.EstimateCost(usage.Model, usage.InputTokens, usage.OutputTokens)
	record := &entity.UsageRecord{
		ID:           uuid.NewString(),
		UserID:       usage.UserID,
		Model:        usage.Model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		Cost:         cost,
		DurationMs:   usage.DurationMs,
		Succeeded:    usage.Succeeded,
		CreatedAt:    time.Now().UTC(),
	}
	if err := l.repo.Create(ctx, record); err != nil {
		return 0, apperrors.ErrDatabaseError.WithError(err)
	}

	l.snapshots.Delete(snapshotKey(usage.UserID, startOfDay(record.CreatedAt)))
	l.snapshots.Delete(snapshotKey(usage.UserID, startOfMonth(record.CreatedAt)))
	l.snapshots.Delete(snapshotKey("", startOfMonth(record.CreatedAt)))

	metrics.BudgetCostAccrued.WithLabelValues(usage.Model).Add(cost)
	return cost, nil
}

// Remaining 返回用户当前日度与月度剩余额度（已扣除累计成本，下限为 0）
func (l *Ledger) Remaining(ctx context.Context, userID string) (daily, monthly float64, err error) {
	now := time.Now().UTC()
	dailyUsed, err := l.windowCost(ctx, userID, startOfDay(now), now)
	if err != nil {
		return 0, 0, apperrors.ErrDatabaseError.WithError(err)
	}
	monthlyUsed, err := l.windowCost(ctx, userID, startOfMonth(now), now)
	if err != nil {
		return 0, 0, apperrors.ErrDatabaseError.WithError(err)
	}
	return clampNonNegative(l.budget.DailyCeilingPerUser - dailyUsed),
		clampNonNegative(l.budget.MonthlyCeilingPerUser - monthlyUsed), nil
}

// Report 汇总窗口内的用量报表。userID 为空时返回全局报表。
func (l *Ledger) Report(ctx context.Context, userID string, from, to time.Time) (*entity.UsageAggregate, error) {
	agg, err := l.repo.Aggregate(ctx, userID, from.UTC(), to.UTC())
	if err != nil {
		return nil, apperrors.ErrDatabaseError.WithError(err)
	}
	return agg, nil
}

// windowCost 读取窗口累计成本，优先走快照缓存
func (l *Ledger) windowCost(ctx context.Context, userID string, start, end time.Time) (float64, error) {
	key := snapshotKey(userID, start)
	if v, ok := l.snapshots.Get(key); ok {
		return v.(float64), nil
	}
	used, err := l.repo.SumCost(ctx, userID, start, end)
	if err != nil {
		return 0, err
	}
	l.snapshots.SetDefault(key, used)
	return used, nil
}

func snapshotKey(userID string, windowStart time.Time) string {
	return userID + "|" + windowStart.Format(time.RFC3339)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func clampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
