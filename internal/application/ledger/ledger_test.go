package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-answer-api/internal/config"
	"rag-answer-api/internal/domain/entity"
	"rag-answer-api/internal/domain/service"
	apperrors "rag-answer-api/pkg/errors"
)

type memoryRepo struct {
	mu      sync.Mutex
	records []*entity.UsageRecord
}

func (r *memoryRepo) Create(_ context.Context, record *entity.UsageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *record
	r.records = append(r.records, &copied)
	return nil
}

func (r *memoryRepo) SumCost(_ context.Context, userID string, start, end time.Time) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum float64
	for _, rec := range r.records {
		if userID != "" && rec.UserID != userID {
			continue
		}
		if rec.CreatedAt.Before(start) || !rec.CreatedAt.Before(end) {
			continue
		}
		sum += rec.Cost
	}
	return sum, nil
}

func (r *memoryRepo) Aggregate(_ context.Context, userID string, start, end time.Time) (*entity.UsageAggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agg := &entity.UsageAggregate{CostByModel: make(map[string]float64)}
	for _, rec := range r.records {
		if userID != "" && rec.UserID != userID {
			continue
		}
		if rec.CreatedAt.Before(start) || !rec.CreatedAt.Before(end) {
			continue
		}
		agg.TotalCost += rec.Cost
		agg.TotalInputTokens += int64(rec.InputTokens)
		agg.TotalOutputTokens += int64(rec.OutputTokens)
		agg.RequestCount++
		agg.CostByModel[rec.Model] += rec.Cost
	}
	return agg, nil
}

func testDeployments() map[string]entity.ModelDeployment {
	return map[string]entity.ModelDeployment{
		"cheap": {
			Name: "cheap", Model: "cheap",
			InputPricePer1K: 0.5, OutputPricePer1K: 1.5,
		},
		"premium": {
			Name: "premium", Model: "premium",
			InputPricePer1K: 5, OutputPricePer1K: 15,
		},
	}
}

func newTestLedger(repo *memoryRepo, budget config.BudgetConfig) *Ledger {
	if budget.SnapshotTTL == 0 {
		budget.SnapshotTTL = time.Millisecond
	}
	return New(repo, testDeployments(), budget)
}

func TestEstimateCostKnownModel(t *testing.T) {
	l := newTestLedger(&memoryRepo{}, config.BudgetConfig{})
	// 1000 入 + 1000 出 @ cheap = 0.5 + 1.5
	assert.InDelta(t, 2.0, l.EstimateCost("cheap", 1000, 1000), 1e-9)
}

func TestEstimateCostUnknownModelUsesMostExpensiveTier(t *testing.T) {
	l := newTestLedger(&memoryRepo{}, config.BudgetConfig{})
	assert.InDelta(t, 20.0, l.EstimateCost("no-such-model", 1000, 1000), 1e-9)
}

func TestCheckAdmissionAllowsWithinCeiling(t *testing.T) {
	l := newTestLedger(&memoryRepo{}, config.BudgetConfig{DailyCeilingPerUser: 5})
	err := l.CheckAdmission(context.Background(), "u1", "cheap", 1000, 1000)
	assert.NoError(t, err)
}

func TestCheckAdmissionDeniesOverCeiling(t *testing.T) {
	repo := &memoryRepo{}
	l := newTestLedger(repo, config.BudgetConfig{DailyCeilingPerUser: 3})

	// 先累计 2.0 成本，再预估 2.0：2 + 2 > 3 拒绝
	_, err := l.RecordAttempt(context.Background(), service.AttemptUsage{
		UserID: "u1", Model: "cheap", InputTokens: 1000, OutputTokens: 1000, Succeeded: true,
	})
	require.NoError(t, err)

	err = l.CheckAdmission(context.Background(), "u1", "cheap", 1000, 1000)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrBudgetExceeded))
}

func TestCheckAdmissionExactlyAtCeilingAllowed(t *testing.T) {
	repo := &memoryRepo{}
	l := newTestLedger(repo, config.BudgetConfig{DailyCeilingPerUser: 4})

	_, err := l.RecordAttempt(context.Background(), service.AttemptUsage{
		UserID: "u1", Model: "cheap", InputTokens: 1000, OutputTokens: 1000, Succeeded: true,
	})
	require.NoError(t, err)

	// 已用 2.0，预估 2.0，恰好等于上限 4.0：放行
	assert.NoError(t, l.CheckAdmission(context.Background(), "u1", "cheap", 1000, 1000))
}

func TestCheckAdmissionZeroRemainingDeniesAnyEstimate(t *testing.T) {
	repo := &memoryRepo{}
	l := newTestLedger(repo, config.BudgetConfig{DailyCeilingPerUser: 2})

	_, err := l.RecordAttempt(context.Background(), service.AttemptUsage{
		UserID: "u1", Model: "cheap", InputTokens: 1000, OutputTokens: 1000, Succeeded: true,
	})
	require.NoError(t, err)

	// 剩余为 0，任何正预估都拒绝
	err = l.CheckAdmission(context.Background(), "u1", "cheap", 10, 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrBudgetExceeded))
}

func TestCheckAdmissionGlobalCeiling(t *testing.T) {
	repo := &memoryRepo{}
	l := newTestLedger(repo, config.BudgetConfig{
		DailyCeilingPerUser:   1000,
		MonthlyCeilingPerUser: 1000,
		GlobalMonthlyCeiling:  3,
	})

	// 其他用户的消耗也计入全局上限
	_, err := l.RecordAttempt(context.Background(), service.AttemptUsage{
		UserID: "other", Model: "cheap", InputTokens: 1000, OutputTokens: 1000, Succeeded: true,
	})
	require.NoError(t, err)

	err = l.CheckAdmission(context.Background(), "u1", "cheap", 1000, 1000)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrBudgetExceeded))
}

func TestRecordAttemptPersistsAndReturnsCost(t *testing.T) {
	repo := &memoryRepo{}
	l := newTestLedger(repo, config.BudgetConfig{})

	cost, err := l.RecordAttempt(context.Background(), service.AttemptUsage{
		UserID: "u1", Model: "cheap", InputTokens: 2000, OutputTokens: 500,
		DurationMs: 1200, Succeeded: true,
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.75, cost, 1e-9)

	require.Len(t, repo.records, 1)
	rec := repo.records[0]
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, time.UTC, rec.CreatedAt.Location())
}

func TestRecordAttemptFailedAttemptStillBilled(t *testing.T) {
	repo := &memoryRepo{}
	l := newTestLedger(repo, config.BudgetConfig{})

	cost, err := l.RecordAttempt(context.Background(), service.AttemptUsage{
		UserID: "u1", Model: "cheap", InputTokens: 1000, OutputTokens: 0, Succeeded: false,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, cost, 1e-9)
	require.Len(t, repo.records, 1)
	assert.False(t, repo.records[0].Succeeded)
}

func TestRecordAttemptConcurrentNoLostUpdates(t *testing.T) {
	repo := &memoryRepo{}
	l := newTestLedger(repo, config.BudgetConfig{})

	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.RecordAttempt(context.Background(), service.AttemptUsage{
				UserID: "u1", Model: "cheap", InputTokens: 1000, OutputTokens: 0, Succeeded: true,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	now := time.Now().UTC()
	sum, err := repo.SumCost(context.Background(), "u1", now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 0.5*n, sum, 1e-9)
}

func TestRemainingClampsAtZero(t *testing.T) {
	repo := &memoryRepo{}
	l := newTestLedger(repo, config.BudgetConfig{DailyCeilingPerUser: 1, MonthlyCeilingPerUser: 1})

	_, err := l.RecordAttempt(context.Background(), service.AttemptUsage{
		UserID: "u1", Model: "cheap", InputTokens: 4000, OutputTokens: 0, Succeeded: true,
	})
	require.NoError(t, err)

	daily, monthly, err := l.Remaining(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, daily)
	assert.Equal(t, 0.0, monthly)
}

func TestReportAggregates(t *testing.T) {
	repo := &memoryRepo{}
	l := newTestLedger(repo, config.BudgetConfig{})
	ctx := context.Background()

	for _, model := range []string{"cheap", "premium"} {
		_, err := l.RecordAttempt(ctx, service.AttemptUsage{
			UserID: "u1", Model: model, InputTokens: 1000, OutputTokens: 1000, Succeeded: true,
		})
		require.NoError(t, err)
	}

	now := time.Now().UTC()
	agg, err := l.Report(ctx, "u1", now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), agg.RequestCount)
	assert.InDelta(t, 22.0, agg.TotalCost, 1e-9)
	assert.Len(t, agg.CostByModel, 2)
}
