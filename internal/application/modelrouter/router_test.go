package modelrouter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-answer-api/internal/domain/entity"
	apperrors "rag-answer-api/pkg/errors"
)

func routerDeployments() map[string]entity.ModelDeployment {
	return map[string]entity.ModelDeployment{
		"mini": {
			Name: "mini", Model: "gpt-4o-mini",
			ContextWindow: 16000, MaxOutputTokens: 1000,
			InputPricePer1K: 0.15, OutputPricePer1K: 0.6,
			Capability: 1,
		},
		"standard": {
			Name: "standard", Model: "gpt-4o",
			ContextWindow: 64000, MaxOutputTokens: 2000,
			InputPricePer1K: 2.5, OutputPricePer1K: 10,
			Capability: 2,
		},
		"premium": {
			Name: "premium", Model: "o3",
			ContextWindow: 128000, MaxOutputTokens: 4000,
			InputPricePer1K: 10, OutputPricePer1K: 40,
			Capability: 3,
		},
	}
}

func TestSelectDefaultsToCheapest(t *testing.T) {
	r := New(routerDeployments(), 0.5)
	d, err := r.Select(Input{
		PromptTokens: 1000, ReserveTokens: 500,
		Confidence: 0.9, RemainingBudget: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, "mini", d.Name)
}

func TestSelectEscalatesOnLowConfidence(t *testing.T) {
	r := New(routerDeployments(), 0.5)
	d, err := r.Select(Input{
		PromptTokens: 1000, ReserveTokens: 500,
		Confidence: 0.3, RemainingBudget: 1000,
	})
	require.NoError(t, err)
	assert.Equal(t, "premium", d.Name)
}

func TestSelectEscalatesOnDeepReasoning(t *testing.T) {
	r := New(routerDeployments(), 0.5)
	d, err := r.Select(Input{
		PromptTokens: 1000, ReserveTokens: 500,
		Confidence: 0.9, RemainingBudget: 1000, DeepReasoning: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "premium", d.Name)
}

func TestSelectSkipsModelsThatCannotFitContext(t *testing.T) {
	r := New(routerDeployments(), 0.5)
	// 20k prompt 放不进 mini 的 16k 窗口
	d, err := r.Select(Input{
		PromptTokens: 20000, ReserveTokens: 1000,
		Confidence: 0.9, RemainingBudget: 1000,
	})
	require.NoError(t, err)
	assert.Equal(t, "standard", d.Name)
}

func TestSelectRejectsWhenNothingFits(t *testing.T) {
	r := New(routerDeployments(), 0.5)
	_, err := r.Select(Input{
		PromptTokens: 500000, ReserveTokens: 1000,
		Confidence: 0.9, RemainingBudget: 1000,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUpstreamRejected))
}

func TestSelectFallsBackWhenEscalationUnaffordable(t *testing.T) {
	r := New(routerDeployments(), 0.5)
	// 低置信度想升级 premium，但预算只够 mini
	d, err := r.Select(Input{
		PromptTokens: 1000, ReserveTokens: 500,
		Confidence: 0.3, RemainingBudget: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "mini", d.Name)
}

func TestSelectBudgetExceededWhenNothingAffordable(t *testing.T) {
	r := New(routerDeployments(), 0.5)
	_, err := r.Select(Input{
		PromptTokens: 1000, ReserveTokens: 500,
		Confidence: 0.9, RemainingBudget: 0.0001,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrBudgetExceeded))
}

func TestSelectDeterministic(t *testing.T) {
	in := Input{PromptTokens: 1000, ReserveTokens: 500, Confidence: 0.7, RemainingBudget: 100}
	first, err := New(routerDeployments(), 0.5).Select(in)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		d, err := New(routerDeployments(), 0.5).Select(in)
		require.NoError(t, err)
		assert.Equal(t, first.Name, d.Name)
	}
}
