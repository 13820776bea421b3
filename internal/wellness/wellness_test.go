package wellness

import (
	"context"
	"testing"

	"github.com/Saispecial/avika-backend-api/internal/directive"
	"github.com/Saispecial/avika-backend-api/internal/emotion"
	"github.com/Saispecial/avika-backend-api/internal/models"
	"github.com/Saispecial/avika-backend-api/internal/safety"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeSession(t *testing.T) {
	svc := NewService(1)
	got := svc.AnalyzeSession(context.Background(), []string{
		"I've been so worried lately",
		"the panic comes at night",
	})

	assert.Equal(t, string(emotion.Anxiety), got.DominantEmotion)
	assert.Equal(t, directive.Insight(emotion.Anxiety), got.Insight)
	assert.Equal(t, directive.SessionActivities(), got.Activities)

	empty := svc.AnalyzeSession(context.Background(), nil)
	assert.Equal(t, string(emotion.Neutral), empty.DominantEmotion)
}

func TestGenerateRecommendations(t *testing.T) {
	ctx := context.Background()

	recs := NewService(7).GenerateRecommendations(ctx, 0)
	require.Len(t, recs, DefaultRecommendationCount)
	seen := map[string]bool{}
	for _, r := range recs {
		assert.False(t, seen[r], "duplicate activity %q", r)
		seen[r] = true
	}

	assert.Equal(t,
		NewService(42).GenerateRecommendations(ctx, 3),
		NewService(42).GenerateRecommendations(ctx, 3),
		"same seed must give the same picks")

	assert.Len(t, NewService(1).GenerateRecommendations(ctx, 100), 5)
}

func TestSafetyCheckReportsRealTier(t *testing.T) {
	svc := NewService(1)
	tests := []struct {
		message  string
		level    safety.RiskLevel
		selfHarm bool
	}{
		{"I want to end my life", safety.RiskHigh, true},
		{"I feel hopeless", safety.RiskMedium, true},
		{"I feel so alone", safety.RiskLow, true},
		{"just a normal day", safety.RiskLow, false},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			got := svc.SafetyCheck(context.Background(), tt.message)
			assert.Equal(t, string(tt.level), got.RiskLevel)
			assert.Equal(t, tt.selfHarm, got.SelfHarmDetected)
			assert.Equal(t, safety.SupportMessage(tt.level), got.Message)
			assert.Equal(t, safety.Helplines(), got.Helplines)
		})
	}
}

func TestHandle(t *testing.T) {
	ctx := context.Background()
	svc := NewService(1)

	res, err := svc.Handle(ctx, models.WellnessGenerateRecommendations, models.WellnessRequest{Count: 2})
	require.NoError(t, err)
	assert.Len(t, res, 2)

	res, err = svc.Handle(ctx, models.WellnessSafetyCheck, models.WellnessRequest{Message: "I feel hopeless"})
	require.NoError(t, err)
	check, ok := res.(models.SafetyCheckResult)
	require.True(t, ok)
	assert.Equal(t, string(safety.RiskMedium), check.RiskLevel)

	res, err = svc.Handle(ctx, models.WellnessAnalyzeSession, models.WellnessRequest{ConversationHistory: []string{"so angry"}})
	require.NoError(t, err)
	assert.IsType(t, models.SessionAnalysis{}, res)

	_, err = svc.Handle(ctx, models.WellnessSafetyCheck, models.WellnessRequest{})
	assert.ErrorIs(t, err, models.ErrMissingWellnessArg)

	_, err = svc.Handle(ctx, "unknown", models.WellnessRequest{})
	assert.ErrorIs(t, err, models.ErrUnsupportedAction)
}
