// Package wellness implements the stateless wellness actions: session
// analysis, activity recommendations and standalone safety checks.
package wellness

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/Saispecial/avika-backend-api/internal/directive"
	"github.com/Saispecial/avika-backend-api/internal/emotion"
	"github.com/Saispecial/avika-backend-api/internal/metrics"
	"github.com/Saispecial/avika-backend-api/internal/models"
	"github.com/Saispecial/avika-backend-api/internal/safety"
)

// DefaultRecommendationCount is used when a request does not set count.
const DefaultRecommendationCount = 3

// Service runs wellness actions. It is safe for concurrent use.
type Service struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewService seeds the recommendation picker. The same seed yields the same
// sequence of picks.
func NewService(seed uint64) *Service {
	return &Service{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Handle validates req for action and dispatches it. The result is one of
// models.SessionAnalysis, []string or models.SafetyCheckResult.
func (s *Service) Handle(ctx context.Context, action models.WellnessAction, req models.WellnessRequest) (any, error) {
	if err := req.Validate(action); err != nil {
		return nil, err
	}
	metrics.RecordWellnessRequest(string(action))

	switch action {
	case models.WellnessAnalyzeSession:
		return s.AnalyzeSession(ctx, req.ConversationHistory), nil
	case models.WellnessGenerateRecommendations:
		return s.GenerateRecommendations(ctx, req.Count), nil
	case models.WellnessSafetyCheck:
		return s.SafetyCheck(ctx, req.Message), nil
	default:
		return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedAction, action)
	}
}

// AnalyzeSession classifies the whole history as one text.
func (s *Service) AnalyzeSession(_ context.Context, history []string) models.SessionAnalysis {
	label := emotion.Classify(strings.Join(history, " "))
	slog.Debug("wellness.AnalyzeSession: analyzed", "entries", len(history), "emotion", label)
	return models.SessionAnalysis{
		DominantEmotion: string(label),
		Insight:         directive.Insight(label),
		Activities:      directive.SessionActivities(),
	}
}

// GenerateRecommendations picks count distinct activities. count <= 0
// means DefaultRecommendationCount.
func (s *Service) GenerateRecommendations(_ context.Context, count int) []string {
	if count <= 0 {
		count = DefaultRecommendationCount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return directive.PickActivities(s.rng, count)
}

// SafetyCheck reports the detector's tier for message.
func (s *Service) SafetyCheck(_ context.Context, message string) models.SafetyCheckResult {
	res := safety.Detect(message)
	metrics.RecordRiskLevel(string(res.RiskLevel))
	if res.RiskLevel == safety.RiskHigh {
		metrics.RecordCrisis()
	}
	slog.Debug("wellness.SafetyCheck: checked", "riskLevel", res.RiskLevel, "matchedTerms", len(res.MatchedTerms))
	return models.SafetyCheckResult{
		RiskLevel:        string(res.RiskLevel),
		SelfHarmDetected: res.SelfHarmDetected,
		Message:          safety.SupportMessage(res.RiskLevel),
		Helplines:        safety.Helplines(),
	}
}
