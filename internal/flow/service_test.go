package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/Saispecial/avika-backend-api/internal/dialogue"
	"github.com/Saispecial/avika-backend-api/internal/directive"
	"github.com/Saispecial/avika-backend-api/internal/emotion"
	"github.com/Saispecial/avika-backend-api/internal/models"
	"github.com/Saispecial/avika-backend-api/internal/safety"
	"github.com/Saispecial/avika-backend-api/internal/store"
	"github.com/Saispecial/avika-backend-api/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResponder struct {
	text  string
	err   error
	calls int
	last  dialogue.ConversationState
}

func (f *fakeResponder) Respond(_ context.Context, _ string, state dialogue.ConversationState, _ []string) (string, error) {
	f.calls++
	f.last = state
	return f.text, f.err
}

// conflictingStore fails the first n SaveState calls with a version conflict.
type conflictingStore struct {
	store.Store
	conflicts int
	saves     int
}

func (c *conflictingStore) SaveState(ctx context.Context, sessionID string, state dialogue.ConversationState, expectedVersion int64) (int64, error) {
	c.saves++
	if c.saves <= c.conflicts {
		return 0, store.ErrVersionConflict
	}
	return c.Store.SaveState(ctx, sessionID, state, expectedVersion)
}

func turn(sessionID, message string) models.ChatRequest {
	return models.ChatRequest{SessionID: sessionID, Message: message}
}

func TestHandleTurn_FirstNeutralTurnUsesFallback(t *testing.T) {
	ctx := context.Background()
	svc := NewService(store.NewInMemoryStore())

	res, err := svc.HandleTurn(ctx, turn("s1", "hello"))
	require.NoError(t, err)

	assert.Equal(t, string(dialogue.StageInitialQuestion), res.Stage)
	assert.Equal(t, 1, res.ExchangeCount)
	assert.Equal(t, directive.ActionRegular, res.ActionType)
	assert.Equal(t, string(safety.RiskLow), res.RiskLevel)
	assert.Equal(t, string(emotion.Neutral), res.Emotion)
	assert.Equal(t, directive.Fallback(dialogue.StageInitialQuestion, emotion.Neutral), res.Response)
	assert.Equal(t, safety.Recommendations(safety.RiskLow), res.Recommendations)
	assert.False(t, res.Replayed)

	state, version, err := svc.State(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	assert.Equal(t, dialogue.StageInitialQuestion, state.Stage)
}

func TestHandleTurn_EmotionalTurnAsksFollowUp(t *testing.T) {
	ctx := context.Background()
	resp := &fakeResponder{text: "generated"}
	svc := NewService(store.NewInMemoryStore(), WithResponder(resp))

	res, err := svc.HandleTurn(ctx, turn("s1", "I feel so anxious about work"))
	require.NoError(t, err)

	assert.Equal(t, string(dialogue.StageEmotionFollowUp), res.Stage)
	assert.Equal(t, directive.ActionFollowUp, res.ActionType)
	assert.Equal(t, string(emotion.Anxiety), res.Emotion)
	assert.Equal(t, directive.FollowUpText(emotion.Anxiety, 1), res.Response)
	assert.Zero(t, resp.calls, "follow-ups must not call the responder")
}

func TestHandleTurn_FollowUpMatchesReportedEmotion(t *testing.T) {
	ctx := context.Background()
	svc := NewService(store.NewInMemoryStore())

	for _, msg := range []string{"I feel sad", "ok"} {
		_, err := svc.HandleTurn(ctx, turn("s1", msg))
		require.NoError(t, err)
	}

	res, err := svc.HandleTurn(ctx, turn("s1", "I am anxious"))
	require.NoError(t, err)

	assert.Equal(t, string(dialogue.StageEmotionFollowUp), res.Stage)
	assert.Equal(t, string(emotion.Sadness), res.Emotion)
	assert.Equal(t, directive.FollowUpText(emotion.Sadness, 2), res.Response)
	assert.NotEqual(t, directive.FollowUpText(emotion.Anxiety, 2), res.Response)
}

func TestHandleTurn_ResponderTextAndFallback(t *testing.T) {
	ctx := context.Background()

	resp := &fakeResponder{text: "I'm here with you."}
	svc := NewService(store.NewInMemoryStore(), WithResponder(resp))
	res, err := svc.HandleTurn(ctx, turn("s1", "hello"))
	require.NoError(t, err)
	assert.Equal(t, "I'm here with you.", res.Response)
	assert.Equal(t, 1, resp.calls)
	assert.Equal(t, 1, resp.last.ExchangeCount)

	failing := &fakeResponder{err: errors.New("upstream down")}
	svc = NewService(store.NewInMemoryStore(), WithResponder(failing))
	res, err = svc.HandleTurn(ctx, turn("s2", "hello"))
	require.NoError(t, err)
	assert.Equal(t, directive.Fallback(dialogue.StageInitialQuestion, emotion.Neutral), res.Response)

	blank := &fakeResponder{text: "   "}
	svc = NewService(store.NewInMemoryStore(), WithResponder(blank))
	res, err = svc.HandleTurn(ctx, turn("s3", "hello"))
	require.NoError(t, err)
	assert.Equal(t, directive.Fallback(dialogue.StageInitialQuestion, emotion.Neutral), res.Response)
}

func TestHandleTurn_CrisisLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	resp := &fakeResponder{text: "generated"}
	svc := NewService(st, WithResponder(resp))

	_, err := svc.HandleTurn(ctx, turn("s1", "hello"))
	require.NoError(t, err)

	res, err := svc.HandleTurn(ctx, turn("s1", "I want to die"))
	require.NoError(t, err)

	crisis := safety.Crisis()
	assert.Equal(t, crisis.Message, res.Response)
	assert.Equal(t, crisis.Resources, res.Recommendations)
	assert.Equal(t, string(dialogue.StageSafetyIntervention), res.Stage)
	assert.Equal(t, EmotionCrisis, res.Emotion)
	assert.Equal(t, string(safety.RiskHigh), res.RiskLevel)
	assert.Equal(t, safety.ActionSafety, res.ActionType)
	assert.Equal(t, 1, res.ExchangeCount)
	assert.Equal(t, 1, resp.calls)

	state, version, err := svc.State(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	assert.Equal(t, 1, state.ExchangeCount)
	assert.Equal(t, dialogue.StageInitialQuestion, state.Stage)

	history, err := svc.History(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	last := history[1]
	assert.Equal(t, "I want to die", last.UserMessage)
	assert.Equal(t, string(dialogue.StageSafetyIntervention), last.Stage)
	assert.Equal(t, EmotionCrisis, last.Emotion)
	assert.Equal(t, safety.ActionSafety, last.ActionType)
}

func TestHandleTurn_CrisisOnFreshSession(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	svc := NewService(st)

	res, err := svc.HandleTurn(ctx, turn("fresh", "I have been thinking about suicide"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExchangeCount)

	_, version, err := st.LoadState(ctx, "fresh")
	require.NoError(t, err)
	assert.Zero(t, version, "crisis turns must not create state")
}

func TestHandleTurn_DuplicateMessageIsReplayed(t *testing.T) {
	ctx := context.Background()
	resp := &fakeResponder{text: "first reply"}
	svc := NewService(store.NewInMemoryStore(), WithResponder(resp))

	req := models.ChatRequest{SessionID: "s1", MessageID: "m1", Message: "hello"}
	first, err := svc.HandleTurn(ctx, req)
	require.NoError(t, err)

	resp.text = "second reply"
	second, err := svc.HandleTurn(ctx, req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Response, second.Response)
	assert.Equal(t, first.Stage, second.Stage)
	assert.Equal(t, first.ExchangeCount, second.ExchangeCount)
	assert.Equal(t, first.Recommendations, second.Recommendations)
	assert.Equal(t, 1, resp.calls)

	state, _, err := svc.State(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.ExchangeCount)
}

func TestHandleTurn_UnfinishedDuplicateIsReprocessed(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	svc := NewService(st)

	isNew, err := st.RecordInbound(ctx, "m1", "s1")
	require.NoError(t, err)
	require.True(t, isNew)

	res, err := svc.HandleTurn(ctx, models.ChatRequest{SessionID: "s1", MessageID: "m1", Message: "hello"})
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, 1, res.ExchangeCount)

	processed, err := st.IsProcessed(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestHandleTurn_ProcessedDuplicateWithoutTranscript(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	svc := NewService(st)

	_, err := st.RecordInbound(ctx, "m1", "s1")
	require.NoError(t, err)
	require.NoError(t, st.MarkProcessed(ctx, "m1"))

	_, err = svc.HandleTurn(ctx, models.ChatRequest{SessionID: "s1", MessageID: "m1", Message: "hello"})
	assert.ErrorIs(t, err, ErrReplayUnavailable)
}

func TestHandleTurn_CallToActionThenOngoingSupport(t *testing.T) {
	ctx := context.Background()
	svc := NewService(store.NewInMemoryStore())

	var res models.TurnResult
	var err error
	for i := 0; i < dialogue.CallToActionThreshold; i++ {
		res, err = svc.HandleTurn(ctx, turn("s1", "okay"))
		require.NoError(t, err)
	}
	assert.Equal(t, string(dialogue.StageCallToAction), res.Stage)
	assert.Equal(t, dialogue.CallToActionThreshold, res.ExchangeCount)
	assert.True(t, dialogue.ActionType(res.ActionType).IsValid())
	assert.NotEmpty(t, res.Recommendations)

	state, _, err := svc.State(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, state.CallToActionTriggered)
	assert.Equal(t, dialogue.ActionType(res.ActionType), state.LastActionType)

	prev := res.ActionType
	res, err = svc.HandleTurn(ctx, turn("s1", "okay"))
	require.NoError(t, err)
	assert.Equal(t, string(dialogue.StageOngoingSupport), res.Stage)
	assert.NotEqual(t, prev, res.ActionType)

	history, err := svc.History(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.NotEmpty(t, history[1].Resources)
}

func TestHandleTurn_RetriesVersionConflicts(t *testing.T) {
	ctx := context.Background()

	st := &conflictingStore{Store: store.NewInMemoryStore(), conflicts: 2}
	svc := NewService(st)
	res, err := svc.HandleTurn(ctx, turn("s1", "hello"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExchangeCount)
	assert.Equal(t, 3, st.saves)

	history, err := svc.History(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	st = &conflictingStore{Store: store.NewInMemoryStore(), conflicts: 10}
	svc = NewService(st, WithMaxAttempts(2))
	_, err = svc.HandleTurn(ctx, turn("s1", "hello"))
	assert.ErrorIs(t, err, ErrTooManyConflicts)
	assert.Equal(t, 2, st.saves)
}

func TestHandleTurn_RejectsInvalidRequests(t *testing.T) {
	ctx := context.Background()
	svc := NewService(store.NewInMemoryStore())

	_, err := svc.HandleTurn(ctx, turn("", "hello"))
	assert.ErrorIs(t, err, models.ErrEmptySessionID)

	_, err = svc.HandleTurn(ctx, turn("s1", ""))
	assert.ErrorIs(t, err, models.ErrEmptyMessage)
}

func TestHandleTurn_ConcurrentTurnsAreSerialized(t *testing.T) {
	ctx := context.Background()
	svc := NewService(store.NewInMemoryStore())

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.HandleTurn(ctx, models.ChatRequest{
				SessionID: "shared",
				MessageID: fmt.Sprintf("m%d", i),
				Message:   "okay",
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	state, version, err := svc.State(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, n, state.ExchangeCount)
	assert.Equal(t, int64(n), version)
	assert.Zero(t, svc.locks.len())
}

func TestHistoryAndReset(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	svc := NewService(st)

	for i := 0; i < 3; i++ {
		_, err := svc.HandleTurn(ctx, turn("s1", fmt.Sprintf("message %d", i)))
		require.NoError(t, err)
	}

	history, err := svc.History(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "message 1", history[0].UserMessage)
	assert.Equal(t, "message 2", history[1].UserMessage)

	empty, err := svc.History(ctx, "nobody", 0)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	require.NoError(t, svc.Reset(ctx, "s1"))
	state, version, err := svc.State(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.Equal(t, dialogue.NewConversationState(), state)
	testutil.AssertTranscriptLen(t, st, "s1", 3, "transcript survives reset")

	history, err = svc.History(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Len(t, history, 3, "reset keeps the transcript")

	assert.ErrorIs(t, svc.Reset(ctx, ""), models.ErrEmptySessionID)
}
