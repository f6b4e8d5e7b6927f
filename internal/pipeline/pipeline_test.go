package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apresai/conceptlab/internal/insight"
	"github.com/apresai/conceptlab/internal/interview"
	"github.com/apresai/conceptlab/internal/llm"
	"github.com/apresai/conceptlab/internal/llm/llmtest"
	"github.com/apresai/conceptlab/internal/model"
	"github.com/apresai/conceptlab/internal/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const (
	neutralAnalysis = `{"needsDeepDive": false, "triggers": [], "emotion": "neutral", "emotionIntensity": 0.1}`
	topicInsight    = `{"title": "Morning fit", "summary": "Fits rushed mornings.", "impact": "high", "relevantQuotes": ["fits my mornings"], "keyTakeaways": ["Lead with convenience"]}`
	summaryJSON     = `{"narrative": "A clear narrative.", "surprisingInsight": {"title": "Gap", "description": "Says yes, waits for deals.", "statedIntent": "Would buy", "inferredBehavior": "Buys on promotion"}, "suggestedFollowUp": {"question": "Which price unlocks trial?", "rationale": "Price is the barrier."}}`
)

func testConcept() model.Concept {
	return model.Concept{
		ID:             "c-oat",
		Name:           "Oat Morning",
		Brand:          "Verde",
		Category:       "Beverage",
		Description:    "A ready-to-drink oat breakfast.",
		Benefits:       []string{"fibre", "energy"},
		TargetAudience: "busy parents",
	}
}

func testPersonas(names ...string) []model.Persona {
	out := make([]model.Persona, len(names))
	for i, n := range names {
		out[i] = model.Persona{ID: fmt.Sprintf("p%d", i+1), Name: n, Archetype: "shopper"}
	}
	return out
}

// routes answers every component with healthy output; overrides replace single routes.
func routes(overrides map[string]llmtest.Responder) llmtest.Responder {
	r := map[string]llmtest.Responder{
		"moderator_review":    llmtest.Fail(&llm.StatusError{StatusCode: 500, Body: "internal"}),
		"orchestrator":        llmtest.Text(llmtest.Words(130)),
		"orchestrator_expand": llmtest.Text(llmtest.Words(120)),
		"analyzer":            llmtest.Text(neutralAnalysis),
		"topic_insight":       llmtest.Text(topicInsight),
		"executive_summary":   llmtest.Text(summaryJSON),
	}
	for k, v := range overrides {
		r[k] = v
	}
	return llmtest.ByComponent(r, nil)
}

func newTestEvaluator(c llm.Completer, mutate func(*Options)) *Evaluator {
	opts := DefaultOptions()
	opts.Insight = insight.Options{Mode: insight.TopicsFixed}
	opts.Concurrency = 2
	if mutate != nil {
		mutate(&opts)
	}
	e := NewEvaluator(c, nil, opts)
	var n atomic.Int32
	e.newID = func() string { return fmt.Sprintf("ev-%d", n.Add(1)) }
	e.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.FixedZone("CET", 3600)) }
	return e
}

func TestGenerateConversationalEvaluation_ModeratorFailureKeepsScript(t *testing.T) {
	backend := llmtest.New(routes(nil))
	e := newTestEvaluator(backend, nil)

	var events []progress.Event
	ev, err := e.GenerateConversationalEvaluation(context.Background(), testConcept(), testPersonas("Ana")[0], "", model.AdaptiveConfig{}, func(evt progress.Event) {
		events = append(events, evt)
	})
	require.NoError(t, err)

	want := interview.Substitute(interview.DefaultScript(), testConcept())
	require.Len(t, ev.Conversation, len(want))
	turns := backend.CallsFor("orchestrator")
	require.Len(t, turns, len(want))
	for i, q := range want {
		assert.Equal(t, q.Base, ev.Conversation[i].Question)
		assert.Contains(t, turns[i].UserPrompt, q.Base)
		assert.Contains(t, turns[i].UserPrompt, fmt.Sprintf("QUESTION %d OF %d", i+1, len(want)))
	}
	assert.Len(t, backend.CallsFor("moderator_review"), 1)

	assert.Equal(t, "ev-1", ev.ID)
	assert.Equal(t, "p1", ev.PersonaID)
	assert.Equal(t, "c-oat", ev.ConceptID)
	assert.Equal(t, "Ana", ev.UserInformation.Name)
	assert.Equal(t, "scripted", ev.Metadata.Model)
	assert.Equal(t, time.UTC, ev.Metadata.EvaluationDate.Location())
	assert.Equal(t, 1.0, ev.Metadata.Confidence)
	assert.Equal(t, 0.5, ev.Metadata.CoherenceScore)
	assert.Equal(t, "fixed", ev.Metadata.TopicMode)
	assert.Len(t, ev.ExecutiveSummary.Insights, insight.TopicCount)
	assert.Equal(t, "A clear narrative.", ev.ExecutiveSummary.Narrative)

	require.NotEmpty(t, events)
	assert.Equal(t, progress.StageReview, events[0].Stage)
	last := events[len(events)-1]
	assert.Equal(t, progress.StageComplete, last.Stage)
	assert.Equal(t, 1.0, last.Percent)
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].Percent, events[i-1].Percent, "progress never goes backwards")
	}
}

func TestGenerateConversationalEvaluation_FailedTurnsKeepTranscriptLength(t *testing.T) {
	var n atomic.Int32
	backend := llmtest.New(routes(map[string]llmtest.Responder{
		"orchestrator": func(llm.Request) (string, error) {
			if n.Add(1)%4 == 0 {
				return "", errors.New("read: connection reset")
			}
			return llmtest.Words(130), nil
		},
	}))
	ev, err := newTestEvaluator(backend, nil).GenerateConversationalEvaluation(context.Background(), testConcept(), testPersonas("Ana")[0], "", model.AdaptiveConfig{}, nil)
	require.NoError(t, err)

	require.Len(t, ev.Conversation, 11)
	degraded := 0
	for _, ex := range ev.Conversation {
		if ex.Degraded {
			degraded++
		}
	}
	assert.Equal(t, 2, degraded)
	assert.InDelta(t, 0.5+0.5*9.0/11.0, ev.Metadata.Confidence, 1e-9)
}

func TestGenerateConversationalEvaluation_MissingCredential(t *testing.T) {
	backend := llmtest.New(routes(map[string]llmtest.Responder{
		"orchestrator": llmtest.Fail(fmt.Errorf("%w: ANTHROPIC_API_KEY", llm.ErrMissingCredentials)),
	}))
	var failed progress.Event
	_, err := newTestEvaluator(backend, nil).GenerateConversationalEvaluation(context.Background(), testConcept(), testPersonas("Ana")[0], "", model.AdaptiveConfig{}, func(evt progress.Event) {
		if evt.Stage == progress.StageFailed {
			failed = evt
		}
	})
	require.Error(t, err)
	assert.True(t, IsCredentialError(err))

	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "interview", pe.Stage)
	assert.ErrorIs(t, failed.Error, llm.ErrMissingCredentials)
	assert.Empty(t, backend.CallsFor("topic_insight"))
}

func TestGenerateCompleteEvaluation_FatalPersonaDoesNotStopSiblings(t *testing.T) {
	defer goleak.VerifyNone(t)

	backend := llmtest.New(routes(map[string]llmtest.Responder{
		"orchestrator": func(req llm.Request) (string, error) {
			if strings.HasPrefix(req.SystemPrompt, "You are Caro,") {
				return "", fmt.Errorf("%w: HTTP 401", llm.ErrMissingCredentials)
			}
			return llmtest.Words(130), nil
		},
	}))
	e := newTestEvaluator(backend, nil)

	var mu sync.Mutex
	var final progress.Event
	res, err := e.GenerateCompleteEvaluation(context.Background(), testConcept(),
		testPersonas("Ana", "Ben", "Caro", "Dev", "Eli"), "", func(evt progress.Event) {
			mu.Lock()
			defer mu.Unlock()
			final = evt
		})

	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrMissingCredentials)
	require.NotNil(t, res)

	var ids []string
	for _, ev := range res.Evaluations {
		ids = append(ids, ev.PersonaID)
		assert.Len(t, ev.Conversation, 11)
	}
	assert.Equal(t, []string{"p1", "p2", "p4", "p5"}, ids)

	require.Len(t, res.Failures, 1)
	assert.Equal(t, "p3", res.Failures[0].PersonaID)
	var pe *PipelineError
	require.ErrorAs(t, res.Failures[0], &pe)
	assert.Equal(t, "interview", pe.Stage)
	assert.Contains(t, err.Error(), "persona p3")

	assert.Len(t, backend.CallsFor("moderator_review"), 1, "the script is reviewed once per batch")
	assert.Equal(t, progress.StageComplete, final.Stage)
	assert.Equal(t, 4, final.Evaluations)
	assert.Equal(t, 1, final.Failures)
}

func TestGenerateCompleteEvaluation_RespectsConcurrency(t *testing.T) {
	defer goleak.VerifyNone(t)

	var inflight, peak atomic.Int32
	backend := llmtest.New(routes(map[string]llmtest.Responder{
		"orchestrator": func(llm.Request) (string, error) {
			n := inflight.Add(1)
			defer inflight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			return llmtest.Words(130), nil
		},
	}))
	e := newTestEvaluator(backend, func(o *Options) { o.Concurrency = 2 })

	res, err := e.GenerateCompleteEvaluation(context.Background(), testConcept(), testPersonas("A", "B", "C", "D"), "", nil)
	require.NoError(t, err)
	assert.Len(t, res.Evaluations, 4)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestGenerateCompleteEvaluation_CriticRegeneratesOnce(t *testing.T) {
	short := make([]llmtest.Responder, 11)
	for i := range short {
		short[i] = llmtest.Text(llmtest.Words(10))
	}
	backend := llmtest.New(routes(map[string]llmtest.Responder{
		"orchestrator":        llmtest.Sequence(append(short, llmtest.Text(llmtest.Words(130)))...),
		"orchestrator_expand": llmtest.Fail(&llm.StatusError{StatusCode: 503}),
	}))
	e := newTestEvaluator(backend, nil)

	res, err := e.GenerateCompleteEvaluation(context.Background(), testConcept(), testPersonas("Ana"), "Retail audit: oatmeal shoppers compare granola pricing weekly.", nil)
	require.NoError(t, err)
	require.Len(t, res.Evaluations, 1)

	ev := res.Evaluations[0]
	assert.True(t, ev.Metadata.Regenerated)
	assert.Equal(t, "ev-2", ev.ID, "the rejected evaluation is discarded")
	assert.Len(t, backend.CallsFor("orchestrator"), 22)
	assert.Len(t, ev.Metadata.QualityIssues, 2)
	for _, ex := range ev.Conversation {
		assert.Equal(t, 130, ex.WordCount)
	}
}

func TestGenerateCompleteEvaluation_AllTurnsFailedIsRegenerated(t *testing.T) {
	backend := llmtest.New(routes(map[string]llmtest.Responder{
		"orchestrator": llmtest.Fail(&llm.StatusError{StatusCode: 503, Body: "unavailable"}),
	}))
	res, err := newTestEvaluator(backend, nil).GenerateCompleteEvaluation(context.Background(), testConcept(), testPersonas("Ana"), "", nil)
	require.NoError(t, err)
	require.Len(t, res.Evaluations, 1)

	ev := res.Evaluations[0]
	assert.True(t, ev.Metadata.Regenerated)
	assert.Len(t, ev.Conversation, 11)
	assert.Len(t, backend.CallsFor("orchestrator"), 22)
	assert.Contains(t, strings.Join(ev.Metadata.QualityIssues, "\n"), "short_answers")
}

func TestGenerateCompleteEvaluation_FailedRegenerationFailsPersona(t *testing.T) {
	short := make([]llmtest.Responder, 11)
	for i := range short {
		short[i] = llmtest.Text(llmtest.Words(10))
	}
	backend := llmtest.New(routes(map[string]llmtest.Responder{
		"orchestrator":        llmtest.Sequence(append(short, llmtest.Fail(llm.ErrMissingCredentials))...),
		"orchestrator_expand": llmtest.Fail(&llm.StatusError{StatusCode: 503}),
	}))
	res, err := newTestEvaluator(backend, nil).GenerateCompleteEvaluation(context.Background(), testConcept(), testPersonas("Ana"), "oatmeal granola pricing", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "regeneration after 3 quality issues")
	assert.Empty(t, res.Evaluations)
	require.Len(t, res.Failures, 1)
}

func TestGenerateCompleteEvaluation_CriticDisabled(t *testing.T) {
	backend := llmtest.New(routes(map[string]llmtest.Responder{
		"orchestrator":        llmtest.Text(llmtest.Words(10)),
		"orchestrator_expand": llmtest.Fail(&llm.StatusError{StatusCode: 503}),
	}))
	e := newTestEvaluator(backend, func(o *Options) { o.Critic.Enabled = false })

	res, err := e.GenerateCompleteEvaluation(context.Background(), testConcept(), testPersonas("Ana"), "oatmeal granola pricing", nil)
	require.NoError(t, err)
	ev := res.Evaluations[0]
	assert.False(t, ev.Metadata.Regenerated)
	assert.Len(t, ev.Metadata.QualityIssues, 3)
	assert.Len(t, backend.CallsFor("orchestrator"), 11)
}

func TestGenerateCompleteEvaluation_ReviewCredentialFailure(t *testing.T) {
	backend := llmtest.New(routes(map[string]llmtest.Responder{
		"moderator_review": llmtest.Fail(llm.ErrMissingCredentials),
	}))
	res, err := newTestEvaluator(backend, nil).GenerateCompleteEvaluation(context.Background(), testConcept(), testPersonas("Ana", "Ben"), "", nil)
	assert.Nil(t, res)
	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "review", pe.Stage)
	assert.Empty(t, backend.CallsFor("orchestrator"))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "interviewing", StateInterviewing.String())
	assert.Equal(t, "done", StateDone.String())
	assert.Equal(t, "state(42)", State(42).String())
}
