package progress

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregator_ScalesAcrossPersonas(t *testing.T) {
	var mu sync.Mutex
	var events []Event
	agg := NewAggregator(2, func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	agg.For("p1")(Event{Stage: StageInterview, Percent: 0.5})
	agg.For("p2")(Event{Stage: StageInterview, Percent: 1.0})
	agg.For("p1")(Event{Stage: StageInterview, Percent: 0.25})

	require.Len(t, events, 3)
	assert.InDelta(t, 0.25, events[0].Percent, 1e-9)
	assert.InDelta(t, 0.75, events[1].Percent, 1e-9)
	assert.InDelta(t, 0.75, events[2].Percent, 1e-9, "percent never moves backwards")
	assert.Equal(t, "p2", events[1].PersonaID)
}

func TestAggregator_ConcurrentUse(t *testing.T) {
	agg := NewAggregator(10, nil)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			cb := agg.For(id)
			for p := 0.0; p <= 1.0; p += 0.1 {
				cb(Event{Percent: p})
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()
}

func TestPlainRenderer(t *testing.T) {
	var buf bytes.Buffer
	r := NewPlainRenderer(&buf)
	r.Handle(Event{Stage: StageInterview, Message: "Question 3/11", PersonaID: "p-1"})
	r.Handle(Event{Stage: StageComplete, Message: "done", Evaluations: 4, Failures: 1})
	r.Finish()

	out := buf.String()
	assert.Contains(t, out, "p-1: Question 3/11")
	assert.Contains(t, out, "4 evaluations, 1 failed")

	buf.Reset()
	r = NewPlainRenderer(&buf)
	r.Handle(Event{Stage: StageFailed, Message: "failed", Error: errors.New("no key")})
	r.Finish()
	assert.Contains(t, buf.String(), "Error: no key")
}

func TestRenderBar(t *testing.T) {
	assert.Equal(t, "[##..]", renderBar(0.5, 4))
	assert.Equal(t, "[....]", renderBar(-1, 4))
	assert.Equal(t, "[####]", renderBar(2, 4))
}

func TestPlainRenderer_PrintsStageChangesOnly(t *testing.T) {
	var buf bytes.Buffer
	r := NewPlainRenderer(&buf)
	r.Handle(Event{Stage: StageInterview, PersonaID: "p-1", Turn: 1, TurnTotal: 11, Percent: 0.1})
	r.Handle(Event{Stage: StageInterview, PersonaID: "p-1", Turn: 1, TurnTotal: 11, Percent: 0.1})
	r.Handle(Event{Stage: StageInterview, PersonaID: "p-1", Turn: 2, TurnTotal: 11, Percent: 0.2})
	r.Handle(Event{Stage: StageComplete, PersonaID: "p-1", Percent: 1})

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "interviewing 1/11"))
	assert.Contains(t, out, "interviewing 2/11")
	assert.Contains(t, out, "p-1: done")
}
