package progress

import (
	"sync"
	"time"
)

// Stage identifies which evaluation stage is active.
type Stage string

const (
	StageReview     Stage = "review"
	StageInterview  Stage = "interview"
	StageSynthesize Stage = "synthesize"
	StageValidate   Stage = "validate"
	StageCritique   Stage = "critique"
	StageComplete   Stage = "complete"
	StageFailed     Stage = "failed"
)

// Event carries progress information from the pipeline to the renderer.
type Event struct {
	Stage     Stage
	Message   string
	Percent   float64 // 0.0–1.0
	PersonaID string
	Turn      int
	TurnTotal int
	Elapsed   time.Duration
	Error     error
	// OutputFile is set on StageComplete when results were written to disk.
	OutputFile string
	// Evaluations and Failures are set on the final batch StageComplete event.
	Evaluations int
	Failures    int
}

// Callback is the function signature for progress event handlers.
type Callback func(Event)

// NopCallback is a no-op progress callback for tests and silent mode.
func NopCallback(Event) {}

// NewEvent creates an Event with common fields populated.
func NewEvent(stage Stage, msg string, pct float64, start time.Time) Event {
	return Event{
		Stage:   stage,
		Message: msg,
		Percent: pct,
		Elapsed: time.Since(start),
	}
}

// Aggregator folds per-persona progress into one batch-wide percentage.
// It is safe for concurrent use by persona workers.
type Aggregator struct {
	mu       sync.Mutex
	parts    map[string]float64
	total    int
	callback Callback
}

// NewAggregator reports through cb, treating total personas as 100%.
func NewAggregator(total int, cb Callback) *Aggregator {
	if cb == nil {
		cb = NopCallback
	}
	if total < 1 {
		total = 1
	}
	return &Aggregator{parts: make(map[string]float64, total), total: total, callback: cb}
}

// For returns a Callback scoped to one persona. Its events are forwarded with
// Percent rescaled to the whole batch.
func (a *Aggregator) For(personaID string) Callback {
	return func(e Event) {
		a.mu.Lock()
		if e.Percent > a.parts[personaID] {
			a.parts[personaID] = e.Percent
		}
		sum := 0.0
		for _, p := range a.parts {
			sum += p
		}
		e.PersonaID = personaID
		e.Percent = sum / float64(a.total)
		a.callback(e)
		a.mu.Unlock()
	}
}
