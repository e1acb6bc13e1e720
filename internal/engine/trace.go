package engine

import "time"

// TraceEventKind classifies each trace event by type.
type TraceEventKind string

const (
	// KindStageSkipped is emitted when a stage did not run.
	KindStageSkipped TraceEventKind = "stage_skipped"

	// KindStageMissed is emitted when a stage ran without producing a result.
	KindStageMissed TraceEventKind = "stage_missed"

	// KindStageMatched is emitted by the stage that produced the result.
	KindStageMatched TraceEventKind = "stage_matched"

	// KindStageFailed is emitted when a stage hit an error it recovered from.
	KindStageFailed TraceEventKind = "stage_failed"
)

// TraceEvent is a single structured event emitted while resolving one name.
type TraceEvent struct {
	Kind TraceEventKind `json:"kind"`

	At time.Time `json:"at"`

	// Stage is the pipeline stage the event belongs to.
	Stage string `json:"stage"`

	// Email is the candidate the stage settled on, when any.
	Email string `json:"email,omitempty"`

	// Score is the raw stage score (fuzzy ratio, model confidence).
	Score float64 `json:"score,omitempty"`

	// Reason is a human-readable explanation.
	Reason string `json:"reason,omitempty"`
}

// Trace accumulates events for one resolution. The zero value is ready to
// use; a nil *Trace discards events.
type Trace struct {
	Events []TraceEvent
}

func (t *Trace) add(kind TraceEventKind, stage stageKind, email string, score float64, reason string) {
	if t == nil {
		return
	}
	t.Events = append(t.Events, TraceEvent{
		Kind:   kind,
		At:     time.Now(),
		Stage:  stage.String(),
		Email:  email,
		Score:  score,
		Reason: reason,
	})
}

func (t *Trace) skipped(stage stageKind, reason string) {
	t.add(KindStageSkipped, stage, "", 0, reason)
}

func (t *Trace) missed(stage stageKind, score float64, reason string) {
	t.add(KindStageMissed, stage, "", score, reason)
}

func (t *Trace) matched(stage stageKind, email string, score float64) {
	t.add(KindStageMatched, stage, email, score, "")
}

func (t *Trace) failed(stage stageKind, reason string) {
	t.add(KindStageFailed, stage, "", 0, reason)
}
