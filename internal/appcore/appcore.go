package appcore

import (
	"fmt"
	"sync"
	"time"

	apperrors "captionflow/pkg/errors"
)

// Stage is the state of one pipeline run.
type Stage uint8

const (
	StageIdle Stage = iota + 1
	StageAcquiring
	StageTranscribing
	StageTranslating
	StageSynthesizing
	StageAnalyzing
	StageDone
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageAcquiring:
		return "acquiring"
	case StageTranscribing:
		return "transcribing"
	case StageTranslating:
		return "translating"
	case StageSynthesizing:
		return "synthesizing"
	case StageAnalyzing:
		return "analyzing"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s Stage) IsTerminal() bool {
	return s == StageDone || s == StageFailed
}

// ErrorStage maps a working stage onto the stage tag carried by errors.
func (s Stage) ErrorStage() apperrors.Stage {
	switch s {
	case StageAcquiring:
		return apperrors.StageAcquire
	case StageTranscribing:
		return apperrors.StageTranscribe
	case StageTranslating:
		return apperrors.StageTranslate
	case StageSynthesizing:
		return apperrors.StageSynthesize
	case StageAnalyzing:
		return apperrors.StageAnalyze
	default:
		return apperrors.StageNone
	}
}

// CanTransition reports whether from -> to is a legal move. Moves only go
// forward; Analyzing may be skipped and Failed is reachable from any
// non-terminal stage.
func CanTransition(from, to Stage) bool {
	if from.IsTerminal() || from == 0 {
		return false
	}
	if to == StageFailed {
		return true
	}
	switch from {
	case StageIdle:
		return to == StageAcquiring
	case StageAcquiring:
		return to == StageTranscribing
	case StageTranscribing:
		return to == StageTranslating
	case StageTranslating:
		return to == StageSynthesizing
	case StageSynthesizing:
		return to == StageAnalyzing || to == StageDone
	case StageAnalyzing:
		return to == StageDone
	}
	return false
}

// Event describes one transition of a run.
type Event struct {
	RunID      string    `json:"run_id"`
	Stage      Stage     `json:"-"`
	StageName  string    `json:"stage"`
	From       string    `json:"from,omitempty"`
	Message    string    `json:"message,omitempty"`
	Err        error     `json:"-"`
	ErrorText  string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Observer receives every transition. Implementations must not block.
type Observer interface {
	OnEvent(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// Observers fans one event out to several observers.
type Observers []Observer

func (o Observers) OnEvent(e Event) {
	for _, obs := range o {
		if obs != nil {
			obs.OnEvent(e)
		}
	}
}

// StateMachine tracks the stage of a single run.
type StateMachine struct {
	mu       sync.Mutex
	runID    string
	stage    Stage
	failedAt Stage
	cause    error
	observer Observer
	now      func() time.Time
}

func NewStateMachine(runID string, observer Observer) *StateMachine {
	return &StateMachine{
		runID:    runID,
		stage:    StageIdle,
		observer: observer,
		now:      time.Now,
	}
}

func (m *StateMachine) Stage() Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stage
}

// Failure returns the stage a failed run was in and the cause.
func (m *StateMachine) Failure() (Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failedAt, m.cause
}

// Advance moves to the next working stage.
func (m *StateMachine) Advance(to Stage, message string) error {
	if to == StageFailed {
		return fmt.Errorf("use Fail to enter %s", StageFailed)
	}
	return m.transition(to, message, nil)
}

// Fail enters the terminal Failed state, remembering where it happened.
func (m *StateMachine) Fail(cause error) error {
	return m.transition(StageFailed, "", cause)
}

func (m *StateMachine) transition(to Stage, message string, cause error) error {
	m.mu.Lock()
	from := m.stage
	if !CanTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	m.stage = to
	if to == StageFailed {
		m.failedAt = from
		m.cause = cause
	}
	observer := m.observer
	event := Event{
		RunID:      m.runID,
		Stage:      to,
		StageName:  to.String(),
		From:       from.String(),
		Message:    message,
		Err:        cause,
		OccurredAt: m.now(),
	}
	m.mu.Unlock()

	if cause != nil {
		event.ErrorText = cause.Error()
	}
	if observer != nil {
		observer.OnEvent(event)
	}
	return nil
}
