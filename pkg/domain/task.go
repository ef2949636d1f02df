package domain

import (
	"encoding"
	"math"
	"time"
)

type TaskStatus string

const (
	StatusQueued     TaskStatus = "QUEUED"
	StatusProcessing TaskStatus = "PROCESSING"
	StatusCompleted  TaskStatus = "COMPLETED"
	StatusFailed     TaskStatus = "FAILED"
)

// Terminal reports whether no further status mutation is permitted.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// TrafficLight is the business verdict set by the design agent. It advances
// independently of TaskStatus; only terminal-stickiness is shared.
type TrafficLight string

const (
	LightPending TrafficLight = "PENDING"
	LightGreen   TrafficLight = "GREEN"
	LightYellow  TrafficLight = "YELLOW"
	LightRed     TrafficLight = "RED"
)

// TotalPipelineSteps is the fixed execution plan length embedded in every
// agent prompt. TotalSteps is set to this at creation and never shrinks.
const TotalPipelineSteps = 12

type TaskRecord struct {
	TaskID       string            `json:"taskId"`
	ProjectID    string            `json:"projectId"`
	Status       TaskStatus        `json:"status"`
	TrafficLight TrafficLight      `json:"trafficLight"`
	CurrentStep  int               `json:"currentStep"`
	TotalSteps   int               `json:"totalSteps"`
	Message      string            `json:"message,omitempty"`
	ArtifactRefs map[string]string `json:"artifactRefs,omitempty"`
	Errors       []string          `json:"errors,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
	ExpiresAt    time.Time         `json:"expiresAt"`
}

// ProgressPercent derives the polled progress figure from the step counters.
func (t *TaskRecord) ProgressPercent() int {
	if t.TotalSteps <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(t.CurrentStep) / float64(t.TotalSteps)))
}

// StatusUpdate is a partial, field-scoped mutation of a TaskRecord. Nil
// fields are left untouched by the store.
type StatusUpdate struct {
	Status       *TaskStatus
	TrafficLight *TrafficLight
	CurrentStep  *int
	TotalSteps   *int
	Message      *string
	PDFRef       *string
}

// TaskView is the read-only projection returned to polling clients.
type TaskView struct {
	TaskRecord
	ProgressPercent int  `json:"progressPercent"`
	IsComplete      bool `json:"isComplete"`
}

func NewTaskView(rec *TaskRecord) *TaskView {
	return &TaskView{
		TaskRecord:      *rec,
		ProgressPercent: rec.ProgressPercent(),
		IsComplete:      rec.Status.Terminal(),
	}
}

var (
	_ encoding.BinaryMarshaler = TaskStatus("")
	_ encoding.TextMarshaler   = TaskStatus("")
	_ encoding.BinaryMarshaler = TrafficLight("")
	_ encoding.TextMarshaler   = TrafficLight("")
)

func (s TaskStatus) MarshalBinary() ([]byte, error) { return []byte(string(s)), nil }
func (s TaskStatus) MarshalText() ([]byte, error)   { return []byte(string(s)), nil }

func (l TrafficLight) MarshalBinary() ([]byte, error) { return []byte(string(l)), nil }
func (l TrafficLight) MarshalText() ([]byte, error)   { return []byte(string(l)), nil }
