package scheduler

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crossref-cli/internal/model"
)

// Priority orders pending jobs. Higher runs first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Valid reports whether p is one of the three bands.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityHigh
}

// MarshalText encodes the priority by name.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText accepts a priority name.
func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ParsePriority parses "low", "normal" or "high". Empty means normal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	default:
		return 0, eris.Errorf("scheduler: unknown priority %q", s)
	}
}

// Status is a job lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Progress counts processed records of a job.
type Progress struct {
	Total     int           `json:"total"`
	Completed int           `json:"completed"`
	Cached    int           `json:"cached"`
	Failed    int           `json:"failed"`
	ETA       time.Duration `json:"eta"`
}

// Processed is the number of records that produced a result or an error.
func (p Progress) Processed() int {
	return p.Completed + p.Failed
}

// RecordError describes a record that produced no result.
type RecordError struct {
	Index   int    `json:"index"`
	SKU     string `json:"sku"`
	Message string `json:"message"`
}

// Snapshot is a point-in-time copy of a job.
type Snapshot struct {
	ID          string                    `json:"id"`
	Priority    Priority                  `json:"priority"`
	Status      Status                    `json:"status"`
	Progress    Progress                  `json:"progress"`
	Results     []*model.NormalizedResult `json:"results"`
	Errors      []RecordError             `json:"errors"`
	Error       string                    `json:"error,omitempty"`
	CostUSD     float64                   `json:"cost_usd"`
	CreatedAt   time.Time                 `json:"created_at"`
	StartedAt   *time.Time                `json:"started_at,omitempty"`
	CompletedAt *time.Time                `json:"completed_at,omitempty"`
}

// job is the scheduler's mutable record. All fields are guarded by the
// scheduler mutex except records, which is immutable after Submit.
type job struct {
	id        string
	priority  Priority
	status    Status
	records   []model.CompetitorRecord
	results   []*model.NormalizedResult
	errors    []RecordError
	progress  Progress
	errMsg    string
	costUSD   float64
	createdAt time.Time
	startedAt time.Time
	doneAt    time.Time
	cancel    func()
}

func (j *job) snapshot() Snapshot {
	s := Snapshot{
		ID:        j.id,
		Priority:  j.priority,
		Status:    j.status,
		Progress:  j.progress,
		Results:   append([]*model.NormalizedResult{}, j.results...),
		Errors:    append([]RecordError{}, j.errors...),
		Error:     j.errMsg,
		CostUSD:   j.costUSD,
		CreatedAt: j.createdAt,
	}
	if !j.startedAt.IsZero() {
		t := j.startedAt
		s.StartedAt = &t
	}
	if !j.doneAt.IsZero() {
		t := j.doneAt
		s.CompletedAt = &t
	}
	return s
}
