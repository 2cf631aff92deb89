package domain

// JobState enumerates the generation job lifecycle. Terminal states are absorbing.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobSubmitted JobState = "submitted"
	JobPolling   JobState = "polling"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Terminal reports whether s is absorbing.
func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobCancelled
}

// rank orders the non-terminal states; every terminal state shares the top rank.
func (s JobState) rank() int {
	switch s {
	case JobQueued:
		return 0
	case JobSubmitted:
		return 1
	case JobPolling:
		return 2
	default:
		return 3
	}
}

// CanAdvance reports whether moving from s to next is a forward transition.
func (s JobState) CanAdvance(next JobState) bool {
	if s.Terminal() {
		return false
	}
	return next.rank() > s.rank()
}

// MessageStatus maps a job state onto the status of its owning message.
func (s JobState) MessageStatus() MessageStatus {
	switch s {
	case JobQueued:
		return StatusQueued
	case JobSubmitted:
		return StatusSubmitted
	case JobPolling:
		return StatusRunning
	case JobSucceeded:
		return StatusSucceeded
	case JobCancelled:
		return StatusCancelled
	default:
		return StatusFailed
	}
}

// GenerationRequest is built just before submission and never changed afterwards.
type GenerationRequest struct {
	ModelID     string      `json:"model"`
	PromptText  string      `json:"promptText"`
	Ratio       string      `json:"ratio,omitempty"`
	Duration    int         `json:"duration,omitempty"`
	Attachments Attachments `json:"attachments,omitempty"`
}

// TaskPhase is the provider's task status reduced to what the poller acts on.
type TaskPhase string

const (
	TaskPending   TaskPhase = "pending"
	TaskRunning   TaskPhase = "running"
	TaskSucceeded TaskPhase = "succeeded"
	TaskFailed    TaskPhase = "failed"
)

// Terminal reports whether the remote task will not change any more.
func (p TaskPhase) Terminal() bool {
	return p == TaskSucceeded || p == TaskFailed
}

// TaskStatus is one poll response from the generation provider.
type TaskStatus struct {
	Phase       TaskPhase
	RawStatus   string
	Progress    *int
	Output      []string
	Failure     string
	FailureCode string
}
