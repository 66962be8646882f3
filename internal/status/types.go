package status

import "time"

// Phase represents the current phase of the regeneration cycle
type Phase string

const (
	// PhasePending means no generation has been attempted by this process yet
	PhasePending Phase = "Pending"

	// PhaseGenerating means a generation is currently in progress
	PhaseGenerating Phase = "Generating"

	// PhaseComplete means the last generation succeeded
	PhaseComplete Phase = "Complete"

	// PhaseFailed means the last generation failed and a retry is scheduled
	PhaseFailed Phase = "Failed"
)

// AssetSummary is the per-asset excerpt of a generation kept for reporting
type AssetSummary struct {
	// ID is the asset identifier, e.g. "BTC"
	ID string `json:"id"`

	// Bias is the directional label computed by the analyzer
	Bias string `json:"bias,omitempty"`

	// Score is the synthesis score
	Score float64 `json:"score"`

	// MaxScore is the upper bound of Score
	MaxScore float64 `json:"maxScore,omitempty"`

	// AlertType names the active context alert, empty when none
	AlertType string `json:"alertType,omitempty"`
}

// GenerationStatus represents the current state of dashboard regeneration
type GenerationStatus struct {
	// Phase represents the current phase
	Phase Phase `json:"phase"`

	// Message provides additional information about the status
	Message string `json:"message,omitempty"`

	// RunID identifies the most recent generation attempt
	RunID string `json:"runId,omitempty"`

	// LastAttempt is the start time of the most recent attempt
	LastAttempt *time.Time `json:"lastAttempt,omitempty"`

	// LastSuccess is the completion time of the most recent successful attempt
	LastSuccess *time.Time `json:"lastSuccess,omitempty"`

	// ConsecutiveFailures counts failed attempts since the last success
	ConsecutiveFailures int `json:"consecutiveFailures,omitempty"`

	// NextRun is when the scheduler will attempt the next generation
	NextRun *time.Time `json:"nextRun,omitempty"`

	// Assets summarizes the last successful generation
	Assets []AssetSummary `json:"assets,omitempty"`
}

// Clone returns a deep copy of s
func (s *GenerationStatus) Clone() *GenerationStatus {
	if s == nil {
		return nil
	}
	out := *s
	out.LastAttempt = cloneTime(s.LastAttempt)
	out.LastSuccess = cloneTime(s.LastSuccess)
	out.NextRun = cloneTime(s.NextRun)
	if s.Assets != nil {
		out.Assets = append([]AssetSummary(nil), s.Assets...)
	}
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
