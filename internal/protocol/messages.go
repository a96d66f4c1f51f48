package protocol

import "time"

// RunEvent is broadcast on the bus whenever a synthesis run changes state.
type RunEvent struct {
	RunID      string    `json:"run_id"`
	State      string    `json:"state"`
	Language   string    `json:"language,omitempty"`
	Segment    int       `json:"segment,omitempty"`
	Segments   int       `json:"segments,omitempty"`
	ArtifactID string    `json:"artifact_id,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	SubjectRunPrefix = "voiceclone.run"
	SubjectRunAll    = SubjectRunPrefix + ".>"
	StreamRuns       = "VOICECLONE_RUNS"
)

// RunSubject returns the subject a run event in the given state is published on.
func RunSubject(state string) string {
	return SubjectRunPrefix + "." + state
}
