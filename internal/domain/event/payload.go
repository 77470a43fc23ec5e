package event

// TaskIngestedPayload captures the payload for task.ingested events.
type TaskIngestedPayload struct {
	Title            string   `json:"title"`
	Body             string   `json:"body,omitempty"`
	Source           string   `json:"source"`
	SourceRef        string   `json:"source_ref"`
	Priority         string   `json:"priority,omitempty"`
	DueAt            int64    `json:"due_at,omitempty"`
	DoNotStartBefore int64    `json:"do_not_start_before,omitempty"`
	Labels           []string `json:"labels,omitempty"`
	Project          string   `json:"project,omitempty"`
	DedupGroupID     string   `json:"dedup_group_id,omitempty"`
	Rationale        string   `json:"rationale"`
}

// TaskUpdatedPayload captures the payload for task.updated events.
//
// Fields holds the patched values keyed by field name. A no-op decision
// (recorded rejection) carries NoOp true, an empty Fields map, and the
// rejected action name.
type TaskUpdatedPayload struct {
	Fields    map[string]any `json:"fields"`
	NoOp      bool           `json:"noop,omitempty"`
	Action    string         `json:"action,omitempty"`
	Rationale string         `json:"rationale"`
}

// TaskStatusChangedPayload captures the payload for task.status_changed events.
type TaskStatusChangedPayload struct {
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	Rationale  string `json:"rationale"`
}

// TaskCompletedPayload captures the payload for task.completed events.
type TaskCompletedPayload struct {
	Rationale string `json:"rationale"`
}

// TaskCancelledPayload captures the payload for task.cancelled events.
type TaskCancelledPayload struct {
	Rationale string `json:"rationale"`
}

// TaskSnoozedPayload captures the payload for task.snoozed events.
type TaskSnoozedPayload struct {
	Until     int64  `json:"until"`
	Rationale string `json:"rationale"`
}

// TaskLinkedPayload captures the payload for task.linked events.
type TaskLinkedPayload struct {
	BlockedBy []string `json:"blocked_by"`
	Rationale string   `json:"rationale"`
}

// TaskDedupLinkedPayload captures the payload for task.dedup_linked events.
type TaskDedupLinkedPayload struct {
	DedupGroupID string   `json:"dedup_group_id"`
	MemberIDs    []string `json:"member_ids"`
	Rationale    string   `json:"rationale"`
}

// NoteRecordedPayload captures the payload for note.recorded events.
type NoteRecordedPayload struct {
	Title   string   `json:"title"`
	Content string   `json:"content,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// TrackRecordedPayload captures the payload for track.recorded events.
type TrackRecordedPayload struct {
	Title  string   `json:"title"`
	Status string   `json:"status,omitempty"`
	Tags   []string `json:"tags,omitempty"`
}

// ControlChangedPayload captures the payload for control.changed events.
type ControlChangedPayload struct {
	Version         uint64  `json:"version"`
	Mode            string  `json:"mode"`
	Threshold       float64 `json:"shadow_confidence_threshold"`
	Actor           string  `json:"actor"`
	Rationale       string  `json:"rationale"`
	PreviousVersion uint64  `json:"previous_version,omitempty"`
	RunID           string  `json:"run_id,omitempty"`
}

// ExperimentRunPayload captures the payload for experiment.run events.
type ExperimentRunPayload struct {
	RunID              string             `json:"run_id"`
	CandidateMode      string             `json:"candidate_mode"`
	CandidateThreshold float64            `json:"candidate_threshold"`
	Actor              string             `json:"actor"`
	Rationale          string             `json:"rationale"`
	Status             string             `json:"status"`
	Metrics            map[string]float64 `json:"metrics,omitempty"`
}

// ExperimentDecidedPayload captures the payload for experiment.decided events.
type ExperimentDecidedPayload struct {
	RunID     string `json:"run_id"`
	Action    string `json:"action"`
	Actor     string `json:"actor"`
	Rationale string `json:"rationale"`
}
