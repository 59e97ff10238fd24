// Package session implements the SessionContext data model and its
// dual-tier (cache + durable) persistence layer.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Stage is the workflow_stage enum from §3.1/§4.4.
type Stage string

const (
	StageInitialized         Stage = "initialized"
	StageCollectingMetadata  Stage = "collecting_metadata"
	StageConverting          Stage = "converting"
	StageEvaluating          Stage = "evaluating"
	StageCompleted           Stage = "completed"
	StageFailed              Stage = "failed"
)

// AgentType names the three known specializations.
type AgentType string

const (
	AgentConversation AgentType = "conversation"
	AgentConversion   AgentType = "conversion"
	AgentEvaluation   AgentType = "evaluation"
)

// ExecutionStatus is the status of one agent_history entry.
type ExecutionStatus string

const (
	ExecutionSuccess    ExecutionStatus = "success"
	ExecutionFailed     ExecutionStatus = "failed"
	ExecutionInProgress ExecutionStatus = "in_progress"
)

// AgentExecution is one append-only entry in agent_history.
type AgentExecution struct {
	AgentName string          `json:"agent_name"`
	Start     time.Time       `json:"start"`
	End       *time.Time      `json:"end,omitempty"`
	Status    ExecutionStatus `json:"status"`
	Error     string          `json:"error,omitempty"`
	Trace     string          `json:"trace,omitempty"`
}

// Confidence tags the provenance of an extracted metadata field.
type Confidence string

const (
	ConfidenceHigh    Confidence = "high"
	ConfidenceMedium  Confidence = "medium"
	ConfidenceLow     Confidence = "low"
	ConfidenceDefault Confidence = "default"
	ConfidenceEmpty   Confidence = "empty"
)

// DatasetInfo is the dataset descriptor populated during
// initialize_session's structure-validation step.
type DatasetInfo struct {
	Path            string   `json:"path"`
	Format          string   `json:"format"`
	ByteSize        int64    `json:"byte_size"`
	FileCount       int      `json:"file_count"`
	ChannelCount    int      `json:"channel_count,omitempty"`
	SampleRateHz    float64  `json:"sample_rate_hz,omitempty"`
	DurationSeconds float64  `json:"duration_seconds,omitempty"`
	HasDocs         bool     `json:"has_docs"`
	DocPaths        []string `json:"doc_paths,omitempty"`
}

// MetadataField is one NWB metadata value plus its extraction
// provenance.
type MetadataField struct {
	Value      string     `json:"value"`
	Confidence Confidence `json:"confidence"`
}

// Metadata is the extracted/user-provided NWB metadata bag - the ten
// fields named in §3.1, each tagged with a confidence.
type Metadata struct {
	SubjectID          MetadataField `json:"subject_id"`
	Species            MetadataField `json:"species"`
	Age                MetadataField `json:"age"`
	Sex                MetadataField `json:"sex"`
	SessionStartTime   MetadataField `json:"session_start_time"`
	Experimenter       MetadataField `json:"experimenter"`
	DeviceName         MetadataField `json:"device_name"`
	Manufacturer       MetadataField `json:"manufacturer"`
	RecordingLocation  MetadataField `json:"recording_location"`
	Description        MetadataField `json:"description"`
	ExtractionReasoning string       `json:"extraction_reasoning,omitempty"`
}

// Fields returns the ten metadata fields in a stable order, used by
// completeness scoring (§4.5.3 step 4).
func (m *Metadata) Fields() []*MetadataField {
	return []*MetadataField{
		&m.SubjectID, &m.Species, &m.Age, &m.Sex, &m.SessionStartTime,
		&m.Experimenter, &m.DeviceName, &m.Manufacturer,
		&m.RecordingLocation, &m.Description,
	}
}

// ConversionResults is the Conversion agent's output record.
type ConversionResults struct {
	DurationSeconds float64  `json:"duration_seconds"`
	Warnings        []string `json:"warnings,omitempty"`
	Errors          []string `json:"errors,omitempty"`
	ConversionLog   string   `json:"conversion_log,omitempty"`
	OverallStatus   string   `json:"overall_status,omitempty"`
	UserMessage     string   `json:"user_message,omitempty"`
}

// IssueSeverity is the severity enum for a validation issue.
type IssueSeverity string

const (
	SeverityCritical IssueSeverity = "critical"
	SeverityWarning  IssueSeverity = "warning"
	SeverityInfo     IssueSeverity = "info"
)

// ValidationIssue is one finding from the NWB validator.
type ValidationIssue struct {
	Severity  IssueSeverity `json:"severity"`
	Message   string        `json:"message"`
	Location  string        `json:"location,omitempty"`
	CheckName string        `json:"check_name,omitempty"`
}

// OverallValidationStatus is the §4.5.3 step-3 classification.
type OverallValidationStatus string

const (
	ValidationPassed               OverallValidationStatus = "passed"
	ValidationPassedWithWarnings   OverallValidationStatus = "passed_with_warnings"
	ValidationFailed               OverallValidationStatus = "failed"
)

// ValidationResults is the Evaluation agent's output record.
type ValidationResults struct {
	OverallStatus          OverallValidationStatus `json:"overall_status"`
	IssueCounts            map[IssueSeverity]int   `json:"issue_counts"`
	Issues                 []ValidationIssue       `json:"issues"`
	MetadataCompleteness   float64                 `json:"metadata_completeness"`
	BestPracticesScore     float64                 `json:"best_practices_score"`
	ReportPath             string                  `json:"report_path,omitempty"`
	Summary                string                  `json:"summary,omitempty"`
}

// Context is the single authoritative record of a conversion run -
// SessionContext from §3.1.
type Context struct {
	SessionID      string     `json:"session_id"`
	CreatedAt      time.Time  `json:"created_at"`
	LastUpdated    time.Time  `json:"last_updated"`
	WorkflowStage  Stage      `json:"workflow_stage"`
	CurrentAgent   *AgentType `json:"current_agent,omitempty"`

	AgentHistory []AgentExecution `json:"agent_history"`

	DatasetInfo *DatasetInfo `json:"dataset_info,omitempty"`
	Metadata    *Metadata    `json:"metadata,omitempty"`

	ConversionResults *ConversionResults `json:"conversion_results,omitempty"`
	ValidationResults *ValidationResults `json:"validation_results,omitempty"`

	OutputNWBPath    string `json:"output_nwb_path,omitempty"`
	OutputReportPath string `json:"output_report_path,omitempty"`

	RequiresUserClarification bool   `json:"requires_user_clarification"`
	ClarificationPrompt       string `json:"clarification_prompt,omitempty"`
}

// New creates a fresh Context in the initialized stage. Invariant 1
// (global uniqueness) is satisfied by a 128-bit random v4 UUID.
func New() *Context {
	now := time.Now().UTC()
	return &Context{
		SessionID:     uuid.NewString(),
		CreatedAt:     now,
		LastUpdated:   now,
		WorkflowStage: StageInitialized,
		AgentHistory:  []AgentExecution{},
	}
}

// Clone returns a deep-enough copy safe for a caller to mutate without
// affecting the original. The store and its tiers do not call it.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	clone := *c
	if c.CurrentAgent != nil {
		a := *c.CurrentAgent
		clone.CurrentAgent = &a
	}
	clone.AgentHistory = append([]AgentExecution(nil), c.AgentHistory...)
	if c.DatasetInfo != nil {
		d := *c.DatasetInfo
		d.DocPaths = append([]string(nil), c.DatasetInfo.DocPaths...)
		clone.DatasetInfo = &d
	}
	if c.Metadata != nil {
		m := *c.Metadata
		clone.Metadata = &m
	}
	if c.ConversionResults != nil {
		r := *c.ConversionResults
		r.Warnings = append([]string(nil), c.ConversionResults.Warnings...)
		r.Errors = append([]string(nil), c.ConversionResults.Errors...)
		clone.ConversionResults = &r
	}
	if c.ValidationResults != nil {
		v := *c.ValidationResults
		v.Issues = append([]ValidationIssue(nil), c.ValidationResults.Issues...)
		v.IssueCounts = make(map[IssueSeverity]int, len(c.ValidationResults.IssueCounts))
		for k, n := range c.ValidationResults.IssueCounts {
			v.IssueCounts[k] = n
		}
		clone.ValidationResults = &v
	}
	return &clone
}

// ProgressPercentage maps workflow_stage to the nominal completion
// percentage from §4.4.
func (c *Context) ProgressPercentage() int {
	switch c.WorkflowStage {
	case StageInitialized:
		return 10
	case StageCollectingMetadata:
		return 30
	case StageConverting:
		return 60
	case StageEvaluating:
		return 80
	case StageCompleted:
		return 100
	case StageFailed:
		return 0
	default:
		return 0
	}
}
