package protocol

// MessageSeverity classifies compiler diagnostics.
type MessageSeverity string

const (
	SeverityError    MessageSeverity = "error"
	SeverityWarning  MessageSeverity = "warning"
	SeverityInfo     MessageSeverity = "info"
	SeverityProgress MessageSeverity = "progress"
)

// BuildStatus is the terminal outcome of a session.
type BuildStatus string

const (
	StatusSuccess  BuildStatus = "success"
	StatusErrors   BuildStatus = "errors"
	StatusCanceled BuildStatus = "canceled"
	StatusUpToDate BuildStatus = "up_to_date"
)

// GeneratedPaths is a (source root relative, output) path pair produced
// by the builder.
type GeneratedPaths struct {
	SourcePath string `json:"source_path"`
	OutputPath string `json:"output_path"`
}

// FileGeneratedEvent reports builder outputs. Never sent with an empty
// list.
type FileGeneratedEvent struct {
	Paths []GeneratedPaths `json:"paths"`
}

// CompileMessage is a forwarded compiler diagnostic.
type CompileMessage struct {
	Severity       MessageSeverity `json:"severity"`
	Text           string          `json:"text"`
	SourcePath     string          `json:"source_path,omitempty"`
	BeginOffset    int64           `json:"begin_offset"`
	EndOffset      int64           `json:"end_offset"`
	LocationOffset int64           `json:"location_offset"`
	Line           int64           `json:"line"`
	Column         int64           `json:"column"`
}

// ProgressMessage reports builder progress. Done is the fraction
// completed, or a negative value when unknown.
type ProgressMessage struct {
	Text string  `json:"text"`
	Done float64 `json:"done"`
}

// ConstantSearchQuery asks the controller which files are affected by a
// changed or removed class field.
type ConstantSearchQuery struct {
	OwnerClassName string `json:"owner_class_name"`
	FieldName      string `json:"field_name"`
	AccessFlags    int    `json:"access_flags"`
	FieldRemoved   bool   `json:"field_removed"`
	AccessChanged  bool   `json:"access_changed"`
}

// BuildCompletedEvent is the normal terminal message of a session.
type BuildCompletedEvent struct {
	Status BuildStatus `json:"status"`
	Text   string      `json:"text,omitempty"`
}

// FailureEvent is the terminal message sent in place of
// BuildCompletedEvent when the session dies on an unrecovered error.
type FailureEvent struct {
	Message    string `json:"message"`
	StackTrace string `json:"stack_trace,omitempty"`
}

// BuilderMessageType discriminates outbound builder messages.
type BuilderMessageType string

const (
	BuilderFileGenerated       BuilderMessageType = "file_generated"
	BuilderCompileMessage      BuilderMessageType = "compile_message"
	BuilderProgressMessage     BuilderMessageType = "progress_message"
	BuilderConstantSearchQuery BuilderMessageType = "constant_search_query"
	BuilderBuildCompleted      BuilderMessageType = "build_completed"
	BuilderFailure             BuilderMessageType = "failure"
)

// BuilderMessage is the outbound envelope. Exactly one payload field
// matching Type is populated.
type BuilderMessage struct {
	SessionID           string               `json:"session_id"`
	Type                BuilderMessageType   `json:"type"`
	FileGenerated       *FileGeneratedEvent  `json:"file_generated,omitempty"`
	CompileMessage      *CompileMessage      `json:"compile_message,omitempty"`
	ProgressMessage     *ProgressMessage     `json:"progress_message,omitempty"`
	ConstantSearchQuery *ConstantSearchQuery `json:"constant_search_query,omitempty"`
	BuildCompleted      *BuildCompletedEvent `json:"build_completed,omitempty"`
	Failure             *FailureEvent        `json:"failure,omitempty"`
}

// Channel delivers builder messages back to the controller. Send must be
// safe for concurrent use; implementations own framing and transport.
type Channel interface {
	Send(msg *BuilderMessage) error
}
