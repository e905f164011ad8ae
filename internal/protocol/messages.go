// Package protocol defines the JSON message surface exchanged between a
// build controller and the build session server. Byte-level framing and
// transport are delegated to the Channel implementation.
package protocol

// BuildKindName selects incremental vs. full vs. scoped recompilation.
type BuildKindName string

const (
	BuildKindClean             BuildKindName = "clean"
	BuildKindMake              BuildKindName = "make"
	BuildKindForcedCompilation BuildKindName = "forced_compilation"
	BuildKindProjectRebuild    BuildKindName = "project_rebuild"
)

// GlobalLibrary declares a globally visible library, or an SDK when
// HomePath is set.
type GlobalLibrary struct {
	Name              string   `json:"name"`
	TypeName          string   `json:"type_name,omitempty"`
	Version           string   `json:"version,omitempty"`
	HomePath          string   `json:"home_path,omitempty"`
	Paths             []string `json:"paths,omitempty"`
	AdditionalDataXML string   `json:"additional_data,omitempty"`
}

// IsSDK reports whether the declaration describes an SDK rather than a
// plain global library.
func (l GlobalLibrary) IsSDK() bool { return l.HomePath != "" }

// GlobalSettings carries controller-side settings that apply to every
// project the session may load.
type GlobalSettings struct {
	PathVariables   map[string]string `json:"path_variables,omitempty"`
	GlobalLibraries []GlobalLibrary   `json:"global_libraries,omitempty"`
	GlobalEncoding  string            `json:"global_encoding,omitempty"`
	IgnorePatterns  string            `json:"ignore_patterns,omitempty"`
}

// FSEvent is a batch of filesystem changes with a monotonically
// increasing sequence ordinal. Deletions are always applied before
// changes.
type FSEvent struct {
	Ordinal      int64    `json:"ordinal"`
	DeletedPaths []string `json:"deleted_paths,omitempty"`
	ChangedPaths []string `json:"changed_paths,omitempty"`
}

// BuildParams is the immutable parameter block of a start-build request.
type BuildParams struct {
	ProjectPath   string            `json:"project_path"`
	BuildKind     BuildKindName     `json:"build_kind"`
	ModuleNames   []string          `json:"module_names,omitempty"`
	ArtifactNames []string          `json:"artifact_names,omitempty"`
	FilePaths     []string          `json:"file_paths,omitempty"`
	BuilderParams map[string]string `json:"builder_params,omitempty"`
	Globals       GlobalSettings    `json:"globals"`
}

// ConstantSearchResult is the controller's answer to a ConstantSearchQuery.
type ConstantSearchResult struct {
	OwnerClassName string   `json:"owner_class_name"`
	FieldName      string   `json:"field_name"`
	Success        bool     `json:"success"`
	Paths          []string `json:"paths,omitempty"`
}

// ControllerMessageType discriminates inbound controller messages.
type ControllerMessageType string

const (
	ControllerBuildParams          ControllerMessageType = "build_params"
	ControllerFSEvent              ControllerMessageType = "fs_event"
	ControllerConstantSearchResult ControllerMessageType = "constant_search_result"
	ControllerCancel               ControllerMessageType = "cancel"
)

// ControllerMessage is the inbound envelope. Exactly one payload field
// matching Type is populated.
type ControllerMessage struct {
	SessionID            string                `json:"session_id"`
	Type                 ControllerMessageType `json:"type"`
	BuildParams          *BuildParams          `json:"build_params,omitempty"`
	InitialFSDelta       *FSEvent              `json:"initial_fs_delta,omitempty"`
	FSEvent              *FSEvent              `json:"fs_event,omitempty"`
	ConstantSearchResult *ConstantSearchResult `json:"constant_search_result,omitempty"`
}
