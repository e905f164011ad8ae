// Package builder defines the contract between a build session and the
// incremental build engine. The engine itself is an external
// collaborator; the session only drives it and translates its callbacks.
package builder

import (
	"context"
	"errors"
	"fmt"

	"git.home.luguber.info/inful/buildforge/internal/constantsearch"
	"git.home.luguber.info/inful/buildforge/internal/fsstate"
	"git.home.luguber.info/inful/buildforge/internal/project"
	"git.home.luguber.info/inful/buildforge/internal/protocol"
	"git.home.luguber.info/inful/buildforge/internal/scope"
	"git.home.luguber.info/inful/buildforge/internal/storage"
)

// Message is a callback event emitted by the build engine. The concrete
// types below are the full set a session translates.
type Message interface {
	isBuilderMessage()
}

// FilesGenerated reports produced output files.
type FilesGenerated struct {
	Paths []protocol.GeneratedPaths
}

// UpToDateFilesSaved signals that files were confirmed up to date.
type UpToDateFilesSaved struct{}

// CompilerDiagnostic is a single compiler message.
type CompilerDiagnostic struct {
	CompilerName   string
	Severity       protocol.MessageSeverity
	Text           string
	SourcePath     string
	BeginOffset    int64
	EndOffset      int64
	LocationOffset int64
	Line           int64
	Column         int64
}

// Progress reports engine progress; Done < 0 means unknown.
type Progress struct {
	Text string
	Done float64
}

func (FilesGenerated) isBuilderMessage()     {}
func (UpToDateFilesSaved) isBuilderMessage() {}
func (CompilerDiagnostic) isBuilderMessage() {}
func (Progress) isBuilderMessage()           {}

// MessageHandler receives engine callbacks synchronously on the engine's
// own goroutine.
type MessageHandler interface {
	Handle(msg Message)
}

// MessageHandlerFunc adapts a function to MessageHandler.
type MessageHandlerFunc func(msg Message)

// Handle implements MessageHandler.
func (f MessageHandlerFunc) Handle(msg Message) { f(msg) }

// CanceledStatus is the cooperative cancellation flag the engine polls
// at safe points.
type CanceledStatus interface {
	IsCanceled() bool
}

// ConstantResolver lets the engine ask the controller which files a
// constant change affects. Request returns immediately; the engine
// blocks on the handle.
type ConstantResolver interface {
	Request(ownerClassName, fieldName string, accessFlags int, fieldRemoved, accessChanged bool) *constantsearch.Handle
}

// BuildContext bundles the session-owned state an engine run operates on.
type BuildContext struct {
	Project    *project.Project
	RootIndex  *project.RootIndex
	FSState    *fsstate.State
	Timestamps *storage.TimestampStore
	Data       *storage.DataManager
}

// Options modify one engine run.
type Options struct {
	// CompileJustDirty enables incremental behavior (MAKE); when false
	// everything in scope is recompiled.
	CompileJustDirty bool
	// ForceCleanCaches tells the engine its dependency caches are void.
	ForceCleanCaches bool
	// Params are free-form engine parameters from the controller.
	Params map[string]string
}

// Builder is the incremental build engine. Build runs synchronously on
// the caller's goroutine, emitting callbacks through handler, and
// returns a RebuildRequestedError when its caches cannot support an
// incremental run.
type Builder interface {
	Build(ctx context.Context, bc BuildContext, cs scope.CompileScope, opts Options, handler MessageHandler, canceled CanceledStatus, constants ConstantResolver) error
}

// RebuildRequestedError signals that the engine needs a forced full
// rebuild to proceed.
type RebuildRequestedError struct {
	Cause error
}

// Error implements the error interface.
func (e *RebuildRequestedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rebuild requested: %v", e.Cause)
	}
	return "rebuild requested"
}

// Unwrap supports errors.Is/As chains.
func (e *RebuildRequestedError) Unwrap() error { return e.Cause }

// IsRebuildRequested reports whether err carries a rebuild request.
func IsRebuildRequested(err error) bool {
	var rre *RebuildRequestedError
	return errors.As(err, &rre)
}
