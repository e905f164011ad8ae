// Package session implements the build session coordinator: for one
// start-build request it loads the project, reconciles persisted
// filesystem state, drives the incremental build engine with a bounded
// retry loop, streams progress back to the controller, and checkpoints
// state so the next session can resume without a full rescan.
package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/buildforge/internal/builder"
	"git.home.luguber.info/inful/buildforge/internal/constantsearch"
	bferrors "git.home.luguber.info/inful/buildforge/internal/errors"
	"git.home.luguber.info/inful/buildforge/internal/fsstate"
	"git.home.luguber.info/inful/buildforge/internal/metrics"
	"git.home.luguber.info/inful/buildforge/internal/project"
	"git.home.luguber.info/inful/buildforge/internal/protocol"
	"git.home.luguber.info/inful/buildforge/internal/scope"
	"git.home.luguber.info/inful/buildforge/internal/sequencer"
	"git.home.luguber.info/inful/buildforge/internal/storage"
)

const maxBuildAttempts = 2

// Deps are the collaborators a session needs beyond its request
// parameters.
type Deps struct {
	Loader        project.Loader
	Engine        builder.Builder
	DataDir       string
	InMemoryDelta bool
	Recorder      metrics.Recorder
	Logger        *slog.Logger
}

// Session coordinates one build request end to end. Construct with New,
// run exactly once with Run; FS events, constant-search results and
// cancellation may arrive concurrently from the controller.
type Session struct {
	id      uuid.UUID
	channel protocol.Channel
	params  protocol.BuildParams
	deps    Deps

	initialDelta *protocol.FSEvent

	canceled         atomic.Bool
	lastEventOrdinal atomic.Int64
	descriptor       atomic.Pointer[Descriptor]

	events   *sequencer.Processor
	searches *constantsearch.Table
}

// New constructs a session for one start-build request. delta is the
// optional initial filesystem delta accompanying the request.
func New(id uuid.UUID, channel protocol.Channel, params protocol.BuildParams, delta *protocol.FSEvent, deps Deps) *Session {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.NoopRecorder{}
	}
	deps.Logger = deps.Logger.With("session_id", id.String())
	return &Session{
		id:           id,
		channel:      channel,
		params:       params,
		deps:         deps,
		initialDelta: delta,
		events:       sequencer.New(deps.Logger),
		searches:     constantsearch.NewTable(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// Cancel requests cooperative cancellation. Idempotent; the engine polls
// IsCanceled at safe points and unwinds cleanly.
func (s *Session) Cancel() { s.canceled.Store(true) }

// IsCanceled implements builder.CanceledStatus.
func (s *Session) IsCanceled() bool { return s.canceled.Load() }

func (s *Session) ordinal() int64 { return s.lastEventOrdinal.Load() }

// runFlags collects the status-relevant observations of one run. They
// are only written from the message sink, which the engine invokes
// synchronously on the session goroutine.
type runFlags struct {
	hasErrors    bool
	filesTouched bool
}

// Run executes the complete session lifecycle synchronously and sends
// exactly one terminal message. Nothing escapes to the caller; all
// failures are absorbed and reported over the channel.
func (s *Session) Run(ctx context.Context) {
	start := time.Now()
	s.deps.Recorder.SessionStarted()
	s.deps.Logger.Info("session started",
		"project", s.params.ProjectPath,
		"kind", s.params.BuildKind)

	flags := &runFlags{}
	sink := s.messageSink(flags)

	var runErr error
	var failStack string
	func() {
		defer func() {
			if r := recover(); r != nil {
				failStack = string(debug.Stack())
				runErr = bferrors.Internal(fmt.Sprintf("panic in build session: %v", r))
			}
		}()
		runErr = s.runBuild(ctx, sink)
	}()
	if runErr != nil && failStack == "" {
		failStack = string(debug.Stack())
	}

	s.searches.Drain()
	s.events.Stop()
	s.finish(runErr, failStack, flags, start)
}

// runBuild is the guts of the lifecycle: project load, store open with
// corrupt-state fallback, FS-state reconciliation, and the two-attempt
// build loop. FS state is saved and the descriptor released on every
// exit path.
func (s *Session) runBuild(ctx context.Context, sink builder.MessageHandler) (err error) {
	proj, err := s.deps.Loader.Load(s.params.ProjectPath, s.params.Globals)
	if err != nil {
		return bferrors.Wrap(err, bferrors.CategoryProject, "load project")
	}

	root := storage.RootFor(s.deps.DataDir, s.params.ProjectPath)

	forceCleanCaches := false
	ts, dm, err := s.openStores(root)
	if err == nil && dm.VersionDiffers() {
		err = fmt.Errorf("dependency data format has changed (stored %d, current %d), project rebuild required",
			dm.StoredVersion(), storage.FormatVersion)
		_ = ts.Close()
		_ = dm.Close()
	}
	if err != nil {
		// second try: persisted state is unusable, start from scratch
		s.deps.Logger.Warn("persisted build data unusable, deleting storage root", "root", root, "error", err)
		openErr := err
		if delErr := storage.DeleteRoot(root); delErr != nil {
			return bferrors.Wrap(delErr, bferrors.CategoryStorage, "delete corrupt storage root")
		}
		ts, dm, err = s.openStores(root)
		if err != nil {
			return bferrors.Wrap(err, bferrors.CategoryStorage, "reopen storage after reset")
		}
		forceCleanCaches = true
		s.deps.Recorder.ForcedRebuild("storage")
		s.sendInfo(fmt.Sprintf("Project rebuild forced: %v", openErr))
		// restamp the fresh cache so the next session opens cleanly
		if err := dm.ClearAll(); err != nil {
			s.deps.Logger.Warn("stamping fresh dependency cache failed", "error", err)
		}
	}

	pd := NewDescriptor(proj, fsstate.New(), ts, dm, s.deps.Logger)
	s.descriptor.Store(pd)

	defer func() {
		s.saveData(pd, root)
	}()

	s.loadFSState(pd, root, s.initialDelta)
	s.initialDelta = nil
	// events from the controller must not touch state loaded above
	s.events.StartProcessing()

	kind := scope.KindFromProtocol(s.params.BuildKind)
	scopeParams := scope.Params{
		Modules:   s.params.ModuleNames,
		Artifacts: s.params.ArtifactNames,
		Paths:     s.params.FilePaths,
	}

	for attempt := 0; attempt < maxBuildAttempts; attempt++ {
		if forceCleanCaches && scopeParams.WholeProject() {
			// whole-project scope with voided caches compiles faster as
			// an explicit rebuild
			kind = scope.ProjectRebuild
		}

		cs, scopeErr := scope.ForBuild(kind, proj, pd.RootIndex, pd.FSState, pd.Timestamps, scopeParams)
		if scopeErr != nil {
			return bferrors.Wrap(scopeErr, bferrors.CategoryBuild, "compute compile scope")
		}

		if kind == scope.Clean {
			break
		}

		opts := builder.Options{
			CompileJustDirty: kind == scope.Make,
			ForceCleanCaches: forceCleanCaches,
			Params:           s.params.BuilderParams,
		}
		bc := builder.BuildContext{
			Project:    pd.Project,
			RootIndex:  pd.RootIndex,
			FSState:    pd.FSState,
			Timestamps: pd.Timestamps,
			Data:       pd.Data,
		}

		buildErr := s.deps.Engine.Build(ctx, bc, cs, opts, sink, s, s)
		if buildErr == nil {
			break
		}
		if builder.IsRebuildRequested(buildErr) && attempt == 0 {
			s.deps.Logger.Info("engine requested a full rebuild, retrying", "error", buildErr)
			s.deps.Recorder.ForcedRebuild("rebuild_requested")
			forceCleanCaches = true
			continue
		}
		return buildErr
	}
	return nil
}

// sendInfo reports a session-originated informational message to the
// controller. It bypasses the engine message sink: only engine activity
// may flip the files-touched flag that separates UP_TO_DATE from
// SUCCESS.
func (s *Session) sendInfo(text string) {
	err := s.channel.Send(&protocol.BuilderMessage{
		SessionID: s.id.String(),
		Type:      protocol.BuilderCompileMessage,
		CompileMessage: &protocol.CompileMessage{
			Severity: protocol.SeverityInfo,
			Text:     text,
		},
	})
	if err != nil {
		s.deps.Logger.Error("sending info message failed", "error", err)
	}
}

// openStores opens the timestamp store and data manager against the
// storage root. On error nothing stays open.
func (s *Session) openStores(root string) (*storage.TimestampStore, *storage.DataManager, error) {
	ts, err := storage.OpenTimestampStore(root)
	if err != nil {
		return nil, nil, err
	}
	dm, err := storage.OpenDataManager(root, s.deps.InMemoryDelta)
	if err != nil {
		_ = ts.Close()
		return nil, nil, err
	}
	return ts, dm, nil
}

// SubmitFSEvent enqueues a filesystem delta for ordered asynchronous
// application. Never blocks; deltas queued before initial reconciliation
// completes are held back.
func (s *Session) SubmitFSEvent(event *protocol.FSEvent) {
	s.events.Submit(func() {
		pd := s.descriptor.Load()
		if pd == nil {
			return
		}
		if err := s.applyFSEvent(pd, event); err != nil {
			s.deps.Logger.Error("applying filesystem delta failed", "ordinal", event.Ordinal, "error", err)
		}
	})
}

// SubmitConstantSearchResult resolves the outstanding constant-search
// request matching the result's key. Responses for unknown or
// superseded keys are dropped silently.
func (s *Session) SubmitConstantSearchResult(result protocol.ConstantSearchResult) {
	key := constantsearch.Key{OwnerClassName: result.OwnerClassName, FieldName: result.FieldName}
	if result.Success {
		s.searches.Resolve(key, constantsearch.Affection{AffectedFiles: result.Paths, Known: true})
		return
	}
	s.searches.Resolve(key, constantsearch.Affection{})
}

// Request implements builder.ConstantResolver: it registers a handle
// (displacing any prior request under the same key) and forwards the
// query to the controller.
func (s *Session) Request(ownerClassName, fieldName string, accessFlags int, fieldRemoved, accessChanged bool) *constantsearch.Handle {
	key := constantsearch.Key{OwnerClassName: ownerClassName, FieldName: fieldName}
	h := s.searches.Register(key)
	err := s.channel.Send(&protocol.BuilderMessage{
		SessionID: s.id.String(),
		Type:      protocol.BuilderConstantSearchQuery,
		ConstantSearchQuery: &protocol.ConstantSearchQuery{
			OwnerClassName: ownerClassName,
			FieldName:      fieldName,
			AccessFlags:    accessFlags,
			FieldRemoved:   fieldRemoved,
			AccessChanged:  accessChanged,
		},
	})
	if err != nil {
		s.deps.Logger.Error("sending constant search query failed", "owner", ownerClassName, "field", fieldName, "error", err)
	}
	return h
}

// applyFSEvent applies one delta: deletions first, then changes, each
// resolved through the root index. Paths outside every known root are
// skipped. One processed delta advances the ordinal by exactly one.
func (s *Session) applyFSEvent(pd *Descriptor, event *protocol.FSEvent) error {
	if event == nil {
		return nil
	}
	for _, deleted := range event.DeletedPaths {
		rd := pd.RootIndex.ModuleAndRoot(deleted)
		if rd == nil {
			continue
		}
		if err := pd.FSState.RegisterDeleted(rd.Module, deleted, rd.IsTestRoot, pd.Timestamps); err != nil {
			return err
		}
	}
	for _, changed := range event.ChangedPaths {
		rd := pd.RootIndex.ModuleAndRoot(changed)
		if rd == nil {
			continue
		}
		if err := pd.FSState.MarkDirty(changed, rd, pd.Timestamps); err != nil {
			return err
		}
	}
	s.lastEventOrdinal.Add(1)
	s.deps.Recorder.FSEventApplied()
	return nil
}

// loadFSState reconciles persisted FS state against the optional initial
// delta. A persisted ordinal exactly one behind the delta's means no
// events were lost: prior state is loaded and the delta applied. Any gap,
// missing file or read error clears all state (lost event means full
// rescan). Never fails the session.
func (s *Session) loadFSState(pd *Descriptor, root string, initial *protocol.FSEvent) {
	path := filepath.Join(root, storage.FSStateFileName)

	data, err := os.ReadFile(path)
	if err == nil {
		r := bytes.NewReader(data)
		var savedOrdinal int64
		if err := binary.Read(r, binary.BigEndian, &savedOrdinal); err == nil {
			switch {
			case initial == nil:
				// nothing happened since the last session; prior state
				// stands as-is
				if loadErr := pd.FSState.Load(r); loadErr == nil {
					s.lastEventOrdinal.Store(savedOrdinal)
					return
				}
				s.deps.Logger.Warn("persisted fs state unreadable, forcing full rescan", "path", path)
			case savedOrdinal+1 == initial.Ordinal:
				if loadErr := pd.FSState.Load(r); loadErr == nil {
					s.lastEventOrdinal.Store(savedOrdinal)
					if applyErr := s.applyFSEvent(pd, initial); applyErr != nil {
						s.deps.Logger.Error("applying initial delta failed", "error", applyErr)
					}
					return
				}
				s.deps.Logger.Warn("persisted fs state unreadable, forcing full rescan", "path", path)
			}
		} else {
			s.deps.Logger.Warn("persisted fs state truncated, forcing full rescan", "path", path)
		}
	} else if !os.IsNotExist(err) {
		s.deps.Logger.Warn("reading persisted fs state failed, forcing full rescan", "path", path, "error", err)
	}

	// first start, an ordinal gap, or unreadable state: full rescan
	pd.FSState.ClearAll()
	if initial != nil {
		s.lastEventOrdinal.Store(initial.Ordinal)
	} else {
		s.lastEventOrdinal.Store(0)
	}
}

// saveData persists FS state with the last applied ordinal and releases
// the descriptor. A failed write deletes the file so the next session
// falls back to a full rescan instead of trusting half-written state.
func (s *Session) saveData(pd *Descriptor, root string) {
	path := filepath.Join(root, storage.FSStateFileName)

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, s.lastEventOrdinal.Load()); err != nil {
		s.deps.Logger.Error("encoding fs state ordinal failed", "error", err)
	} else if err := pd.FSState.Save(&buf); err != nil {
		s.deps.Logger.Error("serializing fs state failed", "error", err)
	} else if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		s.deps.Logger.Error("writing fs state failed", "path", path, "error", err)
		_ = os.Remove(path)
	}

	pd.Release()
}

// messageSink translates engine callbacks into outbound protocol
// messages, at most one message per callback.
func (s *Session) messageSink(flags *runFlags) builder.MessageHandler {
	return builder.MessageHandlerFunc(func(msg builder.Message) {
		var response *protocol.BuilderMessage
		switch m := msg.(type) {
		case builder.FilesGenerated:
			if len(m.Paths) > 0 {
				response = &protocol.BuilderMessage{
					Type:          protocol.BuilderFileGenerated,
					FileGenerated: &protocol.FileGeneratedEvent{Paths: m.Paths},
				}
			}
		case builder.UpToDateFilesSaved:
			flags.filesTouched = true
		case builder.CompilerDiagnostic:
			flags.filesTouched = true
			if m.Severity == protocol.SeverityError {
				flags.hasErrors = true
			}
			text := m.Text
			if m.CompilerName != "" {
				text = m.CompilerName + ": " + m.Text
			}
			response = &protocol.BuilderMessage{
				Type: protocol.BuilderCompileMessage,
				CompileMessage: &protocol.CompileMessage{
					Severity:       m.Severity,
					Text:           text,
					SourcePath:     m.SourcePath,
					BeginOffset:    m.BeginOffset,
					EndOffset:      m.EndOffset,
					LocationOffset: m.LocationOffset,
					Line:           m.Line,
					Column:         m.Column,
				},
			}
		case builder.Progress:
			response = &protocol.BuilderMessage{
				Type:            protocol.BuilderProgressMessage,
				ProgressMessage: &protocol.ProgressMessage{Text: m.Text, Done: m.Done},
			}
		}
		if response != nil {
			response.SessionID = s.id.String()
			if err := s.channel.Send(response); err != nil {
				s.deps.Logger.Error("forwarding builder message failed", "type", response.Type, "error", err)
			}
		}
	})
}

// finish sends the single terminal message and records metrics. Status
// precedence: internal error > canceled > errors > up-to-date > success.
// stack is the trace captured where runErr was intercepted.
func (s *Session) finish(runErr error, stack string, flags *runFlags, start time.Time) {
	var last *protocol.BuilderMessage
	var status string

	if runErr != nil {
		cause := rootCause(runErr)
		last = &protocol.BuilderMessage{
			SessionID: s.id.String(),
			Type:      protocol.BuilderFailure,
			Failure: &protocol.FailureEvent{
				Message:    fmt.Sprintf("Internal error: (%T) %v", cause, cause),
				StackTrace: stack,
			},
		}
		status = "internal_error"
		s.deps.Logger.Error("session failed", "error", runErr)
	} else {
		st := protocol.StatusSuccess
		switch {
		case s.IsCanceled():
			st = protocol.StatusCanceled
		case flags.hasErrors:
			st = protocol.StatusErrors
		case !flags.filesTouched:
			st = protocol.StatusUpToDate
		}
		last = &protocol.BuilderMessage{
			SessionID:      s.id.String(),
			Type:           protocol.BuilderBuildCompleted,
			BuildCompleted: &protocol.BuildCompletedEvent{Status: st, Text: "build completed"},
		}
		status = string(st)
	}

	if err := s.channel.Send(last); err != nil {
		s.deps.Logger.Error("sending terminal message failed", "error", err)
	}
	s.deps.Recorder.SessionFinished(status, time.Since(start))
	s.deps.Logger.Info("session finished", "status", status, "duration", time.Since(start))
}

// rootCause walks the wrap chain to its deepest error.
func rootCause(err error) error {
	for {
		unwrapped := errors.Unwrap(err)
		if unwrapped == nil {
			return err
		}
		err = unwrapped
	}
}
