package session

import (
	"log/slog"
	"sync"

	"git.home.luguber.info/inful/buildforge/internal/fsstate"
	"git.home.luguber.info/inful/buildforge/internal/project"
	"git.home.luguber.info/inful/buildforge/internal/storage"
)

// Descriptor aggregates everything a build run operates on: the loaded
// project model, filesystem state, and the persisted stores. Exactly one
// live descriptor exists per session.
type Descriptor struct {
	Project    *project.Project
	RootIndex  *project.RootIndex
	FSState    *fsstate.State
	Timestamps *storage.TimestampStore
	Data       *storage.DataManager
	Logger     *slog.Logger

	releaseOnce sync.Once
}

// NewDescriptor bundles the given components into a descriptor.
func NewDescriptor(p *project.Project, state *fsstate.State, ts *storage.TimestampStore, dm *storage.DataManager, logger *slog.Logger) *Descriptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Descriptor{
		Project:    p,
		RootIndex:  project.NewRootIndex(p),
		FSState:    state,
		Timestamps: ts,
		Data:       dm,
		Logger:     logger,
	}
}

// Release closes the persisted stores. Safe to call more than once; only
// the first call has effect.
func (d *Descriptor) Release() {
	d.releaseOnce.Do(func() {
		if d.Timestamps != nil {
			if err := d.Timestamps.Close(); err != nil {
				d.Logger.Warn("closing timestamp store failed", "error", err)
			}
		}
		if d.Data != nil {
			if err := d.Data.Close(); err != nil {
				d.Logger.Warn("closing dependency cache failed", "error", err)
			}
		}
	})
}
