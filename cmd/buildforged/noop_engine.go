package main

import (
	"context"

	"git.home.luguber.info/inful/buildforge/internal/builder"
	"git.home.luguber.info/inful/buildforge/internal/scope"
)

// noopEngine stands in until a real incremental build engine is linked
// in. It emits a single progress message and produces nothing, so
// sessions complete with up-to-date status.
type noopEngine struct{}

func (noopEngine) Build(ctx context.Context, bc builder.BuildContext, cs scope.CompileScope, opts builder.Options, handler builder.MessageHandler, canceled builder.CanceledStatus, constants builder.ConstantResolver) error {
	if canceled.IsCanceled() {
		return nil
	}
	handler.Handle(builder.Progress{Text: "No build engine configured, nothing to compile", Done: -1})
	return nil
}
