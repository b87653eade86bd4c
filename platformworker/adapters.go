package platformworker

import (
	"context"

	"flowcore.dev/eventbus"
	"flowcore.dev/runs"
)

// BusEmitter satisfies rungroups.EventEmitter by forwarding to an
// *eventbus.Bus assigned after construction. eventbus.NewBus itself needs a
// *rungroups.Tracker, and rungroups.NewTracker needs an EventEmitter, so the
// composition root builds a zero-value BusEmitter first, wires it into the
// Tracker, builds the Bus, then backfills BusEmitter.Bus.
type BusEmitter struct {
	Bus *eventbus.Bus
}

func (e *BusEmitter) Emit(ctx context.Context, eventName, organizationID string, payload map[string]interface{}, sourceRunID string) error {
	_, err := e.Bus.Emit(ctx, eventName, organizationID, payload, sourceRunID)
	return err
}

// RunSpawner satisfies rungroups.ProcedureSpawner: it materialises a
// RunTypeProcedure Run carrying the requested slug and params in its config.
// The Run is executed later by Dispatcher.runProcedure, which resolves the
// slug through the procedure.Catalogue.
type RunSpawner struct {
	Runs *runs.Store
}

func (s *RunSpawner) SpawnRun(ctx context.Context, organizationID, procedureSlug string, params map[string]interface{}, sourceRunID string) (*runs.Run, error) {
	config := runs.JSONMap{"procedure_slug": procedureSlug, "params": params, "source_run_id": sourceRunID}
	return s.Runs.Create(ctx, organizationID, runs.RunTypeProcedure, runs.OriginGroup, config, nil, "")
}
