package nodes

import (
	"context"
	"log/slog"

	"github.com/rendis/nodeflow/internal/flowctx"
)

// TriggerExecutor handles every trigger family. The trigger payload was
// already seeded into the initial context by whoever delivered the event, so
// the node only reports progress and passes the context through.
type TriggerExecutor struct {
	logger *slog.Logger
}

func (e *TriggerExecutor) Execute(ctx context.Context, in Input) (flowctx.Context, error) {
	return run(ctx, in, e.logger, func(context.Context, map[string]any) (flowctx.Context, error) {
		return in.Context, nil
	})
}
