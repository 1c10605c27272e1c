package daemon

import (
	"context"

	"github.com/eliteGoblin/sysdaemon/internal/domain"
)

// IdleWorker does nothing. The daemon only keeps its pid file and answers signals.
var IdleWorker domain.Worker = domain.WorkerFunc(func(context.Context) error { return nil })
