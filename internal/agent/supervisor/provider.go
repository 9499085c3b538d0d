package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/cloud-on-prem/goose/internal/common/config"
	"github.com/cloud-on-prem/goose/internal/common/constants"
	"github.com/cloud-on-prem/goose/internal/common/logger"
	"github.com/cloud-on-prem/goose/internal/events"
)

// Provide builds a supervisor from the application config and brings the
// agent server up: attached when agent.url is set, spawned otherwise. The
// returned cleanup stops it once.
func Provide(ctx context.Context, cfg *config.Config, hub *events.Hub, log *logger.Logger) (*Supervisor, func() error, error) {
	sup := New(ConfigFrom(cfg.Agent), hub, log)

	if err := sup.Up(ctx); err != nil {
		return nil, nil, err
	}

	var stopOnce sync.Once
	cleanup := func() error {
		var stopErr error
		stopOnce.Do(func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), constants.AgentStopGracePeriod+time.Second)
			defer cancel()
			stopErr = sup.Stop(stopCtx)
		})
		return stopErr
	}

	return sup, cleanup, nil
}
