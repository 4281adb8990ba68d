package runner

import (
	"fmt"

	"github.com/oceanlab/specimen-stack/common/config"
	"github.com/oceanlab/specimen-stack/common/dlq"
	"github.com/oceanlab/specimen-stack/common/logging"
	"github.com/oceanlab/specimen-stack/common/messaging"
	natsmsg "github.com/oceanlab/specimen-stack/common/messaging/nats"
)

// StageSettings is the per-stage part of a runner Config.
type StageSettings struct {
	Stage     string
	Queue     string
	Declare   []string
	Instances int
	Prefetch  int
}

// FromConfig builds a runner Config that consumes from JetStream using the
// shared NATS, supervisor and dead letter settings.
func FromConfig(cfg *config.Config, stage StageSettings, logger *logging.Logger) (Config, error) {
	bo, err := messaging.NewBackoffFactory(cfg.Supervisor.Policy, cfg.Supervisor.Delay, cfg.Supervisor.MaxDelay)
	if err != nil {
		return Config{}, fmt.Errorf("supervisor backoff: %w", err)
	}

	natsCfg, queueCfg := natsmsg.FromSettings(cfg.NATS, stage.Stage, logger)

	rc := Config{
		Stage:        stage.Stage,
		Queue:        stage.Queue,
		Declare:      stage.Declare,
		Instances:    stage.Instances,
		Prefetch:     stage.Prefetch,
		RequeueDelay: cfg.NATS.RequeueDelay,
		Dial:         natsmsg.Dialer(natsCfg, queueCfg),
		Backoff:      bo,
		MaxDelay:     cfg.Supervisor.MaxDelay,
		Logger:       logger,
	}
	if cfg.DLQ.Enabled {
		rc.DeadLetters = dlq.ForConn(dlq.StreamConfig{
			MaxAge:  cfg.DLQ.MaxAge,
			MaxMsgs: cfg.DLQ.MaxMsgs,
		}, nil)
	}
	return rc, nil
}
