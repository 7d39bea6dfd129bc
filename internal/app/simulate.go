package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"silver-stress-tracker/internal/alerting"
	"silver-stress-tracker/internal/stress"
)

// SimulateAlert sends a composite transition from one color to another
// through the configured channels, without touching the database.
func (a *App) SimulateAlert(ctx context.Context, from, to stress.Color) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	engine, err := a.newEngine()
	if err != nil {
		return err
	}
	composite, ok := SimulatedComposite(engine, to)
	if !ok {
		return fmt.Errorf("no normalizing count yields composite color %q", to)
	}

	note := alerting.Notification{
		At:            time.Now().UTC(),
		PreviousColor: from,
		Composite:     composite,
		Channels:      a.Config.Alerting.Channels,
		AdditionalMsg: "simulated alert",
	}
	return notifier.Notify(ctx, note)
}

// SimulatedComposite finds the highest normalizing count over the full
// indicator set whose composite lands on color.
func SimulatedComposite(engine *stress.Engine, color stress.Color) (stress.CompositeScore, bool) {
	total := len(stress.StressMetrics)
	for normalizing := total; normalizing >= 0; normalizing-- {
		metrics := make(map[string]*stress.NormalizedMetric, total)
		for i, name := range stress.StressMetrics {
			metrics[name] = &stress.NormalizedMetric{Metric: name, IsNormalizing: i < normalizing}
		}
		if c := engine.Composite(metrics); c.StatusColor == color {
			return c, true
		}
	}
	return stress.CompositeScore{}, false
}
