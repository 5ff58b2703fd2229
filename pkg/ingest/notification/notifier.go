// Package notification delivers run lifecycle events. The default
// implementation logs them; deployments hang alerting off the log stream.
package notification

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/shoreline/pkg/ingest/core/model"
	"github.com/tigerroll/shoreline/pkg/ingest/core/port"
	"github.com/tigerroll/shoreline/pkg/ingest/support/logger"
)

// LogNotifier implements port.Notifier on the engine logger.
type LogNotifier struct{}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) RunStarted(_ context.Context, runID string, totalRecords int) {
	logger.Infof("notification: run %s started, %d record(s)", runID, totalRecords)
}

func (n *LogNotifier) RunProgress(_ context.Context, runID string, description string, percentComplete float64, stats model.RunStats) {
	logger.Infof("notification: run %s %s: %.1f%% (%d/%d record(s))", runID, description, percentComplete, stats.RecordsProcessed, stats.RecordsTotal)
}

func (n *LogNotifier) RunFinished(_ context.Context, runID string, stats model.RunStats) {
	logger.Infof("notification: run %s finished, %d processed, %d failed", runID, stats.RecordsProcessed, stats.RecordsFailed)
}

func (n *LogNotifier) RunFailed(_ context.Context, runID string, err error) {
	logger.Errorf("notification: run %s failed: %v", runID, err)
}

var _ port.Notifier = (*LogNotifier)(nil)

// Module provides the notifier to Fx.
var Module = fx.Options(
	fx.Provide(func() port.Notifier { return NewLogNotifier() }),
)
