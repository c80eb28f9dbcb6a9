package concurrency

import (
	"runtime"

	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
)

// InitializeForContainers aligns GOMAXPROCS with the container CPU quota.
// Call it at the start of main. The returned function restores the previous value.
func InitializeForContainers(logger *zap.Logger) func() {
	if logger == nil {
		logger = zap.NewNop()
	}
	sugar := logger.Sugar()

	undo, err := maxprocs.Set(maxprocs.Logger(sugar.Infof))
	if err != nil {
		logger.Warn("Failed to set GOMAXPROCS from container quota", zap.Error(err))
		return func() {}
	}

	logger.Info("Concurrency initialized", zap.Int("gomaxprocs", runtime.GOMAXPROCS(0)))
	return undo
}
