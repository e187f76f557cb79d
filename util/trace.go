package util

import (
	"time"

	"go.uber.org/zap"
)

// Trace 记录耗时，用法：defer util.Trace("segment")()
func Trace(name string) func() {
	start := time.Now()
	return func() {
		zap.L().Debug("trace", zap.String("name", name), zap.Duration("cost", time.Since(start)))
	}
}
