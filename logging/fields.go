package logging

import (
	"time"

	"go.uber.org/zap"
)

// Field helpers shared by the pools and the orchestrator so the same keys
// are used everywhere.

func Pool(name string) zap.Field { return zap.String("pool", name) }

func Device(id string) zap.Field { return zap.String("device_id", id) }

func RequestID(id string) zap.Field { return zap.String("request_id", id) }

func UserID(id int64) zap.Field { return zap.Int64("user_id", id) }

func Stage(key string) zap.Field { return zap.String("stage", key) }

// Elapsed records the time since start under "duration".
func Elapsed(start time.Time) zap.Field {
	return zap.Duration("duration", time.Since(start))
}
