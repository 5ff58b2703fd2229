package gormdb

import (
	"fmt"
	"strings"
	"time"

	gorm_logger "gorm.io/gorm/logger"

	"github.com/tigerroll/shoreline/pkg/ingest/support/logger"
)

// NewGormLogger creates a gorm logger that redirects output into the engine's
// leveled logger. SQL statements land at DEBUG, everything else at INFO.
func NewGormLogger() gorm_logger.Interface {
	return gorm_logger.New(
		NewGormWriter(),
		gorm_logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gorm_logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// GormWriter redirects GORM log output to the engine logger.
type GormWriter struct{}

// NewGormWriter creates a new GormWriter.
func NewGormWriter() *GormWriter {
	return &GormWriter{}
}

func isStatementLog(msg string) bool {
	return strings.Contains(msg, "[") && strings.Contains(msg, "]") &&
		(strings.Contains(msg, "SELECT") || strings.Contains(msg, "INSERT") ||
			strings.Contains(msg, "UPDATE") || strings.Contains(msg, "DELETE"))
}

// Printf implements the gorm logger Writer interface.
func (w *GormWriter) Printf(format string, v ...interface{}) {
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	if isStatementLog(msg) {
		logger.Debugf("[GORM] %s", msg)
	} else {
		logger.Infof("[GORM] %s", msg)
	}
}
