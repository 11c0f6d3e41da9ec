package utils

import (
	"io"

	"github.com/MrSnakeDoc/stackpilot/internal/logger"
)

// MustClose closes c on a shutdown path. A failure is logged under name
// and otherwise ignored.
func MustClose(c io.Closer, name string, log logger.Logger) {
	if err := c.Close(); err != nil {
		log.Warn("failed to close", logger.String("resource", name), logger.Error(err))
		return
	}
	log.Debug("closed", logger.String("resource", name))
}
