package scheduler

import (
	"fmt"
	"strings"

	"github.com/kilianp07/fleetbridge/core/logger"
)

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if c.log != nil {
		c.log.Debugf("%s%s", msg, kv(keysAndValues))
	}
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	if c.log != nil {
		c.log.Errorf("%s: %v%s", msg, err, kv(keysAndValues))
	}
}

func kv(keysAndValues []interface{}) string {
	var b strings.Builder
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fmt.Fprintf(&b, " %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	return b.String()
}
