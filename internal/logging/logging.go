// Package logging configures the process-wide logrus logger from the
// PROBE_LOG environment variable, the one piece of ambient global state
// the design notes call out as acceptable outside a Session.
package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Init sets the standard logger's level from PROBE_LOG (trace, debug,
// info, warn, error; default info) and a text formatter with full
// timestamps, matching the teacher's plain logrus.New() setup but adding
// the env-var level switch cobra commands across the pack expect.
func Init() {
	level := logrus.InfoLevel
	if raw := strings.ToLower(strings.TrimSpace(os.Getenv("PROBE_LOG"))); raw != "" {
		if parsed, err := logrus.ParseLevel(raw); err == nil {
			level = parsed
		}
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
