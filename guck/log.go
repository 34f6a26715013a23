package guck

import (
	"io"

	log "github.com/sirupsen/logrus"
)

// SetLogLevel sets the level for the SDK's internal diagnostics. Call early
// during startup so resolution-time messages honor it.
func SetLogLevel(logLevel string) error {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	return nil
}

// SetInternalLogOutput redirects the SDK's internal diagnostics. Hosts that
// capture stderr may want these routed elsewhere to keep SDK notices out of
// the event store.
func SetInternalLogOutput(w io.Writer) {
	log.SetOutput(w)
}
