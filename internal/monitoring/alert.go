package monitoring

import (
	"github.com/rs/zerolog/log"
)

// Alert reports a condition that needs an operator. Alerts are emitted as
// error-level log lines tagged with alert=true for the log pipeline to route.
func Alert(message string, labels map[string]string) {
	fields := make(map[string]interface{}, len(labels))
	for k, v := range labels {
		fields[k] = v
	}
	log.Error().
		Bool("alert", true).
		Fields(fields).
		Msg("ALERT: " + message)
}
