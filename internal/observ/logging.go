package observ

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// Setup configures the process-wide logger. JSON output so log lines are
// machine-parseable alongside the pipeline's structured results.
func Setup(level string) {
	log.SetOutput(os.Stdout)
	log.SetFormatter(&log.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})

	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

// Log emits one structured event line. Thin wrapper so call sites stay
// one-liners: observ.Log("chain_selected", map[string]any{...}).
func Log(event string, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	log.WithFields(log.Fields(kv)).Info(event)
}

// Warn emits a structured warning event.
func Warn(event string, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	log.WithFields(log.Fields(kv)).Warn(event)
}
