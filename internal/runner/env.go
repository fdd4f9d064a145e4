package runner

import (
	"maps"
	"os"
	"slices"
	"strings"
	"time"
)

// Variables set for every invocation. They override inherited values.
const (
	EnvConnectorID = "INGEST_CONNECTOR_ID"
	EnvPeriodStart = "INGEST_PERIOD_START"
	EnvPeriodEnd   = "INGEST_PERIOD_END"
)

// BuildEnv returns the process environment overlaid with inv.Env and the
// INGEST_* period variables, sorted by name.
func BuildEnv(inv Invocation) []string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	maps.Copy(env, inv.Env)

	env[EnvConnectorID] = inv.ConnectorID
	env[EnvPeriodStart] = inv.PeriodStart.UTC().Format(time.RFC3339)
	env[EnvPeriodEnd] = inv.PeriodEnd.UTC().Format(time.RFC3339)

	out := make([]string, 0, len(env))
	for _, k := range slices.Sorted(maps.Keys(env)) {
		out = append(out, k+"="+env[k])
	}
	return out
}
