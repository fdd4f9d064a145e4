package runner

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTailKeepsMostRecentBytes(t *testing.T) {
	t.Parallel()

	tb := &tail{max: 8}
	_, _ = tb.Write([]byte("abcdef"))
	_, _ = tb.Write([]byte("ghij"))
	assert.Equal(t, "cdefghij", string(tb.buf))

	_, _ = tb.Write([]byte("0123456789"))
	assert.Equal(t, "23456789", string(tb.buf))
}

func TestCappedRejectsOverflow(t *testing.T) {
	t.Parallel()

	c := &capped{max: 4}
	_, err := c.Write([]byte("abc"))
	require.NoError(t, err)
	_, err = c.Write([]byte("de"))
	assert.ErrorIs(t, err, ErrOutputTooLarge)
}

func TestRunPassesPeriodEnvironment(t *testing.T) {
	t.Parallel()

	inv := Invocation{
		ConnectorID: "cby",
		PeriodStart: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Env:         map[string]string{"EXTRA": "yes"},
		Dir:         t.TempDir(),
	}
	res, err := Run(context.Background(),
		`echo "$INGEST_CONNECTOR_ID $INGEST_PERIOD_START $INGEST_PERIOD_END $EXTRA"`, inv, 5*time.Second)

	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "cby 2023-01-01T00:00:00Z 2024-01-01T00:00:00Z yes", strings.TrimSpace(string(res.Stdout)))
}

func TestRunReportsExitCodeAndTimeout(t *testing.T) {
	t.Parallel()

	res, err := Run(context.Background(), "echo oops >&2; exit 3", Invocation{}, 5*time.Second)
	require.Error(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Stderr, "oops")
	assert.False(t, res.TimedOut)

	res, err = Run(context.Background(), "sleep 2", Invocation{}, 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, res.TimedOut)
	assert.Contains(t, err.Error(), "timed out")
}

func TestBuildEnvOverridesInherited(t *testing.T) {
	t.Setenv(EnvConnectorID, "stale")
	t.Setenv("INGEST_TEST_INHERITED", "kept")

	env := BuildEnv(Invocation{ConnectorID: "wfp", Env: map[string]string{"INGEST_TEST_INHERITED": "replaced"}})
	assert.Contains(t, env, EnvConnectorID+"=wfp")
	assert.NotContains(t, env, EnvConnectorID+"=stale")
	assert.Contains(t, env, "INGEST_TEST_INHERITED=replaced")
}
