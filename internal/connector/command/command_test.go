package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchParsesJSONLines(t *testing.T) {
	t.Parallel()

	script := `printf '%s\n' \
  '{"series_key":"wfp.wheat","period":"2023-05","value":812.5,"unit":"YER/kg"}' \
  'not json' \
  '{"series_key":"wfp.rice","period":"2023-05"}' \
  '{"error":"market closed"}' \
  "{\"series_key\":\"env.start\",\"period\":\"$INGEST_PERIOD_START\",\"value\":1}"`

	c, err := New("wfp", Config{Command: script, Source: "wfp", Timeout: 5 * time.Second})
	require.NoError(t, err)

	start := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	res, err := c.Fetch(context.Background(), start, start.AddDate(0, 1, 0))
	require.NoError(t, err)

	require.Len(t, res.Records, 2)
	assert.Equal(t, "wfp.wheat", res.Records[0].SeriesKey)
	assert.Equal(t, 812.5, res.Records[0].Value)
	assert.Equal(t, "wfp", res.Records[0].Source)
	assert.Equal(t, start, res.Records[0].Period)
	assert.Equal(t, start, res.Records[1].Period)
	assert.Len(t, res.Errors, 3)
}

func TestFetchFailsOnNonZeroExit(t *testing.T) {
	t.Parallel()

	c, err := New("bad", Config{Command: "echo upstream down >&2; exit 2"})
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), time.Now(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")
}

func TestNewRequiresCommand(t *testing.T) {
	t.Parallel()

	_, err := New("x", Config{})
	assert.Error(t, err)
}

func TestNewUppercasesEnvNames(t *testing.T) {
	t.Parallel()

	c, err := New("x", Config{Command: `printf '{"series_key":"k","period":"2020","value":%s}\n' "$API_LEVEL"`, Env: map[string]string{"api_level": "3"}})
	require.NoError(t, err)

	res, err := c.Fetch(context.Background(), time.Now(), time.Now())
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, 3.0, res.Records[0].Value)
}
