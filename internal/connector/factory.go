package connector

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/MaherFSF/Yemenactr-sub010/internal/classify"
	"github.com/MaherFSF/Yemenactr-sub010/internal/connector/command"
	"github.com/MaherFSF/Yemenactr-sub010/internal/connector/httpjson"
	"github.com/MaherFSF/Yemenactr-sub010/internal/connector/sqlsource"
	"github.com/MaherFSF/Yemenactr-sub010/pkg/plugin"
)

// Spec is one entry of the `connectors` config list.
type Spec struct {
	ID       string         `mapstructure:"id"`
	Type     string         `mapstructure:"type"`
	Timeout  time.Duration  `mapstructure:"timeout"`
	Settings map[string]any `mapstructure:"settings"`
}

// New builds the connector described by spec. When classifier is non-nil and
// the settings carry classify_field, records are tagged with
// metadata.event_type.
func New(spec Spec, classifier *classify.Classifier) (plugin.Connector, error) {
	if strings.TrimSpace(spec.ID) == "" {
		return nil, fmt.Errorf("connector id is required")
	}

	var (
		c   plugin.Connector
		err error
	)
	switch strings.ToLower(spec.Type) {
	case "sql":
		var cfg sqlsource.Config
		if err = decode(spec, &cfg); err == nil {
			cfg.Timeout = pickTimeout(spec.Timeout, cfg.Timeout)
			c, err = sqlsource.New(spec.ID, cfg)
		}
	case "command":
		var cfg command.Config
		if err = decode(spec, &cfg); err == nil {
			cfg.Timeout = pickTimeout(spec.Timeout, cfg.Timeout)
			c, err = command.New(spec.ID, cfg)
		}
	case "http":
		var cfg httpjson.Config
		if err = decode(spec, &cfg); err == nil {
			cfg.Timeout = pickTimeout(spec.Timeout, cfg.Timeout)
			c, err = httpjson.New(spec.ID, cfg)
		}
	default:
		return nil, fmt.Errorf("connector %s: unsupported type %q", spec.ID, spec.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("connector %s: %w", spec.ID, err)
	}

	if field, _ := spec.Settings["classify_field"].(string); field != "" && classifier.Len() > 0 {
		c = &classified{Connector: c, classifier: classifier, field: field}
	}
	return c, nil
}

// Build registers every spec, closing what was opened if any fails.
func Build(specs []Spec, classifier *classify.Classifier) (*Registry, error) {
	reg := NewRegistry()
	for _, s := range specs {
		c, err := New(s, classifier)
		if err != nil {
			reg.Close()
			return nil, err
		}
		if err := reg.Register(c); err != nil {
			c.Close()
			reg.Close()
			return nil, err
		}
	}
	return reg, nil
}

func decode(spec Spec, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(spec.Settings); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	return nil
}

func pickTimeout(outer, inner time.Duration) time.Duration {
	if outer > 0 {
		return outer
	}
	return inner
}
