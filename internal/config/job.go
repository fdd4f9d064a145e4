package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MaherFSF/Yemenactr-sub010/internal/period"
	"github.com/MaherFSF/Yemenactr-sub010/internal/store"
)

// Job is the definition of a recurring ingestion job parsed from a YAML file.
type Job struct {
	ID              string `yaml:"id" json:"id"`
	Kind            string `yaml:"kind" json:"kind"`
	Connector       string `yaml:"connector" json:"connector"`
	Interval        string `yaml:"interval" json:"interval,omitempty"`
	Schedule        string `yaml:"schedule" json:"schedule,omitempty"`
	Granularity     string `yaml:"granularity" json:"granularity,omitempty"`
	LookbackPeriods int    `yaml:"lookback_periods" json:"lookback_periods,omitempty"`
	Validate        *bool  `yaml:"validate" json:"validate,omitempty"`
	Enabled         *bool  `yaml:"enabled" json:"enabled,omitempty"`
	FilePath        string `yaml:"-" json:"-"`
}

// IsEnabled returns whether the job starts enabled. Defaults to true if not set.
func (j *Job) IsEnabled() bool {
	if j.Enabled == nil {
		return true
	}
	return *j.Enabled
}

// ShouldValidate defaults to true.
func (j *Job) ShouldValidate() bool {
	if j.Validate == nil {
		return true
	}
	return *j.Validate
}

// ParseInterval parses Interval. Returns 0 if it is empty.
func (j *Job) ParseInterval() (time.Duration, error) {
	if j.Interval == "" {
		return 0, nil
	}
	return time.ParseDuration(j.Interval)
}

func applyJobDefaults(j *Job, path string) {
	if j.ID == "" && path != "" {
		j.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if j.Kind == "" {
		j.Kind = string(store.KindDailyRefresh)
	}
	if j.Kind == string(store.KindBackfill) && j.LookbackPeriods <= 0 {
		j.LookbackPeriods = 1
	}
}

// Check validates a job definition.
func (j *Job) Check() error {
	if strings.TrimSpace(j.ID) == "" {
		return errors.New("id is required")
	}
	switch store.JobKind(j.Kind) {
	case store.KindDailyRefresh, store.KindBackfill:
	default:
		return fmt.Errorf("job %s: unsupported kind %q", j.ID, j.Kind)
	}
	if strings.TrimSpace(j.Connector) == "" {
		return fmt.Errorf("job %s: connector is required", j.ID)
	}
	if _, err := period.Parse(j.Granularity); err != nil {
		return fmt.Errorf("job %s: %w", j.ID, err)
	}
	interval, err := j.ParseInterval()
	if err != nil {
		return fmt.Errorf("job %s: interval: %w", j.ID, err)
	}
	if j.Schedule == "" && interval < time.Second {
		return fmt.Errorf("job %s: interval or schedule is required", j.ID)
	}
	return nil
}

// ToStore converts the definition to the persisted form. Scheduling state
// is left zero so the store keeps whatever it already has.
func (j *Job) ToStore() (*store.Job, error) {
	if err := j.Check(); err != nil {
		return nil, err
	}
	interval, _ := j.ParseInterval()
	g, _ := period.Parse(j.Granularity)
	return &store.Job{
		ID:              j.ID,
		Kind:            store.JobKind(j.Kind),
		ConnectorID:     j.Connector,
		IntervalSeconds: int(interval / time.Second),
		Schedule:        j.Schedule,
		Granularity:     string(g),
		LookbackPeriods: j.LookbackPeriods,
		Validate:        j.ShouldValidate(),
		Enabled:         j.IsEnabled(),
	}, nil
}

// ParseJobYAML parses a single job YAML payload and applies defaults.
func ParseJobYAML(data []byte) (*Job, error) {
	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	applyJobDefaults(&job, "")
	return &job, nil
}

// LoadJobs reads all *.yaml and *.yml files from dir. A missing directory
// yields no jobs.
func LoadJobs(dir string) ([]*Job, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var jobs []*Job
	seen := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}

		var job Job
		if err := yaml.Unmarshal(data, &job); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		applyJobDefaults(&job, path)
		if err := job.Check(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if prev, ok := seen[job.ID]; ok {
			return nil, fmt.Errorf("job id %q defined in both %s and %s", job.ID, prev, path)
		}
		seen[job.ID] = path

		job.FilePath = path
		jobs = append(jobs, &job)
	}

	return jobs, nil
}
