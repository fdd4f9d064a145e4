package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MaherFSF/Yemenactr-sub010/internal/store"
)

// cronParser supports standard 5-field cron expressions and descriptors like @daily.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule parses a cron expression and returns a Schedule.
func ParseSchedule(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// NextDue computes when a job is next due after a run that finished at
// completed. A cron schedule takes precedence over the interval.
func NextDue(job *store.Job, completed time.Time) (time.Time, error) {
	if job.Schedule != "" {
		sched, err := ParseSchedule(job.Schedule)
		if err != nil {
			return time.Time{}, fmt.Errorf("job %s: parse schedule %q: %w", job.ID, job.Schedule, err)
		}
		return sched.Next(completed), nil
	}
	if job.IntervalSeconds <= 0 {
		return time.Time{}, fmt.Errorf("job %s: interval must be positive", job.ID)
	}
	return completed.Add(time.Duration(job.IntervalSeconds) * time.Second), nil
}
