// Package schedule drives the recurring jobs of the pipeline: a pure cron
// helper and a Scheduler that keeps one pending job per rule occurrence.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts the standard 5-field cron format used by the fixed rules.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextOccurrence returns the first occurrence of the 5-field cron pattern
// strictly after the given time. Pure: no wall-clock dependence, so rule
// arithmetic is testable with any reference time.
func NextOccurrence(pattern string, after time.Time) (time.Time, error) {
	sched, err := parser.Parse(pattern)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron pattern %q: %w", pattern, err)
	}
	return sched.Next(after), nil
}
