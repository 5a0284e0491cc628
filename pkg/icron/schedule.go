// Package icron answers schedule questions about standard cron
// expressions: when a schedule last fired and when it fires next.
package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// maxLookback bounds the search for the previous trigger. Expressions
// that fire less than once a year report a zero Last.
const maxLookback = 366 * 24 * time.Hour

type TriggerInfo struct {
	Next       time.Time
	Last       time.Time
	Expression string

	TimeSinceLast time.Duration
	TimeUntilNext time.Duration
}

// GetTriggerInfo evaluates a five-field cron expression (descriptors like
// @hourly included) around refTime.
func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	info := &TriggerInfo{
		Expression: cronExpr,
		Next:       schedule.Next(refTime),
		Last:       lastTrigger(schedule, refTime),
	}

	if !info.Last.IsZero() {
		info.TimeSinceLast = refTime.Sub(info.Last)
	}
	info.TimeUntilNext = info.Next.Sub(refTime)

	return info, nil
}

// lastTrigger finds the most recent trigger at or before refTime by
// doubling the lookback window until it contains one, then stepping
// forward to the final trigger inside it.
func lastTrigger(schedule cron.Schedule, refTime time.Time) time.Time {
	for lookback := time.Minute; lookback <= maxLookback; lookback *= 2 {
		candidate := schedule.Next(refTime.Add(-lookback))
		if candidate.IsZero() || candidate.After(refTime) {
			continue
		}
		for {
			next := schedule.Next(candidate)
			if next.IsZero() || next.After(refTime) {
				return candidate
			}
			candidate = next
		}
	}
	return time.Time{}
}
