package rbac

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/platinummonkey/assessly/pkg/observability"
)

const (
	businessHoursStart = 9
	businessHoursEnd   = 17
)

// ConditionEvaluator decides whether conditions hold for a request
type ConditionEvaluator struct {
	clock    clockwork.Clock
	location *time.Location
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewConditionEvaluator creates an evaluator. location may be nil to use the clock's own zone.
func NewConditionEvaluator(clock clockwork.Clock, location *time.Location, logger *observability.Logger, metrics *observability.Metrics) *ConditionEvaluator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &ConditionEvaluator{
		clock:    clock,
		location: location,
		logger:   logger,
		metrics:  metrics,
	}
}

func (e *ConditionEvaluator) now() time.Time {
	now := e.clock.Now()
	if e.location != nil {
		now = now.In(e.location)
	}
	return now
}

// EvaluateAll reports whether every condition holds. An empty list holds.
func (e *ConditionEvaluator) EvaluateAll(conditions []Condition, ectx *EvaluationContext) bool {
	for _, c := range conditions {
		if !e.Evaluate(c, ectx) {
			return false
		}
	}
	return true
}

// Evaluate reports whether a single condition holds.
// Rules it does not recognize are let through and logged.
func (e *ConditionEvaluator) Evaluate(c Condition, ectx *EvaluationContext) bool {
	if ectx == nil {
		ectx = &EvaluationContext{}
	}

	switch c.Type {
	case ConditionTypeTime:
		switch c.Rule {
		case RuleBusinessHours:
			hour := e.now().Hour()
			return hour >= businessHoursStart && hour < businessHoursEnd
		case RuleSpecificTime:
			window, ok := windowFromValue(c.Value)
			if !ok {
				e.logger.WithField("value", fmt.Sprint(c.Value)).Warn("specific_time condition without a usable window")
				return false
			}
			now := e.now()
			return !now.Before(window.Start) && !now.After(window.End)
		}
	case ConditionTypeContext:
		switch c.Rule {
		case RuleRequireApproval:
			return ectx.Approved
		case RuleResourceOwner:
			return ectx.OwnerID == ectx.UserID
		}
	case ConditionTypeResource:
		switch c.Rule {
		case RuleSameOrganization:
			return ectx.OrganizationID == valueString(c.Value)
		case RuleSameDepartment:
			return ectx.DepartmentID == valueString(c.Value)
		}
	}

	e.metrics.RecordUnknownCondition(string(c.Type), string(c.Rule))
	e.logger.WithFields(map[string]interface{}{
		"condition_type": c.Type,
		"condition_rule": c.Rule,
	}).Warn("unrecognized condition rule treated as satisfied")
	return true
}

func valueString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// windowFromValue accepts a TimeWindow or its decoded JSON/YAML map form
func windowFromValue(v interface{}) (TimeWindow, bool) {
	switch val := v.(type) {
	case TimeWindow:
		return val, true
	case *TimeWindow:
		if val == nil {
			return TimeWindow{}, false
		}
		return *val, true
	case map[string]interface{}:
		start, ok := timeFromValue(val["start"])
		if !ok {
			return TimeWindow{}, false
		}
		end, ok := timeFromValue(val["end"])
		if !ok {
			return TimeWindow{}, false
		}
		return TimeWindow{Start: start, End: end}, true
	}
	return TimeWindow{}, false
}

func timeFromValue(v interface{}) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case string:
		t, err := time.Parse(time.RFC3339, val)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}
