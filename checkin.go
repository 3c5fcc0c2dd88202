package faultline

import (
	"time"

	"github.com/faultline-dev/faultline-go/internal/wire"
)

// CheckInStatus is the state reported by a monitor heartbeat.
type CheckInStatus string

const (
	CheckInStatusInProgress CheckInStatus = "in_progress"
	CheckInStatusOK         CheckInStatus = "ok"
	CheckInStatusError      CheckInStatus = "error"
)

// MonitorScheduleType selects how a monitor schedule is expressed.
type MonitorScheduleType string

const (
	MonitorScheduleCrontab  MonitorScheduleType = "crontab"
	MonitorScheduleInterval MonitorScheduleType = "interval"
)

// MonitorScheduleUnit is the unit of an interval schedule.
type MonitorScheduleUnit string

const (
	MonitorScheduleUnitMinute MonitorScheduleUnit = "minute"
	MonitorScheduleUnitHour   MonitorScheduleUnit = "hour"
	MonitorScheduleUnitDay    MonitorScheduleUnit = "day"
	MonitorScheduleUnitWeek   MonitorScheduleUnit = "week"
	MonitorScheduleUnitMonth  MonitorScheduleUnit = "month"
	MonitorScheduleUnitYear   MonitorScheduleUnit = "year"
)

// MonitorSchedule describes when a monitor is expected to check in. Crontab
// schedules carry a cron expression; interval schedules carry a value and
// unit.
type MonitorSchedule struct {
	Type  MonitorScheduleType
	Value string
	Every int64
	Unit  MonitorScheduleUnit
}

// CrontabSchedule builds a crontab monitor schedule.
func CrontabSchedule(expr string) *MonitorSchedule {
	return &MonitorSchedule{Type: MonitorScheduleCrontab, Value: expr}
}

// IntervalSchedule builds an interval monitor schedule.
func IntervalSchedule(every int64, unit MonitorScheduleUnit) *MonitorSchedule {
	return &MonitorSchedule{Type: MonitorScheduleInterval, Every: every, Unit: unit}
}

// MonitorConfig carries the monitor definition sent alongside a check-in so
// the collector can create or update the monitor on the fly.
type MonitorConfig struct {
	Schedule *MonitorSchedule
	// CheckInMargin is how long, in minutes, a check-in may be late before
	// the monitor counts as missed.
	CheckInMargin int64
	// MaxRuntime is how long, in minutes, a check-in may stay in progress
	// before the monitor counts as failed.
	MaxRuntime int64
	// Timezone the schedule is evaluated in, tz database name.
	Timezone string
}

// A CheckIn is one monitor heartbeat. Two check-ins with the same id form
// the open/close pair of a single monitored run.
type CheckIn struct {
	ID          EventID
	MonitorSlug string
	Status      CheckInStatus
	// Duration of the completed run. Zero means not yet known and is
	// omitted. Serialized as seconds.
	Duration    time.Duration
	Release     string
	Environment string
	// TraceID links the check-in to an ongoing trace.
	TraceID       TraceID
	MonitorConfig *MonitorConfig
}

// NewCheckIn opens a monitor heartbeat in the in-progress state.
func NewCheckIn(monitorSlug string) *CheckIn {
	return &CheckIn{
		ID:          NewEventID(),
		MonitorSlug: monitorSlug,
		Status:      CheckInStatusInProgress,
	}
}

// Close derives the closing heartbeat with the given outcome; the pair is
// matched by id and the duration is measured wall-clock time.
func (c *CheckIn) Close(status CheckInStatus, duration time.Duration) *CheckIn {
	closed := *c
	closed.Status = status
	closed.Duration = duration
	return &closed
}

func (c *CheckIn) WriteTo(w *wire.Writer) {
	w.BeginObject()
	w.StringAlways("check_in_id", c.ID.String())
	w.StringAlways("monitor_slug", c.MonitorSlug)
	w.StringAlways("status", string(c.Status))
	if c.Duration > 0 {
		w.FloatAlways("duration", c.Duration.Seconds())
	}
	w.String("release", c.Release)
	w.String("environment", c.Environment)
	if !c.TraceID.IsZero() {
		w.Key("contexts")
		w.BeginObject()
		w.Key("trace")
		w.BeginObject()
		w.StringAlways("trace_id", c.TraceID.String())
		w.EndObject()
		w.EndObject()
	}
	if c.MonitorConfig != nil {
		w.Key("monitor_config")
		c.MonitorConfig.writeTo(w)
	}
	w.EndObject()
}

func (mc *MonitorConfig) writeTo(w *wire.Writer) {
	w.BeginObject()
	if mc.Schedule != nil {
		w.Key("schedule")
		w.BeginObject()
		w.StringAlways("type", string(mc.Schedule.Type))
		switch mc.Schedule.Type {
		case MonitorScheduleInterval:
			w.IntAlways("value", mc.Schedule.Every)
			w.StringAlways("unit", string(mc.Schedule.Unit))
		default:
			w.StringAlways("value", mc.Schedule.Value)
		}
		w.EndObject()
	}
	w.Int("checkin_margin", mc.CheckInMargin)
	w.Int("max_runtime", mc.MaxRuntime)
	w.String("timezone", mc.Timezone)
	w.EndObject()
}

// MarshalJSON implements json.Marshaler.
func (c *CheckIn) MarshalJSON() ([]byte, error) {
	return serialize(c.WriteTo)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *CheckIn) UnmarshalJSON(data []byte) error {
	n, err := wire.Parse(data)
	if err != nil {
		return err
	}
	parsed, err := checkInFromNode(n)
	if err != nil {
		return err
	}
	*c = *parsed
	return nil
}

// CheckInFromJSON parses a serialized check-in.
func CheckInFromJSON(data []byte) (*CheckIn, error) {
	n, err := wire.Parse(data)
	if err != nil {
		return nil, err
	}
	return checkInFromNode(n)
}

func checkInFromNode(n wire.Node) (*CheckIn, error) {
	c := &CheckIn{}
	raw, err := n.RequiredStr("check_in_id")
	if err != nil {
		return nil, err
	}
	if c.ID, err = ParseEventID(raw); err != nil {
		return nil, &ParseError{Field: "check_in_id", Reason: err.Error()}
	}
	if c.MonitorSlug, err = n.RequiredStr("monitor_slug"); err != nil {
		return nil, err
	}
	if v, ok := n.Get("status").Str(); ok {
		c.Status = CheckInStatus(v)
	}
	if v, ok := n.Get("duration").Float64(); ok {
		c.Duration = time.Duration(v * float64(time.Second))
	}
	c.Release, _ = n.Get("release").Str()
	c.Environment, _ = n.Get("environment").Str()
	if v, ok := n.Get("contexts").Get("trace").Get("trace_id").Str(); ok {
		c.TraceID, _ = ParseTraceID(v)
	}
	if mc := n.Get("monitor_config"); mc.Exists() && !mc.IsNull() {
		c.MonitorConfig = monitorConfigFromNode(mc)
	}
	return c, nil
}

func monitorConfigFromNode(n wire.Node) *MonitorConfig {
	mc := &MonitorConfig{}
	if sched := n.Get("schedule"); sched.Exists() && !sched.IsNull() {
		s := &MonitorSchedule{}
		if v, ok := sched.Get("type").Str(); ok {
			s.Type = MonitorScheduleType(v)
		}
		if s.Type == MonitorScheduleInterval {
			s.Every, _ = sched.Get("value").Int64()
			if v, ok := sched.Get("unit").Str(); ok {
				s.Unit = MonitorScheduleUnit(v)
			}
		} else {
			s.Value, _ = sched.Get("value").Str()
		}
		mc.Schedule = s
	}
	mc.CheckInMargin, _ = n.Get("checkin_margin").Int64()
	mc.MaxRuntime, _ = n.Get("max_runtime").Int64()
	mc.Timezone, _ = n.Get("timezone").Str()
	return mc
}
