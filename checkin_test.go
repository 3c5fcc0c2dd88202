package faultline

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestNewCheckIn(t *testing.T) {
	open := NewCheckIn("nightly-backup")
	if open.ID.IsZero() {
		t.Error("check-in must carry a generated id")
	}
	if open.Status != CheckInStatusInProgress {
		t.Errorf("Status = %q", open.Status)
	}

	closed := open.Close(CheckInStatusOK, 42*time.Second)
	if closed.ID != open.ID {
		t.Error("closing heartbeat must keep the id")
	}
	if closed.Status != CheckInStatusOK || closed.Duration != 42*time.Second {
		t.Errorf("closed = %q %v", closed.Status, closed.Duration)
	}
	if open.Status != CheckInStatusInProgress {
		t.Error("Close must not mutate the opening heartbeat")
	}
}

func TestCheckInSerialize(t *testing.T) {
	checkIn := &CheckIn{
		ID:          mustEventID(t, "9c8d5a6e3f2b49b0a1c3e5d7f9081726"),
		MonitorSlug: "nightly-backup",
		Status:      CheckInStatusOK,
		Duration:    90 * time.Second,
		Release:     "v1.0.0",
		TraceID:     mustTraceID(t, "d6c4f115650941a9a8a933d62fd7fe82"),
		MonitorConfig: &MonitorConfig{
			Schedule:      CrontabSchedule("0 3 * * *"),
			CheckInMargin: 5,
			MaxRuntime:    30,
			Timezone:      "Europe/Vienna",
		},
	}
	b, err := json.Marshal(checkIn)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"check_in_id":"9c8d5a6e3f2b49b0a1c3e5d7f9081726",` +
		`"monitor_slug":"nightly-backup","status":"ok","duration":90,` +
		`"release":"v1.0.0",` +
		`"contexts":{"trace":{"trace_id":"d6c4f115650941a9a8a933d62fd7fe82"}},` +
		`"monitor_config":{"schedule":{"type":"crontab","value":"0 3 * * *"},` +
		`"checkin_margin":5,"max_runtime":30,"timezone":"Europe/Vienna"}}`
	if diff := cmp.Diff(want, string(b)); diff != "" {
		t.Errorf("check-in serialization mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckInRoundTripInterval(t *testing.T) {
	checkIn := &CheckIn{
		ID:          mustEventID(t, "9c8d5a6e3f2b49b0a1c3e5d7f9081726"),
		MonitorSlug: "heartbeat",
		Status:      CheckInStatusError,
		MonitorConfig: &MonitorConfig{
			Schedule: IntervalSchedule(2, MonitorScheduleUnitHour),
		},
	}
	b, err := json.Marshal(checkIn)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := CheckInFromJSON(b)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.MonitorSlug != "heartbeat" || parsed.Status != CheckInStatusError {
		t.Errorf("parsed = %#v", parsed)
	}
	schedule := parsed.MonitorConfig.Schedule
	if schedule.Type != MonitorScheduleInterval || schedule.Every != 2 || schedule.Unit != MonitorScheduleUnitHour {
		t.Errorf("schedule = %#v", schedule)
	}
	b2, err := json.Marshal(parsed)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(string(b), string(b2)); diff != "" {
		t.Errorf("round trip not stable (-first +second):\n%s", diff)
	}
}

func TestCheckInParseRequiredFields(t *testing.T) {
	if _, err := CheckInFromJSON([]byte(`{"monitor_slug":"x"}`)); err == nil {
		t.Error("missing check_in_id must fail")
	}
	if _, err := CheckInFromJSON([]byte(`{"check_in_id":"9c8d5a6e3f2b49b0a1c3e5d7f9081726"}`)); err == nil {
		t.Error("missing monitor_slug must fail")
	}
}
