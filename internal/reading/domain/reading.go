package reading

import (
	"fmt"
	"time"
)

// Reading is one canonical voltage observation for a device at a point in time.
//
// Timestamp and RecordedAt are naive instants: wall-clock values in a fixed
// civil offset, stored without the offset. Readers re-apply the same offset at
// the presentation boundary (see FormatNaive); it never participates in storage
// or bucket arithmetic.
type Reading struct {
	DeviceID     string
	VoltageVolts float64
	Timestamp    time.Time
	RecordedAt   time.Time
}

// StatusField is one (code, value) pair as reported by the device cloud API.
// Codes are vendor-defined and vary per firmware. A nil Value means the device
// reported the field without a usable number.
type StatusField struct {
	Code  string
	Value *float64
}

// voltageCodes maps recognized status codes to the divisor that converts the
// raw integer into volts. Synonyms differ across firmware revisions; new ones
// are added here, not branched on.
var voltageCodes = map[string]float64{
	"voltage":     10.0,
	"cur_voltage": 10.0,
}

// Normalize scans fields in order for the first recognized voltage code with a
// usable value and converts it into a Reading. The returned bool is false when
// no usable voltage was reported.
//
// A nil or zero raw value counts as "no data", so a legitimate 0.0V reading is
// indistinguishable from absence. That matches the vendor encoding as observed;
// resolving it would need a firmware-level quality flag we do not have.
func Normalize(deviceID string, fields []StatusField) (Reading, bool) {
	if deviceID == "" {
		return Reading{}, false
	}
	for _, field := range fields {
		divisor, ok := voltageCodes[field.Code]
		if !ok {
			continue
		}
		if field.Value == nil || *field.Value == 0 {
			// falsy report, try the next synonym
			continue
		}
		return Reading{
			DeviceID:     deviceID,
			VoltageVolts: *field.Value / divisor,
		}, true
	}
	return Reading{}, false
}

// Location returns the fixed civil offset location for naive timestamps.
func Location(offsetHours int) *time.Location {
	return time.FixedZone(fmt.Sprintf("UTC%+d", offsetHours), offsetHours*3600)
}

// NaiveNow returns the current wall-clock time in loc, re-labeled as UTC so the
// database driver stores the bare wall-clock value.
func NaiveNow(loc *time.Location) time.Time {
	return ToNaive(time.Now(), loc)
}

// ToNaive converts t to its wall-clock representation in loc, labeled UTC.
func ToNaive(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(),
		local.Hour(), local.Minute(), local.Second(), local.Nanosecond(), time.UTC)
}

// FormatNaive renders a stored naive timestamp with the civil offset appended,
// e.g. "2026-08-29T14:05:00-03:00". This is the only place the offset leaks out.
func FormatNaive(t time.Time, offsetHours int) string {
	return t.Format("2006-01-02T15:04:05") + offsetSuffix(offsetHours)
}

func offsetSuffix(offsetHours int) string {
	return fmt.Sprintf("%+03d:00", offsetHours)
}
