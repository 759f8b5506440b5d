package protocol

import "time"

const secondsPerDay = 24 * 60 * 60

// Day identifies a protocol day by the Unix timestamp of its UTC midnight.
// All internal time arithmetic is done in Unix seconds; time.Time appears
// only at the external interfaces.
type Day int64

// DayOf returns the day containing t.
func DayOf(t time.Time) Day {
	ts := t.Unix()
	if ts < 0 {
		ts -= secondsPerDay - 1
	}
	return Day((ts / secondsPerDay) * secondsPerDay)
}

// Start returns the first instant of the day.
func (d Day) Start() time.Time {
	return time.Unix(int64(d), 0).UTC()
}

// Unix returns the day-start Unix timestamp.
func (d Day) Unix() int64 {
	return int64(d)
}

// Add returns the day n days later (or earlier for negative n).
func (d Day) Add(n int) Day {
	return d + Day(n*secondsPerDay)
}

// Sub returns the number of whole days from other to d.
func (d Day) Sub(other Day) int {
	return int((d - other) / secondsPerDay)
}

// epochWithinDay maps t to its day-relative epoch index in [0, epochsPerDay).
// The caller guarantees t falls within day d.
func epochWithinDay(d Day, t time.Time, epochDuration time.Duration) int {
	return int((t.Unix() - int64(d)) / int64(epochDuration/time.Second))
}

// absoluteEpoch numbers epochs from the Unix epoch, the counter used to bind
// hashed observations to their time window in the unlinkable design.
func absoluteEpoch(t time.Time, epochDuration time.Duration) uint32 {
	return uint32(t.Unix() / int64(epochDuration/time.Second))
}

// absoluteEpochAt is absoluteEpoch for a day-relative epoch index.
func absoluteEpochAt(d Day, epoch int, epochDuration time.Duration) uint32 {
	return uint32((int64(d) + int64(epoch)*int64(epochDuration/time.Second)) /
		int64(epochDuration/time.Second))
}
