package conn

import "time"

// timestampAbsent is the reserved 16-bit sentinel meaning "no timestamp
// present" (§3.4, §6.2): a held saved_timestamp that has not been refreshed,
// or an echo field when none is held.
const timestampAbsent uint16 = 0xFFFF

// timestampSaveWindow bounds how long a saved peer timestamp may be echoed
// back before it is considered stale (§4.2: "a recent peer timestamp is
// still held (within 1 s)").
const timestampSaveWindow = time.Second

// echoStaleWindow bounds how old an echoed timestamp may be before the RTT
// sample it implies is discarded as noise (§4.2: "if R < 5000 ms").
const echoStaleWindow = 5000.0 // ms

// timestamp16 returns the low 16 bits of t's millisecond clock, remapping
// the reserved sentinel 0xFFFF to 0xFFFE so a real timestamp never collides
// with the "absent" marker (§4.2).
func timestamp16(t time.Time) uint16 {
	v := uint16(uint64(t.UnixMilli()))
	if v == timestampAbsent {
		return timestampAbsent - 1
	}
	return v
}

// timestampDiff computes a - b as a signed difference over the 16-bit
// wraparound clock, matching the source's timestamp_diff helper.
func timestampDiff(a, b uint16) int32 {
	return int32(int16(a - b))
}
