package aid

import (
	"encoding/binary"
	"time"
)

const (
	mgaIniTimeUTC = 0x10 // MGA-INI message type tag for TIME_UTC

	// leapSecsUnknown tells the receiver the current number of leap
	// seconds is not known (int8 -128).
	leapSecsUnknown = 0x80

	// timeAccuracySeconds is the fixed seconds part of the accuracy
	// estimate reported with the time assist. Wall clocks on the boxes
	// this runs on are NTP-ish at best.
	timeAccuracySeconds = 10
)

// EncodeTimeAssist builds the 24-byte MGA-INI-TIME_UTC payload for the given
// UTC instant. It returns ok=false without building anything when t's year
// is below minYear, which guards against feeding an unset system clock to
// the receiver; that case is "not sent", not an error.
//
// Layout (all unlisted bytes zero): type @0, version @1, ref @2,
// leapSecs @3, year LE16 @4, month (1-based) @6, day @7, hour @8,
// minute @9, second @10, accuracy seconds LE16 @16.
func EncodeTimeAssist(t time.Time, minYear int) (payload []byte, ok bool) {
	t = t.UTC()
	if t.Year() < minYear {
		return nil, false
	}

	p := make([]byte, 24)
	p[0] = mgaIniTimeUTC
	p[3] = leapSecsUnknown
	binary.LittleEndian.PutUint16(p[4:6], uint16(t.Year()))
	p[6] = byte(t.Month())
	p[7] = byte(t.Day())
	p[8] = byte(t.Hour())
	p[9] = byte(t.Minute())
	p[10] = byte(t.Second())
	binary.LittleEndian.PutUint16(p[16:18], timeAccuracySeconds)
	return p, true
}
