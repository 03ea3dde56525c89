package aid

import (
	"errors"
	"fmt"
	"log"

	"agpsd/internal/ubx"
)

// mgaAnoBodyDateOff is where MGA-ANO stores (year-2000, month, day),
// relative to the frame body.
const mgaAnoBodyDateOff = 4

// BucketByDay partitions an AssistNow Offline response body into per-day
// buckets of concatenated MGA-ANO frames, keyed by "YYYYMMDD". Frames of any
// other class are counted and dropped. A non-2xx status yields an empty map.
// Truncated trailing input is logged and the frames split so far are used.
func BucketByDay(statusCode int, body []byte) map[string][]byte {
	buckets := make(map[string][]byte)
	if statusCode < 200 || statusCode >= 300 {
		return buckets
	}

	frames, err := ubx.Split(body)
	if err != nil && !errors.Is(err, ubx.ErrFraming) {
		log.Printf("aid: offline split failed: %v", err)
		return buckets
	}
	if err != nil {
		log.Printf("aid: offline response truncated, keeping %d frames: %v", len(frames), err)
	}

	dropped := 0
	for _, frame := range frames {
		if ubx.Class(frame) != ubx.ClassMgaAno {
			dropped++
			continue
		}
		body := ubx.Payload(frame)
		if len(body) < mgaAnoBodyDateOff+3 {
			log.Printf("aid: MGA-ANO body too short (%d bytes), dropping", len(body))
			continue
		}
		day := fmt.Sprintf("%04d%02d%02d",
			2000+int(body[mgaAnoBodyDateOff]),
			body[mgaAnoBodyDateOff+1],
			body[mgaAnoBodyDateOff+2])
		buckets[day] = append(buckets[day], frame...)
	}
	if dropped > 0 {
		log.Printf("aid: dropped %d non-almanac frames from offline response", dropped)
	}
	return buckets
}
