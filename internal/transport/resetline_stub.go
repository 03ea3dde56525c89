//go:build !linux || (!arm && !arm64)

package transport

import (
	"fmt"
	"time"
)

func PulseReset(pin int, hold time.Duration) error {
	return fmt.Errorf("transport: gpio reset not supported on this platform")
}
