//go:build linux && (arm || arm64)

package transport

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// PulseReset drives the receiver's RESET_N line low for hold, then releases
// it. GNSS hats commonly wire RESET_N to a header GPIO; pulsing it before
// bring-up gets the receiver out of whatever state a crashed previous run
// left it in.
func PulseReset(pin int, hold time.Duration) error {
	if pin <= 0 {
		return fmt.Errorf("transport: invalid gpio pin %d", pin)
	}
	if hold <= 0 {
		hold = 100 * time.Millisecond
	}

	// On Pi, line names are commonly "GPIO17", etc.
	lineName := fmt.Sprintf("GPIO%d", pin)

	chipCandidates := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "gpiochip") {
			chipCandidates = append(chipCandidates, filepath.Join("/dev", name))
		}
	}

	for _, chipPath := range chipCandidates {
		chip, err := gpiocdev.NewChip(chipPath)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(lineName)
		if err != nil {
			_ = chip.Close()
			continue
		}
		// RESET_N is active low; request the line already asserted.
		line, err := chip.RequestLine(offset, gpiocdev.AsOutput(0), gpiocdev.WithConsumer("agpsd-reset"))
		if err != nil {
			_ = chip.Close()
			continue
		}
		time.Sleep(hold)
		err = line.SetValue(1)
		_ = line.Close()
		_ = chip.Close()
		if err != nil {
			return fmt.Errorf("transport: release reset line: %w", err)
		}
		return nil
	}

	return fmt.Errorf("transport: gpio line %q not found (or busy)", lineName)
}
