package device

import (
	"fmt"
	"strings"
)

// HeaterRange is the power range of a heater output.
type HeaterRange int

const (
	HeaterOff HeaterRange = iota
	HeaterLow
	HeaterMedium
	HeaterHigh
)

var heaterRangeNames = map[HeaterRange]string{
	HeaterOff:    "off",
	HeaterLow:    "low",
	HeaterMedium: "medium",
	HeaterHigh:   "high",
}

func (r HeaterRange) String() string {
	if n, ok := heaterRangeNames[r]; ok {
		return n
	}
	return fmt.Sprintf("HeaterRange(%d)", int(r))
}

// ParseHeaterRange parses a case-insensitive range name.
func ParseHeaterRange(s string) (HeaterRange, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for r, n := range heaterRangeNames {
		if n == key {
			return r, nil
		}
	}
	return HeaterOff, fmt.Errorf("unknown heater range %q", s)
}
