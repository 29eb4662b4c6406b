package services

import (
	"strconv"
	"strings"
)

// parseISODuration converts an ISO 8601 duration such as "PT3M25S" to whole seconds.
//
// Only the day and time designators appear in Tidal payloads; anything unparseable yields 0.
func parseISODuration(s string) int {
	s, ok := strings.CutPrefix(strings.ToUpper(s), "P")
	if !ok || s == "" {
		return 0
	}

	var total float64
	inTime := false
	num := ""
	for _, r := range s {
		switch {
		case r == 'T':
			inTime = true
		case (r >= '0' && r <= '9') || r == '.':
			num += string(r)
		default:
			n, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0
			}
			num = ""
			switch {
			case r == 'D' && !inTime:
				total += n * 86400
			case r == 'H' && inTime:
				total += n * 3600
			case r == 'M' && inTime:
				total += n * 60
			case r == 'S' && inTime:
				total += n
			default:
				return 0
			}
		}
	}
	if num != "" {
		return 0
	}
	return int(total)
}
