package checkpoints

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseTime implements spec §4.4's time parser: tokens split on ':', a
// two-part token is MM:SS, a three-part token is HH:MM:SS; any non-numeric
// token invalidates the parse.
func ParseTime(raw string) (seconds float64, ok bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}
	parts := strings.Split(s, ":")
	nums := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return 0, false
		}
		nums[i] = v
	}
	switch len(nums) {
	case 2:
		return nums[0]*60 + nums[1], true
	case 3:
		return nums[0]*3600 + nums[1]*60 + nums[2], true
	default:
		return 0, false
	}
}

// FormatSeconds renders a seconds value back into HH:MM:SS form, used when
// emitting synthetic cumulative times for comparison/testing.
func FormatSeconds(total float64) string {
	if total < 0 {
		total = 0
	}
	h := int(total) / 3600
	m := (int(total) % 3600) / 60
	s := int(total) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
