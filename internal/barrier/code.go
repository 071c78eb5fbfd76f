package barrier

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatCode renders the human code of the seq-th barrier created in year,
// e.g. FormatCode(2022, 14292) == "B-22-B10". seq starts at 1.
func FormatCode(year int, seq int64) string {
	suffix := strings.ToUpper(strconv.FormatInt(seq, 36))
	for len(suffix) < 3 {
		suffix = "0" + suffix
	}
	return fmt.Sprintf("B-%02d-%s", year%100, suffix)
}

// ParseCode validates a barrier code and returns its parts.
func ParseCode(code string) (year int, seq int64, err error) {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(code)), "-")
	if len(parts) != 3 || parts[0] != "B" || len(parts[1]) != 2 || len(parts[2]) < 3 {
		return 0, 0, fmt.Errorf("invalid barrier code %q", code)
	}
	year, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid barrier code %q: %w", code, err)
	}
	seq, err = strconv.ParseInt(strings.ToLower(parts[2]), 36, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid barrier code %q: %w", code, err)
	}
	return year, seq, nil
}
