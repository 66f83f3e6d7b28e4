package format

import "fmt"

// DocumentLabel formats a human-readable document number from series code,
// fiscal year, and sequence number, e.g. A2025-001.
//
// This function is PURE:
// - No side effects
// - No DB access
// - Fully deterministic
func DocumentLabel(seriesCode string, fiscalYear int, number int64) (string, error) {
	if seriesCode == "" {
		return "", fmt.Errorf("series code is empty")
	}
	if fiscalYear <= 0 {
		return "", fmt.Errorf("invalid fiscal year: %d", fiscalYear)
	}
	if number <= 0 {
		return "", fmt.Errorf("invalid sequence number: %d", number)
	}

	return fmt.Sprintf("%s%d-%03d", seriesCode, fiscalYear, number), nil
}
