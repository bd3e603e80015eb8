package utils

// Health severity levels, ordered from least to most severe.
const (
	HealthOK       = "OK"
	HealthWarning  = "WARNING"
	HealthCritical = "CRITICAL"
)

// HighestWarningLevel returns the most severe level in the list. Unknown
// or empty entries count as OK.
func HighestWarningLevel(levels []string) string {
	highest := HealthOK
	for _, level := range levels {
		switch level {
		case HealthCritical:
			return HealthCritical
		case HealthWarning:
			highest = HealthWarning
		}
	}
	return highest
}
