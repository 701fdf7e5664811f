package kpi

import (
	"safety-kpi-service/internal/domain/safety"
)

// Severity boundaries in meters. These are fixed site constants, deliberately
// independent of the caller-supplied distance threshold: a query with a
// threshold under 1.0 can only ever yield HIGH severity matches.
const (
	highSeverityBelow   = 1.0
	mediumSeverityBelow = 1.5
)

// ClassifySeverity maps a close-call distance to its severity tier.
func ClassifySeverity(distance float64) safety.Severity {
	switch {
	case distance < highSeverityBelow:
		return safety.SeverityHigh
	case distance < mediumSeverityBelow:
		return safety.SeverityMedium
	default:
		return safety.SeverityLow
	}
}
