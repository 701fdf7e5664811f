package safety

import (
	"time"
)

// DetectionFilter is a typed predicate set over stored detections. Nil/zero
// fields widen the query rather than constraining it. The trajectory store
// translates the filter into its own query language; the KPI engine only ever
// sees the resulting rows.
type DetectionFilter struct {
	ObjectClasses []ObjectClass
	FromTime      *time.Time // inclusive
	ToTime        *time.Time // inclusive
	Zone          string
	Vest          *bool
	MinSpeed      *float64
	MaxSpeed      *float64
	MinX, MaxX    *float64
	MinY, MaxY    *float64
}
