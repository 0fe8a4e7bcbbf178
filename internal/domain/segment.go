package domain

// Segment is a behavioural cohort label.
type Segment string

// The fixed segment enumeration. Rule sets may only emit these labels.
const (
	SegmentChampions         Segment = "Champions"
	SegmentLoyal             Segment = "Loyal"
	SegmentPotentialLoyalist Segment = "Potential Loyalist"
	SegmentNewCustomers      Segment = "New Customers"
	SegmentPromising         Segment = "Promising"
	SegmentNeedAttention     Segment = "Need Attention"
	SegmentAtRisk            Segment = "At Risk"
	SegmentCannotLose        Segment = "Cannot Lose Them"
	SegmentHibernating       Segment = "Hibernating"
	SegmentLost              Segment = "Lost"
	SegmentOthers            Segment = "Others"
)

var segments = []Segment{
	SegmentChampions,
	SegmentLoyal,
	SegmentPotentialLoyalist,
	SegmentNewCustomers,
	SegmentPromising,
	SegmentNeedAttention,
	SegmentAtRisk,
	SegmentCannotLose,
	SegmentHibernating,
	SegmentLost,
	SegmentOthers,
}

// Segments returns the enumeration in display order.
func Segments() []Segment {
	out := make([]Segment, len(segments))
	copy(out, segments)
	return out
}

// Valid reports whether s belongs to the enumeration.
func (s Segment) Valid() bool {
	for _, known := range segments {
		if s == known {
			return true
		}
	}
	return false
}
