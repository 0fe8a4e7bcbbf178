package domain

// SegmentRule maps a predicate over the score triple to a segment.
// Expression is a CEL boolean expression over the int variables r, f and m.
type SegmentRule struct {
	Name        string  `json:"name" yaml:"name" mapstructure:"name"`
	Label       Segment `json:"label" yaml:"label" mapstructure:"label"`
	Expression  string  `json:"expression" yaml:"expression" mapstructure:"expression"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
}

// CatchAllExpression always matches; a rule set must end with a rule that
// behaves like it.
const CatchAllExpression = "true"
