// Package conditions provides a pure, side-effect-free evaluator for the
// boolean expression language used by workflow entry conditions and edge guards.
package conditions

// Op identifies an expression node in the closed expression tree.
type Op string

const (
	OpAnd     Op = "and"
	OpOr      Op = "or"
	OpNot     Op = "not"
	OpCompare Op = "compare"
	OpExists  Op = "exists"
	OpMatches Op = "matches"
	OpIn      Op = "in"
	OpCustom  Op = "custom"
)

// CompareOp is the comparison operator for OpCompare expressions.
type CompareOp string

const (
	CompareEq  CompareOp = "eq"
	CompareNe  CompareOp = "ne"
	CompareGt  CompareOp = "gt"
	CompareGte CompareOp = "gte"
	CompareLt  CompareOp = "lt"
	CompareLte CompareOp = "lte"
)

// RefKind identifies how a ValueRef resolves its value.
type RefKind string

const (
	RefLiteral RefKind = "literal"
	RefContext RefKind = "context"
	RefEnv     RefKind = "env"
	RefNode    RefKind = "node"
	RefSecret  RefKind = "secret"
)

// ValueRef is a union describing where a comparison operand comes from.
// Exactly one of Value/Path/Name is meaningful depending on Kind.
type ValueRef struct {
	Kind   RefKind `json:"kind"`
	Value  any     `json:"value,omitempty"`   // literal
	Path   string  `json:"path,omitempty"`    // context / node output dotted path
	NodeID string  `json:"node_id,omitempty"` // node output lookup
	Name   string  `json:"name,omitempty"`    // env / secret lookup
}

// Expression is one node of the condition tree. Which fields are set depends
// on Op; Validate rejects trees with missing or conflicting fields.
type Expression struct {
	Op Op `json:"op"`

	// and / or / not
	Args []*Expression `json:"args,omitempty"`

	// compare
	Left    *ValueRef `json:"left,omitempty"`
	Right   *ValueRef `json:"right,omitempty"`
	Compare CompareOp `json:"compare,omitempty"`

	// exists / matches / in
	Ref     *ValueRef   `json:"ref,omitempty"`
	Pattern string      `json:"pattern,omitempty"`
	Values  []*ValueRef `json:"values,omitempty"`

	// custom
	Evaluator string         `json:"evaluator,omitempty"`
	Config    map[string]any `json:"config,omitempty"`
}
