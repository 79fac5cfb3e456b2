package conditions

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrNilExpression     = errors.New("expression cannot be nil")
	ErrUnknownOp         = errors.New("unknown expression op")
	ErrMissingOperand    = errors.New("missing operand")
	ErrInvalidCompareOp  = errors.New("invalid compare operator")
	ErrInvalidPattern    = errors.New("invalid regex pattern")
	ErrMissingEvaluator  = errors.New("custom expression requires an evaluator name")
	ErrEmptyArgs         = errors.New("boolean expression requires at least one argument")
	ErrNotArity          = errors.New("not expression requires exactly one argument")
	ErrInvalidValueRef   = errors.New("invalid value reference")
	ErrUnknownRefKind    = errors.New("unknown value reference kind")
)

var validCompareOps = map[CompareOp]struct{}{
	CompareEq: {}, CompareNe: {}, CompareGt: {}, CompareGte: {}, CompareLt: {}, CompareLte: {},
}

// Validate checks an expression tree for structural errors. It is run at
// workflow save time so malformed trees never reach execution.
func Validate(expr *Expression) error {
	if expr == nil {
		return ErrNilExpression
	}

	switch expr.Op {
	case OpAnd, OpOr:
		if len(expr.Args) == 0 {
			return fmt.Errorf("%s: %w", expr.Op, ErrEmptyArgs)
		}

		for i, arg := range expr.Args {
			if err := Validate(arg); err != nil {
				return fmt.Errorf("%s arg %d: %w", expr.Op, i, err)
			}
		}
	case OpNot:
		if len(expr.Args) != 1 {
			return ErrNotArity
		}

		return Validate(expr.Args[0])
	case OpCompare:
		if expr.Left == nil || expr.Right == nil {
			return fmt.Errorf("compare: %w", ErrMissingOperand)
		}

		if _, ok := validCompareOps[expr.Compare]; !ok {
			return fmt.Errorf("%w: %q", ErrInvalidCompareOp, expr.Compare)
		}

		if err := validateRef(expr.Left); err != nil {
			return err
		}

		return validateRef(expr.Right)
	case OpExists:
		if expr.Ref == nil {
			return fmt.Errorf("exists: %w", ErrMissingOperand)
		}

		return validateRef(expr.Ref)
	case OpMatches:
		if expr.Ref == nil {
			return fmt.Errorf("matches: %w", ErrMissingOperand)
		}

		if _, err := regexp.Compile(expr.Pattern); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPattern, err)
		}

		return validateRef(expr.Ref)
	case OpIn:
		if expr.Ref == nil {
			return fmt.Errorf("in: %w", ErrMissingOperand)
		}

		if err := validateRef(expr.Ref); err != nil {
			return err
		}

		for i, v := range expr.Values {
			if err := validateRef(v); err != nil {
				return fmt.Errorf("in value %d: %w", i, err)
			}
		}
	case OpCustom:
		if expr.Evaluator == "" {
			return ErrMissingEvaluator
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, expr.Op)
	}

	return nil
}

func validateRef(ref *ValueRef) error {
	if ref == nil {
		return ErrInvalidValueRef
	}

	switch ref.Kind {
	case RefLiteral:
		return nil
	case RefContext:
		if ref.Path == "" {
			return fmt.Errorf("%w: context reference requires a path", ErrInvalidValueRef)
		}
	case RefNode:
		if ref.NodeID == "" {
			return fmt.Errorf("%w: node reference requires a node id", ErrInvalidValueRef)
		}
	case RefEnv, RefSecret:
		if ref.Name == "" {
			return fmt.Errorf("%w: %s reference requires a name", ErrInvalidValueRef, ref.Kind)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownRefKind, ref.Kind)
	}

	return nil
}
