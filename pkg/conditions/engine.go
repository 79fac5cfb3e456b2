package conditions

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

const defaultEvalTimeout = 5 * time.Second

var (
	ErrEvaluatorNotRegistered = errors.New("custom evaluator not registered")
	ErrEvaluationTimeout      = errors.New("condition evaluation timed out")
)

// Resolver supplies values for ValueRef lookups during evaluation. Missing
// paths are reported through the boolean return, never through an error.
type Resolver interface {
	ContextValue(path string) (any, bool)
	NodeOutput(nodeID, path string) (any, bool)
	Env(name string) (string, bool)
	Secret(name string) (string, bool)
}

// CustomEvaluator is a plugin-registered condition. It runs under the same
// timeout discipline as actions.
type CustomEvaluator interface {
	Evaluate(ctx context.Context, config map[string]any, resolver Resolver) (bool, error)
}

// Engine evaluates expression trees. It is safe for concurrent use; compiled
// regexes are cached across evaluations.
type Engine struct {
	mu          sync.RWMutex
	custom      map[string]CustomEvaluator
	regexCache  sync.Map // pattern -> *regexp.Regexp
	evalTimeout time.Duration
}

func NewEngine() *Engine {
	return &Engine{
		custom:      make(map[string]CustomEvaluator),
		evalTimeout: defaultEvalTimeout,
	}
}

// RegisterEvaluator adds a custom evaluator under the given name. Later
// registrations replace earlier ones.
func (e *Engine) RegisterEvaluator(name string, evaluator CustomEvaluator) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.custom[name] = evaluator
}

// Evaluate walks the expression tree against the resolver. An unresolved
// value reference evaluates to undefined, and any comparison involving
// undefined is false.
func (e *Engine) Evaluate(ctx context.Context, expr *Expression, resolver Resolver) (bool, error) {
	if expr == nil {
		return true, nil
	}

	if err := ctx.Err(); err != nil {
		return false, err
	}

	switch expr.Op {
	case OpAnd:
		for _, arg := range expr.Args {
			ok, err := e.Evaluate(ctx, arg, resolver)
			if err != nil || !ok {
				return false, err
			}
		}

		return true, nil
	case OpOr:
		for _, arg := range expr.Args {
			ok, err := e.Evaluate(ctx, arg, resolver)
			if err != nil {
				return false, err
			}

			if ok {
				return true, nil
			}
		}

		return false, nil
	case OpNot:
		if len(expr.Args) != 1 {
			return false, ErrNotArity
		}

		ok, err := e.Evaluate(ctx, expr.Args[0], resolver)
		if err != nil {
			return false, err
		}

		return !ok, nil
	case OpCompare:
		return e.evaluateCompare(expr, resolver), nil
	case OpExists:
		_, ok := resolve(expr.Ref, resolver)

		return ok, nil
	case OpMatches:
		return e.evaluateMatches(expr, resolver)
	case OpIn:
		return e.evaluateIn(expr, resolver), nil
	case OpCustom:
		return e.evaluateCustom(ctx, expr, resolver)
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownOp, expr.Op)
	}
}

func (e *Engine) evaluateCompare(expr *Expression, resolver Resolver) bool {
	left, leftOK := resolve(expr.Left, resolver)
	right, rightOK := resolve(expr.Right, resolver)

	if !leftOK || !rightOK {
		return false
	}

	switch expr.Compare {
	case CompareEq:
		return valuesEqual(left, right)
	case CompareNe:
		return !valuesEqual(left, right)
	case CompareGt, CompareGte, CompareLt, CompareLte:
		return compareOrdered(left, right, expr.Compare)
	default:
		return false
	}
}

func (e *Engine) evaluateMatches(expr *Expression, resolver Resolver) (bool, error) {
	value, ok := resolve(expr.Ref, resolver)
	if !ok {
		return false, nil
	}

	str, ok := value.(string)
	if !ok {
		return false, nil
	}

	re, err := e.compiledRegex(expr.Pattern)
	if err != nil {
		return false, err
	}

	return re.MatchString(str), nil
}

func (e *Engine) evaluateIn(expr *Expression, resolver Resolver) bool {
	needle, ok := resolve(expr.Ref, resolver)
	if !ok {
		return false
	}

	for _, candidate := range expr.Values {
		value, ok := resolve(candidate, resolver)
		if !ok {
			continue
		}

		if valuesEqual(needle, value) {
			return true
		}
	}

	return false
}

func (e *Engine) evaluateCustom(ctx context.Context, expr *Expression, resolver Resolver) (bool, error) {
	e.mu.RLock()
	evaluator, ok := e.custom[expr.Evaluator]
	e.mu.RUnlock()

	if !ok {
		return false, fmt.Errorf("%w: %q", ErrEvaluatorNotRegistered, expr.Evaluator)
	}

	evalCtx, cancel := context.WithTimeout(ctx, e.evalTimeout)
	defer cancel()

	type result struct {
		ok  bool
		err error
	}

	done := make(chan result, 1)

	go func() {
		ok, err := evaluator.Evaluate(evalCtx, expr.Config, resolver)
		done <- result{ok: ok, err: err}
	}()

	select {
	case res := <-done:
		return res.ok, res.err
	case <-evalCtx.Done():
		return false, fmt.Errorf("%w: evaluator %q", ErrEvaluationTimeout, expr.Evaluator)
	}
}

// compiledRegex returns a cached compiled pattern. Go's regexp engine runs in
// linear time, so a cached pattern cannot backtrack catastrophically.
func (e *Engine) compiledRegex(pattern string) (*regexp.Regexp, error) {
	if cached, ok := e.regexCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}

	e.regexCache.Store(pattern, re)

	return re, nil
}

func resolve(ref *ValueRef, resolver Resolver) (any, bool) {
	if ref == nil {
		return nil, false
	}

	switch ref.Kind {
	case RefLiteral:
		return ref.Value, true
	case RefContext:
		return resolver.ContextValue(ref.Path)
	case RefNode:
		return resolver.NodeOutput(ref.NodeID, ref.Path)
	case RefEnv:
		v, ok := resolver.Env(ref.Name)

		return v, ok
	case RefSecret:
		v, ok := resolver.Secret(ref.Name)

		return v, ok
	default:
		return nil, false
	}
}

func valuesEqual(left, right any) bool {
	if lf, lok := toFloat(left); lok {
		if rf, rok := toFloat(right); rok {
			return lf == rf
		}

		return false
	}

	switch l := left.(type) {
	case string:
		r, ok := right.(string)

		return ok && l == r
	case bool:
		r, ok := right.(bool)

		return ok && l == r
	case nil:
		return right == nil
	default:
		return false
	}
}

func compareOrdered(left, right any, op CompareOp) bool {
	if lf, lok := toFloat(left); lok {
		rf, rok := toFloat(right)
		if !rok {
			return false
		}

		return orderedResult(lf < rf, lf == rf, op)
	}

	ls, lok := left.(string)
	rs, rok := right.(string)

	if !lok || !rok {
		return false
	}

	cmp := strings.Compare(ls, rs)

	return orderedResult(cmp < 0, cmp == 0, op)
}

func orderedResult(less, equal bool, op CompareOp) bool {
	switch op {
	case CompareGt:
		return !less && !equal
	case CompareGte:
		return !less || equal
	case CompareLt:
		return less
	case CompareLte:
		return less || equal
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
