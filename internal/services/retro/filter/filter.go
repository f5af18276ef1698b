// Package filter compiles AIP-160 filter expressions over retro summaries.
package filter

import (
	"fmt"
	"strings"
	"time"

	"go.einride.tech/aip/filtering"
	expr "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	apperrors "github.com/louisbranch/retroboard/internal/platform/errors"
	"github.com/louisbranch/retroboard/internal/services/retro/domain"
)

// Predicate reports whether a summary matches a filter.
type Predicate func(domain.Summary) bool

// MatchAll accepts every summary.
func MatchAll(domain.Summary) bool { return true }

// RetroDeclarations returns the identifiers a retro list filter may use.
func RetroDeclarations() (*filtering.Declarations, error) {
	return filtering.NewDeclarations(
		filtering.DeclareStandardFunctions(),
		filtering.DeclareIdent("id", filtering.TypeString),
		filtering.DeclareIdent("name", filtering.TypeString),
		filtering.DeclareIdent("creator_id", filtering.TypeString),
		filtering.DeclareIdent("phase", filtering.TypeString),
		filtering.DeclareIdent("participant_count", filtering.TypeInt),
		filtering.DeclareIdent("created_at", filtering.TypeTimestamp),
		filtering.DeclareIdent("updated_at", filtering.TypeTimestamp),
	)
}

type fieldKind int

const (
	fieldString fieldKind = iota
	fieldInt
	fieldTime
)

type field struct {
	kind    fieldKind
	str     func(domain.Summary) string
	integer func(domain.Summary) int64
	time    func(domain.Summary) time.Time
}

var fields = map[string]field{
	"id":                {kind: fieldString, str: func(s domain.Summary) string { return s.ID }},
	"name":              {kind: fieldString, str: func(s domain.Summary) string { return s.Name }},
	"creator_id":        {kind: fieldString, str: func(s domain.Summary) string { return s.CreatorID }},
	"phase":             {kind: fieldString, str: func(s domain.Summary) string { return string(s.Phase) }},
	"participant_count": {kind: fieldInt, integer: func(s domain.Summary) int64 { return int64(s.ParticipantCount) }},
	"created_at":        {kind: fieldTime, time: func(s domain.Summary) time.Time { return s.CreatedAt }},
	"updated_at":        {kind: fieldTime, time: func(s domain.Summary) time.Time { return s.UpdatedAt }},
}

// Parse compiles an AIP-160 filter. An empty filter matches everything.
func Parse(filterStr string) (Predicate, error) {
	if strings.TrimSpace(filterStr) == "" {
		return MatchAll, nil
	}

	decls, err := RetroDeclarations()
	if err != nil {
		return nil, fmt.Errorf("create declarations: %w", err)
	}
	parsed, err := filtering.ParseFilterString(filterStr, decls)
	if err != nil {
		return nil, invalid(fmt.Errorf("parse filter: %w", err))
	}
	predicate, err := compileExpr(parsed.CheckedExpr.GetExpr())
	if err != nil {
		return nil, invalid(err)
	}
	return predicate, nil
}

func invalid(err error) error {
	return apperrors.Wrap(apperrors.CodeInvalidArgument, err.Error(), err)
}

func compileExpr(e *expr.Expr) (Predicate, error) {
	if e == nil {
		return MatchAll, nil
	}
	switch kind := e.ExprKind.(type) {
	case *expr.Expr_CallExpr:
		return compileCall(kind.CallExpr)
	default:
		return nil, fmt.Errorf("unsupported expression type: %T", kind)
	}
}

func compileCall(call *expr.Expr_Call) (Predicate, error) {
	switch call.Function {
	case "_&&_", "AND", "FUZZY":
		return compileLogical(call.Args, func(a, b bool) bool { return a && b })
	case "_||_", "OR":
		return compileLogical(call.Args, func(a, b bool) bool { return a || b })
	case "_!_", "NOT":
		if len(call.Args) != 1 {
			return nil, fmt.Errorf("NOT requires 1 argument")
		}
		inner, err := compileExpr(call.Args[0])
		if err != nil {
			return nil, err
		}
		return func(s domain.Summary) bool { return !inner(s) }, nil
	case "_==_", "=":
		return compileComparison(call.Args, func(c int) bool { return c == 0 })
	case "_!=_", "!=":
		return compileComparison(call.Args, func(c int) bool { return c != 0 })
	case "_<_", "<":
		return compileComparison(call.Args, func(c int) bool { return c < 0 })
	case "_<=_", "<=":
		return compileComparison(call.Args, func(c int) bool { return c <= 0 })
	case "_>_", ">":
		return compileComparison(call.Args, func(c int) bool { return c > 0 })
	case "_>=_", ">=":
		return compileComparison(call.Args, func(c int) bool { return c >= 0 })
	case ":":
		return compileHas(call.Args)
	default:
		return nil, fmt.Errorf("unsupported function: %s", call.Function)
	}
}

func compileLogical(args []*expr.Expr, combine func(a, b bool) bool) (Predicate, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("logical operator requires 2 arguments")
	}
	left, err := compileExpr(args[0])
	if err != nil {
		return nil, err
	}
	right, err := compileExpr(args[1])
	if err != nil {
		return nil, err
	}
	return func(s domain.Summary) bool { return combine(left(s), right(s)) }, nil
}

func compileComparison(args []*expr.Expr, accept func(int) bool) (Predicate, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("comparison requires 2 arguments")
	}
	name, err := extractFieldName(args[0])
	if err != nil {
		return nil, err
	}
	f, ok := fields[name]
	if !ok {
		return nil, fmt.Errorf("unknown field: %s", name)
	}
	value, err := extractValue(args[1])
	if err != nil {
		return nil, err
	}

	switch f.kind {
	case fieldString:
		want, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("field %s expects a string", name)
		}
		return func(s domain.Summary) bool { return accept(strings.Compare(f.str(s), want)) }, nil
	case fieldInt:
		want, ok := value.(int64)
		if !ok {
			return nil, fmt.Errorf("field %s expects an integer", name)
		}
		return func(s domain.Summary) bool { return accept(compareInt(f.integer(s), want)) }, nil
	default:
		want, ok := value.(time.Time)
		if !ok {
			return nil, fmt.Errorf("field %s expects a timestamp", name)
		}
		return func(s domain.Summary) bool { return accept(f.time(s).Compare(want)) }, nil
	}
}

func compileHas(args []*expr.Expr) (Predicate, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("has requires 2 arguments")
	}
	name, err := extractFieldName(args[0])
	if err != nil {
		return nil, err
	}
	f, ok := fields[name]
	if !ok || f.kind != fieldString {
		return nil, fmt.Errorf("has is only supported on string fields, got %s", name)
	}
	value, err := extractValue(args[1])
	if err != nil {
		return nil, err
	}
	needle, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("has expects a string")
	}
	needle = strings.ToLower(needle)
	return func(s domain.Summary) bool { return strings.Contains(strings.ToLower(f.str(s)), needle) }, nil
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func extractFieldName(e *expr.Expr) (string, error) {
	if e == nil {
		return "", fmt.Errorf("nil expression")
	}
	switch kind := e.ExprKind.(type) {
	case *expr.Expr_IdentExpr:
		return kind.IdentExpr.Name, nil
	default:
		return "", fmt.Errorf("expected identifier, got %T", kind)
	}
}

func extractValue(e *expr.Expr) (any, error) {
	if e == nil {
		return nil, fmt.Errorf("nil expression")
	}
	switch kind := e.ExprKind.(type) {
	case *expr.Expr_ConstExpr:
		return extractConstValue(kind.ConstExpr)
	case *expr.Expr_CallExpr:
		if kind.CallExpr.Function == "timestamp" && len(kind.CallExpr.Args) == 1 {
			return extractTimestampValue(kind.CallExpr.Args[0])
		}
		return nil, fmt.Errorf("unsupported function in value position: %s", kind.CallExpr.Function)
	default:
		return nil, fmt.Errorf("expected constant or timestamp, got %T", kind)
	}
}

func extractConstValue(c *expr.Constant) (any, error) {
	if c == nil {
		return nil, fmt.Errorf("nil constant")
	}
	switch kind := c.ConstantKind.(type) {
	case *expr.Constant_StringValue:
		return kind.StringValue, nil
	case *expr.Constant_Int64Value:
		return kind.Int64Value, nil
	case *expr.Constant_Uint64Value:
		return int64(kind.Uint64Value), nil
	default:
		return nil, fmt.Errorf("unsupported constant type: %T", kind)
	}
}

func extractTimestampValue(e *expr.Expr) (time.Time, error) {
	constant, ok := e.GetExprKind().(*expr.Expr_ConstExpr)
	if !ok {
		return time.Time{}, fmt.Errorf("timestamp argument must be a constant string")
	}
	str, ok := constant.ConstExpr.GetConstantKind().(*expr.Constant_StringValue)
	if !ok {
		return time.Time{}, fmt.Errorf("timestamp argument must be a string")
	}
	t, err := time.Parse(time.RFC3339Nano, str.StringValue)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp format: %s", str.StringValue)
	}
	return t.UTC(), nil
}
