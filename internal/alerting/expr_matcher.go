package alerting

import (
	"fmt"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/good-yellow-bee/sentinel/internal/models"
)

// ExprMatcher compiles and evaluates expr-lang expressions against trigger contexts.
type ExprMatcher struct {
	expression string
	program    *vm.Program
}

// NewExprMatcher creates a new ExprMatcher for the given expression.
func NewExprMatcher(expression string) (*ExprMatcher, error) {
	m := &ExprMatcher{expression: expression}
	if err := m.compile(); err != nil {
		return nil, err
	}
	return m, nil
}

// compile compiles the expression with the expected environment.
func (m *ExprMatcher) compile() error {
	// Type check against a sample environment so unknown identifiers and
	// non-boolean results fail at rule-write time.
	program, err := expr.Compile(m.expression,
		expr.Env(buildSampleEnv()),
		expr.AsBool(),
	)
	if err != nil {
		return fmt.Errorf("compile expression: %w", err)
	}

	m.program = program
	return nil
}

// Match evaluates the expression against a trigger context.
func (m *ExprMatcher) Match(tc models.TriggerContext, loc *time.Location) (bool, error) {
	result, err := expr.Run(m.program, buildEnv(tc, loc))
	if err != nil {
		return false, fmt.Errorf("evaluate expression: %w", err)
	}

	matched, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return bool: got %T", result)
	}

	return matched, nil
}

// Expression returns the original expression string.
func (m *ExprMatcher) Expression() string {
	return m.expression
}

func buildSampleEnv() map[string]any {
	return map[string]any{
		"subject_id":   "",
		"subject_type": "",
		"camera_id":    "",
		"sighting_id":  "",
		"confidence":   0.0,
		"hour":         0,
		"minute":       0,
		"weekday":      "",
		"has_subject":  false,
		"has_camera":   false,
	}
}

func buildEnv(tc models.TriggerContext, loc *time.Location) map[string]any {
	if loc == nil {
		loc = time.UTC
	}
	at := tc.Timestamp.In(loc)
	return map[string]any{
		"subject_id":   tc.SubjectID,
		"subject_type": tc.SubjectType,
		"camera_id":    tc.CameraID,
		"sighting_id":  tc.SightingID,
		"confidence":   tc.Confidence,
		"hour":         at.Hour(),
		"minute":       at.Minute(),
		"weekday":      at.Weekday().String(),
		"has_subject":  tc.HasSubject(),
		"has_camera":   tc.HasCamera(),
	}
}
