package services

// Boolean combinators chaining a condition to its predecessor.
const (
	LogicAnd = "AND"
	LogicOr  = "OR"
)

// Condition is a single comparison against the event payload. Logic links
// it to the previous condition and must be empty only on the first entry.
type Condition struct {
	Field    string      `json:"field"`
	Operator string      `json:"operator"`
	Value    interface{} `json:"value"`
	Logic    string      `json:"logic,omitempty"`
}

// ConditionResult records how one condition evaluated, for the execution
// trace. Per-condition results are kept even though only the running
// accumulator decides the outcome, so a rule author can see why a rule
// did not fire.
type ConditionResult struct {
	Field         string      `json:"field"`
	Operator      string      `json:"operator"`
	ExpectedValue interface{} `json:"expected_value"`
	ActualValue   interface{} `json:"actual_value"`
	Passed        bool        `json:"passed"`
}

// EvaluateConditions folds the condition list left to right against the
// payload. Precedence is strictly positional: [A, B(OR), C(AND)] reads as
// ((A OR B) AND C). There is no grouping. An empty list evaluates to true.
func EvaluateConditions(payload map[string]interface{}, conditions []Condition) (bool, []ConditionResult) {
	if len(conditions) == 0 {
		return true, nil
	}

	results := make([]ConditionResult, 0, len(conditions))
	accumulator := false
	for i, cond := range conditions {
		actual, found := ResolveField(payload, cond.Field)
		passed := ApplyOperator(cond.Operator, actual, found, cond.Value)
		results = append(results, ConditionResult{
			Field:         cond.Field,
			Operator:      cond.Operator,
			ExpectedValue: cond.Value,
			ActualValue:   actual,
			Passed:        passed,
		})

		if i == 0 {
			accumulator = passed
			continue
		}
		if cond.Logic == LogicOr {
			accumulator = accumulator || passed
		} else {
			accumulator = accumulator && passed
		}
	}
	return accumulator, results
}
