package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shaiso/Cadence/internal/domain"
)

// Поддерживаемые операторы условий.
const (
	OpGreater      = ">"
	OpGreaterEqual = ">="
	OpEqual        = "=="
	OpNotEqual     = "!="
	OpLess         = "<"
	OpLessEqual    = "<="
	OpIn           = "in"
	OpNotIn        = "not_in"
)

// ApplyOperator сравнивает фактическое значение метрики с порогом.
//
// Для in/not_in порог — список чисел через запятую: "0,1,5".
func ApplyOperator(actual float64, op, threshold string) (bool, error) {
	op = strings.ToLower(strings.TrimSpace(op))
	switch op {
	case OpIn, OpNotIn:
		set, err := parseList(threshold)
		if err != nil {
			return false, err
		}
		return contains(set, actual) == (op == OpIn), nil
	case OpGreater, OpGreaterEqual, OpEqual, OpNotEqual, OpLess, OpLessEqual:
	default:
		return false, fmt.Errorf("%w: %q", ErrInvalidOperator, op)
	}

	limit, err := parseNumber(threshold)
	if err != nil {
		return false, err
	}

	switch op {
	case OpGreater:
		return actual > limit, nil
	case OpGreaterEqual:
		return actual >= limit, nil
	case OpEqual:
		return actual == limit, nil
	case OpNotEqual:
		return actual != limit, nil
	case OpLess:
		return actual < limit, nil
	default:
		return actual <= limit, nil
	}
}

// MetricValue извлекает значение метрики из статистики.
// "views" — синоним "opens".
func MetricValue(stats domain.EngagementStats, metric string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(metric)) {
	case "opens", "open", "views", "view":
		return float64(stats.Opens), nil
	case "clicks", "click":
		return float64(stats.Clicks), nil
	case "bounces", "bounce":
		return float64(stats.Bounces), nil
	case "unsubscribes", "unsubscribe":
		return float64(stats.Unsubscribes), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}
}

// ValidateCondition проверяет, что условие вычислимо.
// Вызывается evaluator'ом до обращения к статистике.
func ValidateCondition(c *domain.ConditionDef) error {
	if _, err := MetricValue(domain.EngagementStats{}, c.MetricParam); err != nil {
		return nodeError(c.ID, "", err)
	}
	if _, err := ApplyOperator(0, c.Operator, c.Threshold); err != nil {
		return nodeError(c.ID, "", err)
	}
	return nil
}

func parseNumber(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidThreshold, s)
	}
	return v, nil
}

func parseList(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	set := make([]float64, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		v, err := parseNumber(p)
		if err != nil {
			return nil, err
		}
		set = append(set, v)
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("%w: empty list", ErrInvalidThreshold)
	}
	return set, nil
}

func contains(set []float64, v float64) bool {
	for _, x := range set {
		if x == v {
			return true
		}
	}
	return false
}
