package config

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	configMetricsOnce sync.Once
	configLoads       metric.Int64Counter
	configProblems    metric.Int64Counter
)

// recordConfigLoad counts one Load attempt and, on failure, how many
// individual problems it reported.
func recordConfigLoad(ctx context.Context, profile string, err error) {
	configMetricsOnce.Do(func() {
		meter := otel.Meter("license-activation-service/config")
		configLoads, _ = meter.Int64Counter("config.validation.events")
		configProblems, _ = meter.Int64Counter("config.validation.problems")
	})
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	attrs := metric.WithAttributes(
		attribute.String("profile", normalizeConfigProfile(profile)),
		attribute.String("error_class", classifyConfigLoadError(err)),
	)
	if configLoads != nil {
		configLoads.Add(ctx, 1, attrs, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	if n := countConfigProblems(err); n > 0 && configProblems != nil {
		configProblems.Add(ctx, int64(n), attrs)
	}
}

func normalizeConfigProfile(profile string) string {
	v := strings.TrimSpace(strings.ToLower(profile))
	if v == "" {
		return "unknown"
	}
	return v
}

// classifyConfigLoadError prefers validation over parse: a joined error that
// carries both still failed on rules, not only on syntax.
func classifyConfigLoadError(err error) string {
	var validationErr *ValidationError
	var parseErr *ParseError
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &validationErr):
		return "validation"
	case errors.As(err, &parseErr):
		return "parse"
	default:
		return "load"
	}
}

func countConfigProblems(err error) int {
	if err == nil {
		return 0
	}
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return len(validationErr.Problems)
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return len(joined.Unwrap())
	}
	return 1
}
