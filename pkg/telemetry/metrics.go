// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EngineMetrics tracks invocation outcomes for production monitoring.
type EngineMetrics struct {
	invocationCounter  metric.Int64Counter
	invocationDuration metric.Float64Histogram
	capabilityFailures metric.Int64Counter
	ruleInjections     metric.Int64Counter
	sectionSkips       metric.Int64Counter
}

// NewEngineMetrics creates the engine's OTEL instruments.
func NewEngineMetrics() (*EngineMetrics, error) {
	meter := otel.Meter("sibyl/engine")

	invocationCounter, err := meter.Int64Counter(
		"sibyl.invocations.total",
		metric.WithDescription("Processed inputs by resolved status"),
	)
	if err != nil {
		return nil, err
	}

	invocationDuration, err := meter.Float64Histogram(
		"sibyl.invocations.duration",
		metric.WithDescription("Invocation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	capabilityFailures, err := meter.Int64Counter(
		"sibyl.capability.failures",
		metric.WithDescription("Failed capability invocations by path"),
	)
	if err != nil {
		return nil, err
	}

	ruleInjections, err := meter.Int64Counter(
		"sibyl.rules.injected",
		metric.WithDescription("Rules appended to the shared core rules"),
	)
	if err != nil {
		return nil, err
	}

	sectionSkips, err := meter.Int64Counter(
		"sibyl.sections.skipped",
		metric.WithDescription("Optional sections omitted after a recoverable failure"),
	)
	if err != nil {
		return nil, err
	}

	return &EngineMetrics{
		invocationCounter:  invocationCounter,
		invocationDuration: invocationDuration,
		capabilityFailures: capabilityFailures,
		ruleInjections:     ruleInjections,
		sectionSkips:       sectionSkips,
	}, nil
}

// RecordInvocation records one processed input and its duration.
func (em *EngineMetrics) RecordInvocation(ctx context.Context, status int, outcome string, elapsed time.Duration) {
	if em == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.Int("status", status),
		attribute.String("outcome", outcome),
	)
	em.invocationCounter.Add(ctx, 1, attrs)
	em.invocationDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordCapabilityFailure records a failed capability invocation.
func (em *EngineMetrics) RecordCapabilityFailure(ctx context.Context, path string) {
	if em == nil {
		return
	}
	em.capabilityFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("capability.path", path)),
	)
}

// RecordSectionSkip records one optional section omitted from a response.
func (em *EngineMetrics) RecordSectionSkip(ctx context.Context, section string) {
	if em == nil {
		return
	}
	em.sectionSkips.Add(ctx, 1,
		metric.WithAttributes(attribute.String("section.name", section)),
	)
}

// RecordRuleInjection records one appended rule.
func (em *EngineMetrics) RecordRuleInjection(ctx context.Context) {
	if em == nil {
		return
	}
	em.ruleInjections.Add(ctx, 1)
}
