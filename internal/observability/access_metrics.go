package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// AccessMetrics counts requests shaped by the HTTP middleware: role
// impersonation decisions and rate limit rejections.
type AccessMetrics struct {
	roleRequests metric.Int64Counter
	roleDenied   metric.Int64Counter
	rateLimited  metric.Int64Counter
}

// InitAccessMetrics initializes access metrics
func InitAccessMetrics() (*AccessMetrics, error) {
	meter := otel.Meter("pg-tablerows/access")

	roleRequests, err := meter.Int64Counter(
		"access.role.requests.total",
		metric.WithDescription("Total number of requests asking for role impersonation"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create role requests counter: %w", err)
	}

	roleDenied, err := meter.Int64Counter(
		"access.role.denied.total",
		metric.WithDescription("Total number of role impersonation requests rejected"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create role denied counter: %w", err)
	}

	rateLimited, err := meter.Int64Counter(
		"access.rate_limited.total",
		metric.WithDescription("Total number of requests rejected by the rate limiter"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limited counter: %w", err)
	}

	return &AccessMetrics{
		roleRequests: roleRequests,
		roleDenied:   roleDenied,
		rateLimited:  rateLimited,
	}, nil
}

// RecordRoleRequest records a request carrying a role header.
func (m *AccessMetrics) RecordRoleRequest(ctx context.Context, role string, allowed bool) {
	if m == nil {
		return
	}
	m.roleRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("role", role),
		attribute.Bool("allowed", allowed),
	))
	if !allowed {
		m.roleDenied.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
	}
}

// RecordRateLimited records a request rejected with 429.
func (m *AccessMetrics) RecordRateLimited(ctx context.Context, path string) {
	if m == nil {
		return
	}
	m.rateLimited.Add(ctx, 1, metric.WithAttributes(attribute.String("path", path)))
}
