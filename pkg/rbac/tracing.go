package rbac

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/platinummonkey/tenantgate/pkg/rbac"

// DecisionRecorder receives the outcome of every decision. *observability.Metrics implements it.
type DecisionRecorder interface {
	RecordDecision(namespace string, allowed bool, err error, elapsed time.Duration)
}

// TracedAuthorizer wraps an Authorizer with a span and a decision metric per call
type TracedAuthorizer struct {
	next     Authorizer
	tracer   trace.Tracer
	recorder DecisionRecorder
}

// NewTracedAuthorizer uses the global tracer provider. recorder may be nil.
func NewTracedAuthorizer(next Authorizer, recorder DecisionRecorder) *TracedAuthorizer {
	return &TracedAuthorizer{
		next:     next,
		tracer:   otel.Tracer(tracerName),
		recorder: recorder,
	}
}

// Authorize delegates to the wrapped Authorizer
func (t *TracedAuthorizer) Authorize(ctx context.Context, userID uuid.UUID, permission Permission, tenant TenantContext) (bool, error) {
	ctx, span := t.tracer.Start(ctx, "rbac.Authorize",
		trace.WithAttributes(
			attribute.String("rbac.user_id", userID.String()),
			attribute.String("rbac.permission", string(permission)),
			attribute.String("rbac.tenant", tenant.String()),
		),
	)
	defer span.End()

	start := time.Now()
	allowed, err := t.next.Authorize(ctx, userID, permission, tenant)
	elapsed := time.Since(start)

	if t.recorder != nil {
		namespace := "unknown"
		if permission.Valid() {
			namespace = string(permission.Namespace())
		}
		t.recorder.RecordDecision(namespace, allowed, err, elapsed)
	}

	span.SetAttributes(attribute.Bool("rbac.allowed", allowed))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return allowed, err
}
