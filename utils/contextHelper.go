package utils

import (
	"context"

	"github.com/mmdatafocus/menu_backend/appctx"
)

const SystemOperator = "system"

func GetTokenFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, appctx.ContextKeyToken)
}

func SetTokenInContext(ctx context.Context, token string) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyToken, token)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, appctx.ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyCorrelationId, correlationId)
}

func SetOperatorInContext(ctx context.Context, operator string) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyOperator, operator)
}

// OperatorFromContext returns the operator stamped on Brain rules and merge history.
// Background jobs without an authenticated operator are recorded as "system".
func OperatorFromContext(ctx context.Context) string {
	if v, ok := appctx.GetString(ctx, appctx.ContextKeyOperator); ok && v != "" {
		return v
	}
	return SystemOperator
}

func GetOrderRefFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, appctx.ContextKeyOrderRef)
}

func SetOrderRefInContext(ctx context.Context, orderRef string) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyOrderRef, orderRef)
}
