// Package service implements the content-governance operations behind the admin API.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"chapterhub/internal/authz"
	"chapterhub/internal/observability"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type requestMetaKey struct{}

// RequestMeta carries caller details recorded on audit entries.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// WithRequestMeta attaches caller details to ctx.
func WithRequestMeta(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, RequestMeta{IP: ip, UserAgent: userAgent})
}

func requestMetaFrom(ctx context.Context) RequestMeta {
	if meta, ok := ctx.Value(requestMetaKey{}).(RequestMeta); ok {
		return meta
	}
	return RequestMeta{}
}

// Clock returns the current time. Services default to time.Now.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

var savepointSeq atomic.Uint64

// softWrite runs fn inside a savepoint of tx. A failure rolls back to the
// savepoint, is logged and counted, and never fails the enclosing transaction.
func softWrite(ctx context.Context, tx *gorm.DB, dependency string, fn func(tx *gorm.DB) error) {
	name := fmt.Sprintf("sp_%s_%d", strings.ReplaceAll(dependency, "-", "_"), savepointSeq.Add(1))
	if err := tx.SavePoint(name).Error; err != nil {
		softFailure(ctx, dependency, err)
		return
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.RollbackTo(name).Error; rbErr != nil {
			slog.ErrorContext(ctx, "rollback to savepoint failed",
				slog.String("dependency", dependency),
				slog.String("error", rbErr.Error()),
			)
		}
		softFailure(ctx, dependency, err)
	}
}

func softFailure(ctx context.Context, dependency string, err error) {
	observability.SoftDependencyFailures.WithLabelValues(dependency).Inc()
	slog.WarnContext(ctx, "soft dependency failed",
		slog.String("dependency", dependency),
		slog.String("error", err.Error()),
	)
}

// toJSON marshals v for a JSON column. Marshal failures yield null.
func toJSON(v any) datatypes.JSON {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func principalAttr(p *authz.Principal) attribute.KeyValue {
	if p == nil {
		return observability.PrincipalID(0)
	}
	return observability.PrincipalID(p.ID)
}
