/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package log injects a zap.SugaredLogger through context.Context so
// every call site can log with request-scoped fields already attached.
package log

import (
	"context"

	"go.uber.org/zap"
)

type loggerKey struct{}

// NewProduction builds the default JSON-structured production logger.
func NewProduction() *zap.SugaredLogger {
	l, err := zap.NewProduction()
	if err != nil {
		// Fall back to a no-op logger rather than panicking on a
		// logging misconfiguration.
		l = zap.NewNop()
	}
	return l.Sugar()
}

// IntoContext attaches a logger to ctx.
func IntoContext(ctx context.Context, logger *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext recovers the logger attached with IntoContext, falling
// back to a no-op sugared logger so callers never nil-check.
func FromContext(ctx context.Context) *zap.SugaredLogger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.SugaredLogger); ok {
		return l
	}
	return zap.NewNop().Sugar()
}
