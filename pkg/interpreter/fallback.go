// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"context"
	"log/slog"

	"github.com/jllopis/sinp/pkg/capability"
	"github.com/jllopis/sinp/pkg/resilience"
)

// Fallback uses Secondary whenever Primary fails, typically a keyword
// interpreter behind a vector interpreter whose backend is down.
type Fallback struct {
	Primary   Interpreter
	Secondary Interpreter
	Logger    *slog.Logger
}

// Interpret implements Interpreter.
func (f *Fallback) Interpret(ctx context.Context, text string, snap *capability.Snapshot) ([]Match, error) {
	return resilience.WithFallback(ctx,
		func(ctx context.Context) ([]Match, error) {
			return f.Primary.Interpret(ctx, text, snap)
		},
		func(ctx context.Context, err error) ([]Match, error) {
			logger := f.Logger
			if logger == nil {
				logger = slog.Default()
			}
			logger.Warn("primary interpreter failed, falling back", slog.String("error", err.Error()))
			return f.Secondary.Interpret(ctx, text, snap)
		})
}
