/*
 * Copyright 2023 Dexopt Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package dexopt

import (
    `fmt`

    `github.com/dexopt/dexopt/internal/opts`
    `github.com/dexopt/dexopt/internal/switchequiv`
    `go.uber.org/zap`
)

type config struct {
    opts   opts.Options
    hooks  *switchequiv.Hooks
    logger *zap.Logger
}

// Option is the property setter function for the optimizer
// configuration.
type Option func(*config) error

// WithConfigFile loads recognized options from a TOML file. Unknown
// keys are rejected.
func WithConfigFile(path string) Option {
    return func(c *config) error {
        o, err := opts.LoadFile(path)
        if err != nil {
            return err
        }
        c.opts = o
        return nil
    }
}

// WithMaxInlineSize sets the cost-unit threshold above which the
// reducer prefers expanding a callee over inlining it.
//
// Set this option to "0" disables the limit, which means inlining
// everything.
//
// This value can also be configured with the `DEXOPT_MAX_INLINE_SIZE`
// environment variable. The default value of this option is "20".
func WithMaxInlineSize(units int) Option {
    if units < 0 {
        panic(fmt.Sprintf("dexopt: invalid inline size: %d", units))
    } else {
        return func(c *config) error { c.opts.MaxInlineSize = units; return nil }
    }
}

// WithMaxInlineInvokesIterations caps the reducer's inlining rounds per
// root method. Exceeding the cap fails that root, never the run.
//
// This value can also be configured with the
// `DEXOPT_MAX_INLINE_INVOKES_ITERATIONS` environment variable. The
// default value of this option is "8".
func WithMaxInlineInvokesIterations(n int) Option {
    if n < 1 {
        panic(fmt.Sprintf("dexopt: invalid iteration cap: %d", n))
    } else {
        return func(c *config) error { c.opts.MaxInlineInvokesIterations = n; return nil }
    }
}

// WithIncompleteDeltaThreshold gates incomplete-type candidates on
// their estimated savings. The default is a huge positive sentinel that
// admits every candidate.
func WithIncompleteDeltaThreshold(v int64) Option {
    return func(c *config) error { c.opts.IncompleteDeltaThreshold = v; return nil }
}

// WithSavingsThreshold sets the marginal savings below which the profit
// selector stops committing variants.
//
// The default value of this option is "0", which accepts break-even.
func WithSavingsThreshold(v int64) Option {
    if v < 0 {
        panic(fmt.Sprintf("dexopt: invalid savings threshold: %d", v))
    } else {
        return func(c *config) error { c.opts.SavingsThreshold = v; return nil }
    }
}

// WithEmitLocators controls whether the locator pass installs per-class
// locator strings. Enabled by default.
func WithEmitLocators(v bool) Option {
    return func(c *config) error { c.opts.EmitLocators = v; return nil }
}

// WithWorkers sets the worker count for the parallel phases.
//
// The default value "0" means GOMAXPROCS.
func WithWorkers(n int) Option {
    if n < 0 {
        panic(fmt.Sprintf("dexopt: invalid worker count: %d", n))
    } else {
        return func(c *config) error { c.opts.Workers = n; return nil }
    }
}

// WithSwitchHooks provides the class-key lookup pieces the
// switch-equivalence rewriter needs. Without hooks, class-keyed chains
// are detected but left alone.
func WithSwitchHooks(h *switchequiv.Hooks) Option {
    return func(c *config) error { c.hooks = h; return nil }
}

// WithLogger routes pass logging through the given logger. The default
// discards everything.
func WithLogger(log *zap.Logger) Option {
    if log == nil {
        panic("dexopt: nil logger")
    } else {
        return func(c *config) error { c.logger = log; return nil }
    }
}
