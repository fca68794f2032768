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

// Package dexopt is a post-link optimizer for dex-like programs. Its
// core pass eliminates non-escaping object allocations across method
// boundaries, a second pass folds branch chains into switches, and a
// final pass installs class locator strings for fast lookup.
package dexopt

import (
    `github.com/dexopt/dexopt/internal/escape`
    `github.com/dexopt/dexopt/internal/locator`
    `github.com/dexopt/dexopt/internal/meta`
    `github.com/dexopt/dexopt/internal/metrics`
    `github.com/dexopt/dexopt/internal/opts`
    `github.com/dexopt/dexopt/internal/switchequiv`
    `go.uber.org/zap`
)

// Report is the outcome of one optimizer run: every counter the passes
// emitted, keyed by short name.
type Report struct {
    Counters map[string]int64
}

// Counter returns a single counter, zero when the passes never touched
// it.
func (self *Report) Counter(name string) int64 {
    return self.Counters[name]
}

type _PassDescriptor struct {
    name string
    run  func(cfg *config, prog *meta.Program, met *metrics.Metrics)
}

var _Passes = [...]_PassDescriptor {
    { name: "ObjectEscape" , run: passObjectEscape },
    { name: "SwitchEquiv"  , run: passSwitchEquiv  },
    { name: "Locators"     , run: passLocators     },
}

func passObjectEscape(cfg *config, prog *meta.Program, met *metrics.Metrics) {
    escape.Run(prog, &cfg.opts, met, cfg.logger)
}

func passSwitchEquiv(cfg *config, prog *meta.Program, met *metrics.Metrics) {
    switchequiv.Run(prog, &cfg.opts, met, cfg.logger, cfg.hooks)
}

func passLocators(cfg *config, prog *meta.Program, met *metrics.Metrics) {
    locator.Emit(prog, &cfg.opts, met, cfg.logger)
}

// Optimize runs the whole pipeline over the program view, in pass
// order, each pass fully fenced before the next. The view is mutated
// in place, the report carries the counters.
func Optimize(prog *meta.Program, options ...Option) (*Report, error) {
    if prog == nil {
        return nil, ProgramError { Reason: "nil program view" }
    }

    /* assemble the configuration */
    cfg := &config {
        opts  : opts.GetDefaultOptions(),
        logger: zap.NewNop(),
    }
    for _, fn := range options {
        if err := fn(cfg); err != nil {
            return nil, err
        }
    }

    /* run the passes */
    met := metrics.New()
    for _, p := range _Passes {
        cfg.logger.Info("running pass", zap.String("pass", p.name))
        p.run(cfg, prog, met)
    }
    return &Report { Counters: met.Snapshot() }, nil
}
