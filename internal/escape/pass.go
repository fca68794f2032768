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

// Package escape eliminates non-escaping object allocations across
// method boundaries: allocation sites are surfaced by inlining, their
// field state is folded into registers, and a profit walk decides which
// rewritten methods actually commit.
package escape

import (
    `sort`
    `sync`

    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/meta`
    `github.com/dexopt/dexopt/internal/metrics`
    `github.com/dexopt/dexopt/internal/opts`
    `github.com/dexopt/dexopt/internal/pool`
    `go.uber.org/zap`
)

// Run executes the whole pass over the program view. Each numbered
// phase is fenced: it completes on every method before the next phase
// observes anything.
func Run(prog *meta.Program, conf *opts.Options, met *metrics.Metrics, log *zap.Logger) {
    /* phase 1, whole-program summaries and anchor classification */
    sums := Compute(prog, met, log)
    anch := Analyze(prog, sums, conf, met, log)

    /* phase 2, reduce every root in parallel */
    roots := anch.RootTypes()
    order := make([]ir.MethodRef, 0, len(roots))
    for r := range roots {
        order = append(order, r)
    }
    sort.Slice(order, func(i int, j int) bool {
        return prog.MethodDisplay(order[i]) < prog.MethodDisplay(order[j])
    })
    met.Add("root_methods", int64(len(order)))

    exp := NewExpander(prog)
    red := NewReducer(prog, sums, exp, conf, met, log)

    var mu sync.Mutex
    reduced := make([]*Reduced, 0, len(order))
    pool.RunN(conf.Workers, len(order), func(i int) {
        types := roots[order[i]]
        if r, fault := red.Reduce(order[i], types); fault == FaultNone {
            mu.Lock()
            reduced = append(reduced, r)
            mu.Unlock()
        }
    })
    sort.Slice(reduced, func(i int, j int) bool { return reduced[i].Name < reduced[j].Name })
    met.Add("reduced_methods", int64(len(reduced)))

    /* phase 3, pick the profitable subset */
    sel := Select(prog, anch, reduced, conf, met, log)
    met.Add("selected_reduced_methods", int64(len(sel.Chosen)))

    /* phase 4, commit */
    commit(prog, sel, exp, conf, met, log)
}

// commit swaps the chosen bodies in, erases what went dead and gives
// every used expansion a concrete body.
func commit(prog *meta.Program, sel *Selection, exp *Expander, conf *opts.Options, met *metrics.Metrics, log *zap.Logger) {
    inlined := int64(0)
    eliminated := int64(0)
    covered := make(map[ir.MethodRef]bool)

    for _, r := range sel.Chosen {
        prog.SwapBody(r.Root, r.Body)
        inlined += int64(r.Inlined)
        eliminated += int64(r.Eliminated)
        for _, m := range r.Removable {
            covered[m] = true
        }
        log.Debug("committed reduction",
            zap.String("method", prog.MethodDisplay(r.Root)),
            zap.String("variant", r.Name),
            zap.Int("eliminated", r.Eliminated))
    }
    met.Add("calls_inlined", inlined)
    met.Add("new_instances_eliminated", eliminated)

    /* dead classes go away wholesale, their methods with them */
    for _, t := range sel.Classes {
        if cl := prog.ClassOf(t); cl != nil {
            for _, mm := range [][]ir.MethodRef { cl.Direct, cl.Virtual } {
                for _, m := range mm {
                    prog.MethodAt(m).Body = nil
                    prog.MethodAt(m).External = true
                }
            }
        }
        prog.RemoveClass(t)
    }

    /* dead methods are unlinked one by one */
    removed := int64(0)
    for _, m := range sel.Dead {
        if prog.ClassOf(prog.MethodAt(m).Owner) == nil {
            removed++
            continue
        }
        if !prog.MethodAt(m).Virtual {
            prog.RemoveDirectMethod(m)
            removed++
        }
    }
    met.Add("inlined_methods_removed", removed)

    /* inlined callees someone else still calls stay behind */
    kept := int64(0)
    dead := make(map[ir.MethodRef]bool, len(sel.Dead))
    for _, m := range sel.Dead {
        dead[m] = true
    }
    for m := range covered {
        if !dead[m] {
            kept++
        }
    }
    met.Add("inlinable_methods_kept", kept)

    exp.Materialize(conf.Workers, met, log)
}
