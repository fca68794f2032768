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

package escape

import (
    `sort`

    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/meta`
    `github.com/dexopt/dexopt/internal/metrics`
    `github.com/dexopt/dexopt/internal/opts`
    `go.uber.org/zap`
)

type Completeness uint8

const (
    Incomplete Completeness = iota
    CompleteSingleRoot
    CompleteMultiRoot
)

func (self Completeness) String() string {
    switch self {
        case Incomplete         : return "incomplete"
        case CompleteSingleRoot : return "complete-single-root"
        case CompleteMultiRoot  : return "complete-multi-root"
        default                 : panic("unreachable")
    }
}

// Candidate is one type whose allocations may be stackified, plus the
// root methods that carry anchored allocations of it.
type Candidate struct {
    Type  ir.TypeRef
    State Completeness
    Roots []ir.MethodRef
    Sites int
}

// Anchors is the per-type classification, the work list for the
// reducer.
type Anchors struct {
    prog  *meta.Program
    types map[ir.TypeRef]*Candidate
}

func (self *Anchors) Candidate(t ir.TypeRef) *Candidate {
    return self.types[t]
}

// Candidates returns every surviving candidate, sorted by type name so
// downstream phases iterate deterministically.
func (self *Anchors) Candidates() []*Candidate {
    ret := make([]*Candidate, 0, len(self.types))
    for _, c := range self.types {
        ret = append(ret, c)
    }
    sort.Slice(ret, func(i int, j int) bool {
        return self.prog.TypeAt(ret[i].Type).Name < self.prog.TypeAt(ret[j].Type).Name
    })
    return ret
}

// RootTypes maps each root method to the candidate types it anchors.
func (self *Anchors) RootTypes() map[ir.MethodRef][]ir.TypeRef {
    ret := make(map[ir.MethodRef][]ir.TypeRef)
    for _, c := range self.Candidates() {
        for _, r := range c.Roots {
            ret[r] = append(ret[r], c.Type)
        }
    }
    return ret
}

// Analyze walks every allocation fact and classifies candidate types
// as complete or incomplete. A type is complete only when every
// allocation of it in the program is anchored to a reduction root.
func Analyze(prog *meta.Program, sums *Summaries, conf *opts.Options, met *metrics.Metrics, log *zap.Logger) *Anchors {
    ret := &Anchors {
        prog : prog,
        types: make(map[ir.TypeRef]*Candidate),
    }

    demote := make(map[ir.TypeRef]bool)
    roots := make(map[ir.TypeRef]map[ir.MethodRef]bool)
    sites := make(map[ir.TypeRef]int)

    for _, ref := range prog.SortedMethods() {
        f := sums.Facts(ref)
        if f == nil {
            continue
        }
        m := prog.MethodAt(ref)
        for _, a := range f.Allocs {
            if !eligible(prog, a.Type) {
                continue
            }
            sites[a.Type]++

            /* opt-out owners taint the whole type */
            if prog.Excluded(m.Owner) {
                demote[a.Type] = true
                continue
            }

            switch {
                case a.Escapes || a.Poison: {
                    demote[a.Type] = true
                }

                /* a factory result reached through ambiguous dispatch
                 * cannot be accounted for */
                case a.Multi: {
                    demote[a.Type] = true
                }

                /* returned new-instances are covered by the caller's
                 * move-result site, unless the factory itself may be
                 * overridden */
                case a.Returned && a.New != nil: {
                    if m.Virtual && prog.HasOverrides(ref) {
                        demote[a.Type] = true
                    }
                }

                default: {
                    if roots[a.Type] == nil {
                        roots[a.Type] = make(map[ir.MethodRef]bool)
                    }
                    roots[a.Type][ref] = true
                }
            }
        }
    }

    /* assemble candidates */
    for t, rs := range roots {
        rr := make([]ir.MethodRef, 0, len(rs))
        for r := range rs {
            rr = append(rr, r)
        }
        sort.Slice(rr, func(i int, j int) bool {
            return prog.MethodDisplay(rr[i]) < prog.MethodDisplay(rr[j])
        })

        c := &Candidate { Type: t, Roots: rr, Sites: sites[t] }
        switch {
            case demote[t]      : c.State = Incomplete
            case len(rr) == 1   : c.State = CompleteSingleRoot
            default             : c.State = CompleteMultiRoot
        }

        /* incomplete candidates only stay when the delta gate admits
         * them, the sentinel threshold admits everything */
        if c.State == Incomplete && conf.IncompleteDeltaThreshold != opts.DisableIncompleteBranch {
            if int64(c.Sites) * conf.CostNewInstance < conf.IncompleteDeltaThreshold {
                continue
            }
        }

        ret.types[t] = c
        log.Debug("escape candidate",
            zap.String("type", prog.TypeAt(t).Name),
            zap.String("state", c.State.String()),
            zap.Int("roots", len(rr)),
            zap.Int("sites", c.Sites))
    }
    return ret
}

// eligible filters types whose class def the optimizer may erase or
// rewrite at will.
func eligible(prog *meta.Program, t ir.TypeRef) bool {
    cl := prog.ClassOf(t)
    if cl == nil || cl.External || cl.Keep != 0 || cl.Generated {
        return false
    }
    if prog.TypeAt(t).ArrayLevel > 0 {
        return false
    }
    return true
}
