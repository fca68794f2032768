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
    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/meta`
    `github.com/dexopt/dexopt/internal/metrics`
    `github.com/dexopt/dexopt/internal/opts`
    `github.com/oleiade/lane`
    `go.uber.org/zap`
)

/*
 * All selector arithmetic runs in tenth-units: body sizes are code
 * units times ten, the invoke, move-result and new-instance costs are
 * configured pre-scaled.
 */

type _Variant struct {
    red       *Reduced
    net       int64
    committed bool
    refs      []*_SelRef
}

// _SelRef is one reference whose retirement yields a benefit: the
// variant itself, a method that goes dead, or a whole class.
type _SelRef struct {
    idx     int
    benefit int64
    needs   []*_Variant
    version int
    done    bool
    method  ir.MethodRef
    class   ir.TypeRef
}

type _SelEntry struct {
    ref     *_SelRef
    version int
}

// Selection is the committed outcome of the profit walk.
type Selection struct {
    Chosen  []*Reduced
    Savings int64
    Dead    []ir.MethodRef
    Classes []ir.TypeRef
}

type _Selector struct {
    prog  *meta.Program
    conf  *opts.Options
    met   *metrics.Metrics
    log   *zap.Logger
    anch  *Anchors
    vars  []*_Variant
    byref map[ir.MethodRef]*_Variant
    users map[ir.MethodRef]map[ir.MethodRef]bool
    tuser map[ir.TypeRef]map[ir.MethodRef]bool
}

// Select walks the reference graph by marginal savings and commits the
// variants that realize the most profitable retirements, stopping at
// the configured threshold.
func Select(prog *meta.Program, anch *Anchors, reduced []*Reduced, conf *opts.Options, met *metrics.Metrics, log *zap.Logger) *Selection {
    self := &_Selector {
        prog : prog,
        conf : conf,
        met  : met,
        log  : log,
        anch : anch,
        byref: make(map[ir.MethodRef]*_Variant, len(reduced)),
    }

    /* per-variant net cost, replacing the root body is usually a win
     * on its own */
    for _, r := range reduced {
        v := &_Variant {
            red: r,
            net: tenths(int64(r.Body.CodeUnits())) - tenths(int64(prog.MethodAt(r.Root).Body.CodeUnits())),
        }
        self.vars = append(self.vars, v)
        self.byref[r.Root] = v
    }

    self.indexUsers()
    refs := self.buildRefs()
    savings := self.walk(refs)

    /* assemble the outcome */
    ret := &Selection { Savings: savings }
    for _, v := range self.vars {
        if v.committed {
            ret.Chosen = append(ret.Chosen, v.red)
        } else {
            self.met.Incr(FaultCostGlobally.Counter())
        }
    }
    for _, r := range refs {
        if !r.done {
            continue
        }
        if r.method != ir.MethodNone {
            ret.Dead = append(ret.Dead, r.method)
        }
        if r.class != ir.TypeNone {
            ret.Classes = append(ret.Classes, r.class)
        }
    }
    return ret
}

func tenths(units int64) int64 {
    return units * 10
}

// indexUsers records, for every method and type, the set of methods
// whose bodies reference it.
func (self *_Selector) indexUsers() {
    self.users = make(map[ir.MethodRef]map[ir.MethodRef]bool)
    self.tuser = make(map[ir.TypeRef]map[ir.MethodRef]bool)

    markm := func(m ir.MethodRef, by ir.MethodRef) {
        if self.users[m] == nil {
            self.users[m] = make(map[ir.MethodRef]bool)
        }
        self.users[m][by] = true
    }
    markt := func(t ir.TypeRef, by ir.MethodRef) {
        if self.tuser[t] == nil {
            self.tuser[t] = make(map[ir.MethodRef]bool)
        }
        self.tuser[t][by] = true
    }

    for _, ref := range self.prog.SortedMethods() {
        by := ref
        self.prog.MethodAt(ref).Body.ReversePostOrder(func(bb *ir.BasicBlock) {
            for _, v := range bb.Ins {
                switch p := v.(type) {
                    case *ir.IrNew        : markt(p.T, by)
                    case *ir.IrCheckCast  : markt(p.T, by)
                    case *ir.IrInstanceOf : markt(p.T, by)
                    case *ir.IrConstClass : markt(p.T, by)
                    case *ir.IrInitClass  : markt(p.T, by)
                    case *ir.IrIGet       : markt(self.prog.FieldAt(p.F).Owner, by)
                    case *ir.IrIPut       : markt(self.prog.FieldAt(p.F).Owner, by)
                    case *ir.IrSGet       : markt(self.prog.FieldAt(p.F).Owner, by)
                    case *ir.IrSPut       : markt(self.prog.FieldAt(p.F).Owner, by)

                    case *ir.IrInvoke: {
                        markt(self.prog.MethodAt(p.Ref).Owner, by)
                        if target, ok := self.prog.ResolveMethod(p.Ref); ok {
                            markm(target, by)
                        }
                    }
                }
            }
        })
    }
}

// stillCalls reports whether the variant body retains a resolved call
// to the method.
func (self *_Selector) stillCalls(v *_Variant, m ir.MethodRef) bool {
    found := false
    v.red.Body.ReversePostOrder(func(bb *ir.BasicBlock) {
        for _, q := range bb.Ins {
            if p, ok := q.(*ir.IrInvoke); ok {
                if target, ok := self.prog.ResolveMethod(p.Ref); ok && target == m {
                    found = true
                }
            }
        }
    })
    return found
}

// stillRefs reports whether the variant body retains any reference to
// the type or its members.
func (self *_Selector) stillRefs(v *_Variant, t ir.TypeRef) bool {
    found := false
    v.red.Body.ReversePostOrder(func(bb *ir.BasicBlock) {
        for _, q := range bb.Ins {
            switch p := q.(type) {
                case *ir.IrNew        : found = found || p.T == t
                case *ir.IrCheckCast  : found = found || p.T == t
                case *ir.IrInstanceOf : found = found || p.T == t
                case *ir.IrConstClass : found = found || p.T == t
                case *ir.IrIGet       : found = found || self.prog.FieldAt(p.F).Owner == t
                case *ir.IrIPut       : found = found || self.prog.FieldAt(p.F).Owner == t
                case *ir.IrInvoke     : found = found || self.prog.MethodAt(p.Ref).Owner == t
            }
        }
    })
    return found
}

// cover resolves which variants must commit for every user of the given
// referent to disappear. ok is false when some user is not a reduced
// root or its variant still carries the reference.
func (self *_Selector) cover(users map[ir.MethodRef]bool, retains func(*_Variant) bool, except ir.MethodRef) (needs []*_Variant, ok bool) {
    seen := make(map[*_Variant]bool)
    for u := range users {
        if u == except {
            continue
        }
        v := self.byref[u]
        if v == nil || retains(v) {
            return nil, false
        }
        if !seen[v] {
            seen[v] = true
            needs = append(needs, v)
        }
    }
    return needs, true
}

// buildRefs lays out the reference side of the bipartite graph.
func (self *_Selector) buildRefs() []*_SelRef {
    var refs []*_SelRef
    add := func(r *_SelRef) {
        r.idx = len(refs)
        refs = append(refs, r)
        for _, v := range r.needs {
            v.refs = append(v.refs, r)
        }
    }

    /* the variant itself, profitable when smaller than its root */
    for _, v := range self.vars {
        add(&_SelRef {
            benefit: 0,
            needs  : []*_Variant { v },
            method : ir.MethodNone,
            class  : ir.TypeNone,
        })
    }

    /* methods whose every caller is a committed variant go dead */
    deadset := make(map[ir.MethodRef]bool)
    for _, v := range self.vars {
        for _, m := range v.red.Removable {
            deadset[m] = true
        }
    }
    for m := range deadset {
        needs, ok := self.cover(self.users[m], func(v *_Variant) bool { return self.stillCalls(v, m) }, m)
        if !ok {
            continue
        }
        body := self.prog.MethodAt(m).Body
        benefit := tenths(self.conf.CostMethod)
        if body != nil {
            benefit += tenths(int64(body.CodeUnits()))
        }
        benefit += int64(len(self.users[m])) * (self.conf.CostInvoke + self.conf.CostMoveResult)
        add(&_SelRef {
            benefit: benefit,
            needs  : needs,
            method : m,
            class  : ir.TypeNone,
        })
    }

    /* whole classes of complete candidates */
    for _, c := range self.anch.Candidates() {
        if c.State == Incomplete {
            continue
        }
        users := make(map[ir.MethodRef]bool, len(self.tuser[c.Type]))
        for u := range self.tuser[c.Type] {
            /* the class's own methods die with it */
            if self.prog.MethodAt(u).Owner != c.Type {
                users[u] = true
            }
        }
        needs, ok := self.cover(users, func(v *_Variant) bool { return self.stillRefs(v, c.Type) }, ir.MethodNone)
        if !ok {
            continue
        }
        cl := self.prog.ClassOf(c.Type)
        benefit := tenths(self.conf.CostClass)
        benefit += int64(len(cl.IFields) + len(cl.SFields)) * tenths(self.conf.CostField)
        benefit += int64(c.Sites) * self.conf.CostNewInstance
        for _, mm := range [][]ir.MethodRef { cl.Direct, cl.Virtual } {
            for _, m := range mm {
                benefit += tenths(self.conf.CostMethod)
                if body := self.prog.MethodAt(m).Body; body != nil {
                    benefit += tenths(int64(body.CodeUnits()))
                }
            }
        }
        add(&_SelRef {
            benefit: benefit,
            needs  : needs,
            method : ir.MethodNone,
            class  : c.Type,
        })
    }
    return refs
}

func (self *_Selector) gain(r *_SelRef) int64 {
    ret := r.benefit
    for _, v := range r.needs {
        if !v.committed {
            ret -= v.net
        }
    }
    return ret
}

// priority folds the reference index into the low bits so that equal
// gains pop in a stable order.
func (self *_Selector) priority(g int64, idx int, total int) int {
    return int(g) * 4096 + (total - idx)
}

// walk pops references in marginal-savings order, committing the
// variants each one needs. Stale queue entries are skipped by version.
// The return value is the realized savings in code units.
func (self *_Selector) walk(refs []*_SelRef) int64 {
    pq := lane.NewPQueue(lane.MAXPQ)
    threshold := tenths(self.conf.SavingsThreshold)
    savings := int64(0)

    for _, r := range refs {
        pq.Push(&_SelEntry { ref: r, version: r.version }, self.priority(self.gain(r), r.idx, len(refs)))
    }

    for pq.Size() > 0 {
        item, _ := pq.Pop()
        e := item.(*_SelEntry)
        r := e.ref
        if r.done || e.version != r.version {
            continue
        }

        /* re-queue if the stored priority went stale upward in rank */
        g := self.gain(r)
        if cur := self.priority(g, r.idx, len(refs)); pq.Size() > 0 {
            if _, top := pq.Head(); cur < top {
                r.version++
                pq.Push(&_SelEntry { ref: r, version: r.version }, cur)
                continue
            }
        }

        /* below threshold retirements never commit */
        if g < threshold {
            continue
        }

        /* commit the needed variants and reprioritize the neighbors */
        r.done = true
        savings += g
        for _, v := range r.needs {
            if v.committed {
                continue
            }
            v.committed = true
            for _, r2 := range v.refs {
                if r2.done || r2 == r {
                    continue
                }
                r2.version++
                pq.Push(&_SelEntry { ref: r2, version: r2.version }, self.priority(self.gain(r2), r2.idx, len(refs)))
            }
        }
    }

    self.met.Add("total_savings", savings / 10)
    self.log.Debug("profit walk done", zap.Int64("savings", savings / 10))
    return savings / 10
}
