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
    `fmt`

    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/meta`
    `github.com/dexopt/dexopt/internal/metrics`
    `github.com/dexopt/dexopt/internal/opts`
    `github.com/dexopt/dexopt/internal/shrink`
    `go.uber.org/zap`
)

// Reduced is a working clone of a root method with every allocation of
// the chosen types stackified out.
type Reduced struct {
    Root       ir.MethodRef
    Name       string
    Types      []ir.TypeRef
    Body       *ir.CFG
    Eliminated int
    Inlined    int
    Removable  []ir.MethodRef
    Expanded   []*Expansion
}

type Reducer struct {
    prog *meta.Program
    sums *Summaries
    conf *opts.Options
    met  *metrics.Metrics
    log  *zap.Logger
    exp  *Expander
}

func NewReducer(prog *meta.Program, sums *Summaries, exp *Expander, conf *opts.Options, met *metrics.Metrics, log *zap.Logger) *Reducer {
    return &Reducer {
        prog: prog,
        sums: sums,
        conf: conf,
        met : met,
        log : log,
        exp : exp,
    }
}

// Reduce builds the stackified clone of root for the selected types, or
// reports the fault that made it impossible. The program view is never
// touched, commit happens elsewhere.
func (self *Reducer) Reduce(root ir.MethodRef, types []ir.TypeRef) (*Reduced, Fault) {
    sel := make(map[ir.TypeRef]bool, len(types))
    for _, t := range types {
        sel[t] = true
    }

    ret := &Reduced {
        Root : root,
        Types: types,
        Name : fmt.Sprintf("%s$oea$internal$%d", self.prog.MethodAt(root).Name, len(types)),
        Body : self.prog.MethodAt(root).Body.Clone(),
    }

    /* phase 1, surface every allocation in the clone */
    if fault := self.inlineAnchors(ret, sel); fault != FaultNone {
        self.met.Incr(fault.Counter())
        return nil, fault
    }

    /* phase 2, fold the field state into registers */
    sites := self.collectSites(ret.Body, sel)
    frame := self.allocFrames(ret.Body, sites, nil)
    if fault := self.expandOrInline(ret, sel, frame); fault != FaultNone {
        self.met.Incr(fault.Counter())
        return nil, fault
    }

    /* sites may have multiplied while inlining callees, expanded call
     * sites already carry the first frame's registers so those survive */
    sites = self.collectSites(ret.Body, sel)
    frame = self.allocFrames(ret.Body, sites, frame)
    if fault := self.stackify(ret, sel, sites, frame); fault != FaultNone {
        self.met.Incr(fault.Counter())
        return nil, fault
    }

    /* phase 3, clean the residue, allocation sites stay as they are */
    shrink.Shrink(ret.Body, shrink.Opts { KeepNewInstances: true })
    return ret, FaultNone
}

/* -------------------- object tracking -------------------- */

// trackIn computes, per block, the entry map from register to the
// unique allocation site it holds. Conflicting joins untrack.
func trackIn(cfg *ir.CFG, sel map[ir.TypeRef]bool) map[int]map[ir.Reg]*ir.IrNew {
    in := make(map[int]map[ir.Reg]*ir.IrNew)
    in[cfg.Root.Id] = make(map[ir.Reg]*ir.IrNew)
    work := []*ir.BasicBlock { cfg.Root }

    /* the join only ever deletes, so this terminates without a cap */
    for len(work) > 0 {
        bb := work[0]
        work = work[1:]

        st := make(map[ir.Reg]*ir.IrNew, len(in[bb.Id]))
        for k, v := range in[bb.Id] {
            st[k] = v
        }
        stepBlock(bb, sel, st, nil)

        for it := bb.Term.Successors(); it.Next(); {
            succ := it.Block()
            old, ok := in[succ.Id]
            if !ok {
                ns := make(map[ir.Reg]*ir.IrNew, len(st))
                for k, v := range st {
                    ns[k] = v
                }
                in[succ.Id] = ns
                work = append(work, succ)
                continue
            }
            changed := false
            for k, v := range old {
                if st[k] != v {
                    delete(old, k)
                    changed = true
                }
            }
            if changed {
                work = append(work, succ)
            }
        }
    }
    return in
}

// stepBlock advances the tracking state over one block, optionally
// invoking visit on every instruction with the state as of just before
// it.
func stepBlock(bb *ir.BasicBlock, sel map[ir.TypeRef]bool, st map[ir.Reg]*ir.IrNew, visit func(i int, st map[ir.Reg]*ir.IrNew)) {
    for i := 0; i < len(bb.Ins); i++ {
        if visit != nil {
            visit(i, st)
        }

        /* the visitor may splice the tail of the block away */
        if i >= len(bb.Ins) {
            break
        }
        v := bb.Ins[i]
        switch p := v.(type) {
            case *ir.IrNew: {
                if sel[p.T] {
                    st[p.R] = p
                } else {
                    delete(st, p.R)
                }
            }
            case *ir.IrMove: {
                if s, ok := st[p.V]; ok && p.Object {
                    st[p.R] = s
                } else {
                    delete(st, p.R)
                }
            }
            default: {
                if def, ok := v.(ir.IrDefinations); ok {
                    for _, r := range def.Definations() {
                        delete(st, *r)
                    }
                }
            }
        }
    }
}

/* -------------------- phase 1: inline anchors -------------------- */

// inlineAnchors repeatedly inlines factory callees whose fresh
// allocation is of a selected type, until every allocation site of the
// selected set sits in the clone itself.
func (self *Reducer) inlineAnchors(ret *Reduced, sel map[ir.TypeRef]bool) Fault {
    for round := 0; ; round++ {
        if round >= self.conf.MaxInlineInvokesIterations {
            return FaultTooManyIterations
        }
        if !self.inlineOneFactory(ret, sel) {
            return FaultNone
        }
    }
}

func (self *Reducer) inlineOneFactory(ret *Reduced, sel map[ir.TypeRef]bool) bool {
    for _, bb := range ret.Body.Blocks() {
        for i, v := range bb.Ins {
            p, ok := v.(*ir.IrInvoke)
            if !ok {
                continue
            }
            target, ok := self.prog.ResolveMethod(p.Ref)
            if !ok {
                continue
            }
            sum := self.sums.Of(target)
            if sum.Ret != RetNew || !sel[sum.RetType] {
                continue
            }
            if inlineCall(ret.Body, bb, i, p, self.prog.MethodAt(target)) {
                ret.Inlined++
                ret.Removable = append(ret.Removable, target)
                return true
            }
        }
    }
    return false
}

/* -------------------- phase 2: expand or inline -------------------- */

// expandOrInline lowers every invoke that still consumes a tracked
// object: callees that only field-read the object are redirected to an
// expanded sibling, everything else is inlined.
func (self *Reducer) expandOrInline(ret *Reduced, sel map[ir.TypeRef]bool, frame map[*ir.IrNew]map[ir.FieldRef]ir.Reg) Fault {
    for round := 0; ; round++ {
        if round >= self.conf.MaxInlineInvokesIterations {
            return FaultTooManyIterations
        }
        progress, fault := self.lowerOneInvoke(ret, sel, frame)
        if fault != FaultNone {
            return fault
        }
        if !progress {
            return FaultNone
        }
    }
}

func (self *Reducer) lowerOneInvoke(ret *Reduced, sel map[ir.TypeRef]bool, frame map[*ir.IrNew]map[ir.FieldRef]ir.Reg) (bool, Fault) {
    in := trackIn(ret.Body, sel)
    for _, bb := range ret.Body.Blocks() {
        st := make(map[ir.Reg]*ir.IrNew, len(in[bb.Id]))
        for k, v := range in[bb.Id] {
            st[k] = v
        }

        progress := false
        var fault Fault
        stepBlock(bb, sel, st, func(i int, st map[ir.Reg]*ir.IrNew) {
            if progress || fault != FaultNone {
                return
            }
            p, ok := bb.Ins[i].(*ir.IrInvoke)
            if !ok {
                return
            }

            /* collect the tracked argument positions */
            var tracked []int
            for ai, r := range p.Args {
                if st[r] != nil {
                    tracked = append(tracked, ai)
                }
            }
            if len(tracked) == 0 {
                return
            }

            progress = true
            fault = self.lowerInvoke(ret, bb, i, p, st, tracked, frame)
        })
        if fault != FaultNone || progress {
            return progress, fault
        }
    }
    return false, FaultNone
}

func (self *Reducer) lowerInvoke(ret *Reduced, bb *ir.BasicBlock, idx int, p *ir.IrInvoke, st map[ir.Reg]*ir.IrNew, tracked []int, frame map[*ir.IrNew]map[ir.FieldRef]ir.Reg) Fault {
    /* an inlined constructor leaves behind its chain into the external
     * superclass constructor. On a stackified instance that call does
     * nothing observable, so it just goes away */
    if self.isSuperInitMarker(p, tracked) {
        bb.RemoveAt(idx)
        return FaultNone
    }

    target, ok := self.prog.ResolveMethod(p.Ref)
    if !ok {
        return FaultUnresolvedReference
    }
    callee := self.prog.MethodAt(target)

    /* super dispatch and bodyless callees cannot be lowered at all */
    if p.Kind == ir.InvokeSuper || callee.Body == nil {
        return FaultInvokeSuperResidual
    }

    /* expansion wants exactly one tracked object that is only read */
    expandable := len(tracked) == 1 && self.wantsExpansion(callee, tracked)
    if len(tracked) > 1 && self.wantsExpansion(callee, tracked) {
        if !self.conf.CanInline(callee.Body.CodeUnits()) {
            self.met.Incr("invokes_not_inlinable_callee_too_many_params_to_expand")
        }
    }

    if expandable {
        if exp, fault := self.exp.Expand(target, tracked[0]); fault == FaultNone {
            self.rewriteExpanded(bb, idx, p, st, tracked[0], exp, frame)
            self.exp.MarkUsed(exp)
            ret.Expanded = append(ret.Expanded, exp)
            return FaultNone
        }
        /* refusal falls through to inlining, the root may still win */
    }

    if !inlineCall(ret.Body, bb, idx, p, callee) {
        return FaultInvokeSuperResidual
    }
    ret.Inlined++
    ret.Removable = append(ret.Removable, target)
    return FaultNone
}

// isSuperInitMarker matches a no-argument constructor chain into a
// bodyless superclass, applied to the tracked receiver itself.
func (self *Reducer) isSuperInitMarker(p *ir.IrInvoke, tracked []int) bool {
    if len(p.Args) != 1 || len(tracked) != 1 || tracked[0] != 0 {
        return false
    }
    if !self.prog.MethodAt(p.Ref).Constructor() {
        return false
    }
    target, ok := self.prog.ResolveMethod(p.Ref)
    return !ok || self.prog.MethodAt(target).Body == nil
}

// wantsExpansion decides expansion over inlining: constructors taking
// the tracked object, and oversized statics that only field-read it.
func (self *Reducer) wantsExpansion(callee *meta.Method, tracked []int) bool {
    for _, ai := range tracked {
        /* the receiver of the object's own methods is never expandable */
        if !callee.Static() && ai == 0 {
            return false
        }
        if _, ok := self.exp.ReadFields(callee, ai); !ok {
            return false
        }
    }
    if callee.Constructor() {
        return true
    }
    return callee.Static() && callee.Body != nil && !self.conf.CanInline(callee.Body.CodeUnits())
}

// rewriteExpanded swaps the call site over to the expanded sibling,
// passing the current field registers in place of the object.
func (self *Reducer) rewriteExpanded(bb *ir.BasicBlock, idx int, p *ir.IrInvoke, st map[ir.Reg]*ir.IrNew, ai int, exp *Expansion, frame map[*ir.IrNew]map[ir.FieldRef]ir.Reg) {
    site := st[p.Args[ai]]
    args := make([]ir.Reg, 0, len(p.Args) + len(exp.Fields) - 1)
    args = append(args, p.Args[:ai]...)
    for _, f := range exp.Fields {
        args = append(args, frame[site][f])
    }
    args = append(args, p.Args[ai + 1:]...)
    bb.Ins[idx] = &ir.IrInvoke {
        Kind: p.Kind,
        Ref : exp.Ref,
        Args: args,
    }
}

/* -------------------- phase 3: stackify -------------------- */

// collectSites lists every selected-type allocation left in the clone,
// in deterministic block order.
func (self *Reducer) collectSites(cfg *ir.CFG, sel map[ir.TypeRef]bool) []*ir.IrNew {
    var ret []*ir.IrNew
    cfg.ReversePostOrder(func(bb *ir.BasicBlock) {
        for _, v := range bb.Ins {
            if p, ok := v.(*ir.IrNew); ok && sel[p.T] {
                ret = append(ret, p)
            }
        }
    })
    return ret
}

// allocFrames gives each site one register per instance field of its
// class, inherited fields included. The registers are the object's
// whole state once stackified. Sites already present in prev keep
// their registers, only fresh sites draw new ones.
func (self *Reducer) allocFrames(cfg *ir.CFG, sites []*ir.IrNew, prev map[*ir.IrNew]map[ir.FieldRef]ir.Reg) map[*ir.IrNew]map[ir.FieldRef]ir.Reg {
    ret := make(map[*ir.IrNew]map[ir.FieldRef]ir.Reg, len(sites))
    for _, site := range sites {
        if fr, ok := prev[site]; ok {
            ret[site] = fr
            continue
        }
        fields := self.frameFields(site.T)
        fr := make(map[ir.FieldRef]ir.Reg, len(fields))
        for _, f := range fields {
            if self.prog.FieldAt(f).Wide {
                fr[f] = cfg.AllocWideReg()
            } else {
                fr[f] = cfg.AllocReg()
            }
        }
        ret[site] = fr
    }
    return ret
}

// frameFields lists every instance field a value of type t carries, own
// fields first, then up the super chain in declaration order.
func (self *Reducer) frameFields(t ir.TypeRef) []ir.FieldRef {
    var ret []ir.FieldRef
    for ; t != ir.TypeNone; t = self.prog.TypeAt(t).Super {
        cl := self.prog.ClassOf(t)
        if cl == nil {
            break
        }
        ret = append(ret, cl.IFields...)
    }
    return ret
}

// stackify rewrites every use of the tracked objects into register
// operations and turns each new-instance into the created flag.
func (self *Reducer) stackify(ret *Reduced, sel map[ir.TypeRef]bool, sites []*ir.IrNew, frame map[*ir.IrNew]map[ir.FieldRef]ir.Reg) Fault {
    in := trackIn(ret.Body, sel)

    zero := func(bb *ir.BasicBlock, at int, site *ir.IrNew) int {
        for _, f := range self.fieldOrder(site) {
            fd := self.prog.FieldAt(f)
            bb.InsertAt(at, &ir.IrConst { R: frame[site][f], Wide: fd.Wide })
            at++
        }
        return at
    }

    /* all frame registers start out zero */
    entry := ret.Body.Root
    head := 0
    for head < len(entry.Ins) {
        if _, ok := entry.Ins[head].(*ir.IrParam); !ok {
            break
        }
        head++
    }
    for _, site := range sites {
        head = zero(entry, head, site)
    }

    for _, bb := range ret.Body.Blocks() {
        st := make(map[ir.Reg]*ir.IrNew, len(in[bb.Id]))
        for k, v := range in[bb.Id] {
            st[k] = v
        }

        i := 0
        for i < len(bb.Ins) {
            switch p := bb.Ins[i].(type) {
                /* the object register becomes the created flag */
                case *ir.IrNew: {
                    if !sel[p.T] {
                        delete(st, p.R)
                        i++
                        break
                    }
                    st[p.R] = p
                    bb.Ins[i] = &ir.IrConst { R: p.R, V: 1 }
                    if cl := self.prog.ClassOf(p.T); cl.Clinit != ir.MethodNone && !cl.PureClinit {
                        bb.InsertAt(i, &ir.IrInitClass { T: p.T })
                        i++
                    }
                    ret.Eliminated++
                    i++
                }

                case *ir.IrMove: {
                    if s, ok := st[p.V]; ok && p.Object {
                        st[p.R] = s
                    } else {
                        delete(st, p.R)
                    }
                    i++
                }

                case *ir.IrIGet: {
                    if site := st[p.Obj]; site != nil {
                        fr, ok := frame[site][p.F]
                        if !ok {
                            return FaultUnresolvedReference
                        }
                        bb.Ins[i] = &ir.IrMove { R: p.R, V: fr, Object: p.Object, Wide: p.Wide }
                    }
                    delete(st, p.R)
                    i++
                }

                case *ir.IrIPut: {
                    if site := st[p.Obj]; site != nil {
                        fr, ok := frame[site][p.F]
                        if !ok {
                            return FaultUnresolvedReference
                        }
                        bb.Ins[i] = &ir.IrMove { R: fr, V: p.V, Object: p.Object, Wide: p.Wide }
                    }
                    i++
                }

                /* the answer is static once the allocated type is known */
                case *ir.IrInstanceOf: {
                    if site := st[p.V]; site != nil {
                        v := int64(0)
                        if self.prog.IsAssignable(site.T, p.T) {
                            v = 1
                        }
                        bb.Ins[i] = &ir.IrConst { R: p.R, V: v }
                    }
                    delete(st, p.R)
                    i++
                }

                case *ir.IrCheckCast: {
                    if site := st[p.V]; site != nil {
                        if !self.prog.IsAssignable(site.T, p.T) {
                            return FaultThrowingCheckCast
                        }
                        bb.RemoveAt(i)
                    } else {
                        i++
                    }
                }

                case *ir.IrMonitor: {
                    if st[p.V] != nil {
                        bb.RemoveAt(i)
                    } else {
                        i++
                    }
                }

                case *ir.IrSentinel: {
                    if st[p.V] != nil {
                        bb.RemoveAt(i)
                    } else {
                        i++
                    }
                }

                /* a null overwrite clears the flag and the field state */
                case *ir.IrConst: {
                    if site, ok := st[p.R]; ok && site != nil && p.V == 0 {
                        i = zero(bb, i + 1, site)
                        delete(st, p.R)
                    } else {
                        i++
                    }
                }

                case *ir.IrInvoke: {
                    for _, r := range p.Args {
                        if st[r] != nil {
                            return FaultInvokeSuperResidual
                        }
                    }
                    i++
                }

                default: {
                    if def, ok := bb.Ins[i].(ir.IrDefinations); ok {
                        for _, r := range def.Definations() {
                            delete(st, *r)
                        }
                    }
                    i++
                }
            }
        }

        /* residual returns of a stackified instance are fatal here */
        switch p := bb.Term.(type) {
            case *ir.TermReturn: {
                if p.V != ir.RegNone && p.Object && st[p.V] != nil {
                    return FaultReturnsObject
                }
            }
            case *ir.TermThrow: {
                if st[p.V] != nil {
                    return FaultReturnsObject
                }
            }
        }
    }

    ret.Body.Rebuild()
    return FaultNone
}

// fieldOrder iterates a site's frame registers in class declaration
// order so register numbers stay stable run to run.
func (self *Reducer) fieldOrder(site *ir.IrNew) []ir.FieldRef {
    return self.frameFields(site.T)
}
