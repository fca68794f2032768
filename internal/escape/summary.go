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
    `go.uber.org/zap`
    `gonum.org/v1/gonum/graph/simple`
    `gonum.org/v1/gonum/graph/topo`
)

// ParamState is the per-parameter escape lattice, ordered by severity
// so that merging is a max.
type ParamState uint8

const (
    ParamNoEscape ParamState = iota
    ParamReturned
    ParamEscapes
    ParamUnknown
)

func (self ParamState) String() string {
    switch self {
        case ParamNoEscape : return "no-escape"
        case ParamReturned : return "returned"
        case ParamEscapes  : return "escapes"
        case ParamUnknown  : return "unknown"
        default            : panic("unreachable")
    }
}

func mergeParam(a ParamState, b ParamState) ParamState {
    if a > b {
        return a
    } else {
        return b
    }
}

type ReturnKind uint8

const (
    RetNone ReturnKind = iota
    RetParam
    RetNew
    RetUnknown
)

type Summary struct {
    Params   []ParamState
    Ret      ReturnKind
    RetParam int
    RetType  ir.TypeRef
}

func (self *Summary) equal(other *Summary) bool {
    if self.Ret != other.Ret || self.RetParam != other.RetParam || self.RetType != other.RetType {
        return false
    }
    if len(self.Params) != len(other.Params) {
        return false
    }
    for i, p := range self.Params {
        if p != other.Params[i] {
            return false
        }
    }
    return true
}

func conservativeSummary(n int) Summary {
    ps := make([]ParamState, n)
    for i := range ps {
        ps[i] = ParamUnknown
    }
    return Summary { Params: ps, Ret: RetUnknown, RetParam: -1 }
}

func optimisticSummary(n int, void bool) Summary {
    ret := RetUnknown
    if void {
        ret = RetNone
    }
    return Summary { Params: make([]ParamState, n), Ret: ret, RetParam: -1 }
}

// AllocFacts describes one allocation site: either a new-instance, or
// the move-result that receives a freshly allocated object out of a
// factory call.
type AllocFacts struct {
    Type     ir.TypeRef
    Site     ir.IrNode
    New      *ir.IrNew
    Factory  ir.MethodRef
    Escapes  bool
    Returned bool
    Poison   bool
    Multi    bool
}

type MethodFacts struct {
    Sum    Summary
    Allocs []*AllocFacts
}

// Summaries is the fixpoint output, one lattice element per analyzed
// method. Methods without an entry answer conservatively.
type Summaries struct {
    prog *meta.Program
    m    map[ir.MethodRef]*MethodFacts
}

func newSummaries(prog *meta.Program) *Summaries {
    return &Summaries {
        prog: prog,
        m   : make(map[ir.MethodRef]*MethodFacts),
    }
}

func (self *Summaries) Of(ref ir.MethodRef) Summary {
    if f, ok := self.m[ref]; ok {
        return f.Sum
    }
    return conservativeSummary(self.prog.MethodAt(ref).NumParams())
}

func (self *Summaries) Facts(ref ir.MethodRef) *MethodFacts {
    return self.m[ref]
}

const (
    _FixpointCap = 4
)

// Compute runs the monotone fixpoint over the call graph, bottom-up on
// strongly connected components, widening to unknown past the
// iteration cap.
func Compute(prog *meta.Program, met *metrics.Metrics, log *zap.Logger) *Summaries {
    sums := newSummaries(prog)
    refs := prog.SortedMethods()
    an := &_Analyzer { prog: prog, sums: sums, met: met }

    /* the condensation graph wants callees before callers */
    g := simple.NewDirectedGraph()
    selfrec := make(map[ir.MethodRef]bool)
    for _, ref := range refs {
        if g.Node(int64(ref)) == nil {
            g.AddNode(simple.Node(int64(ref)))
        }
    }

    /* add resolved call edges */
    for _, ref := range refs {
        for _, callee := range an.callees(ref) {
            if callee == ref {
                selfrec[ref] = true
            } else if g.Node(int64(callee)) != nil {
                g.SetEdge(g.NewEdge(simple.Node(int64(ref)), simple.Node(int64(callee))))
            }
        }
    }

    /* seed optimistic summaries so the lattice only climbs */
    for _, ref := range refs {
        m := prog.MethodAt(ref)
        sums.m[ref] = &MethodFacts { Sum: optimisticSummary(m.NumParams(), m.Proto.Void()) }
    }

    /* process each component bottom-up */
    iters := int64(0)
    for _, scc := range topo.TarjanSCC(g) {
        comp := make([]ir.MethodRef, 0, len(scc))
        for _, n := range scc {
            comp = append(comp, ir.MethodRef(n.ID()))
        }
        sort.Slice(comp, func(i int, j int) bool { return comp[i] < comp[j] })

        /* non-recursive components settle in a single visit */
        cyclic := len(comp) > 1 || selfrec[comp[0]]
        for round := 0; ; round++ {
            changed := false
            iters++
            for _, ref := range comp {
                nf := an.analyze(ref)
                if !nf.Sum.equal(&sums.m[ref].Sum) {
                    changed = true
                }
                sums.m[ref] = nf
            }
            if !cyclic || !changed {
                break
            }

            /* fail open on recursion past the cap */
            if round >= _FixpointCap {
                for _, ref := range comp {
                    widen(prog, sums.m[ref], met)
                }
                log.Debug("summary fixpoint widened",
                    zap.Int("component", len(comp)),
                    zap.String("method", prog.MethodDisplay(comp[0])))
                break
            }
        }
    }

    met.Add("summary_iterations", iters)
    return sums
}

func widen(prog *meta.Program, f *MethodFacts, met *metrics.Metrics) {
    for i := range f.Sum.Params {
        f.Sum.Params[i] = ParamUnknown
    }
    f.Sum.Ret = RetUnknown
    f.Sum.RetParam = -1

    /* recursion cycles through allocation sites keep their uses */
    for _, a := range f.Allocs {
        if !a.Escapes {
            a.Escapes = true
            met.Incr(FaultRecursiveEscape.Counter())
        }
    }
}

type _AbsKind uint8

const (
    _VTop _AbsKind = iota
    _VParam
    _VAlloc
)

type _AbsVal struct {
    kind _AbsKind
    idx  int
    site ir.IrNode
}

func vtop() _AbsVal               { return _AbsVal { kind: _VTop } }
func vparam(i int) _AbsVal        { return _AbsVal { kind: _VParam, idx: i } }
func valloc(s ir.IrNode) _AbsVal  { return _AbsVal { kind: _VAlloc, site: s } }

func mergeVal(a _AbsVal, b _AbsVal) _AbsVal {
    if a == b {
        return a
    } else {
        return vtop()
    }
}

type _State map[ir.Reg]_AbsVal

func (self _State) clone() _State {
    ret := make(_State, len(self))
    for k, v := range self {
        ret[k] = v
    }
    return ret
}

func (self _State) join(other _State) (r _State, changed bool) {
    r = self
    for k, v := range other {
        if ov, ok := r[k]; !ok {
            r[k] = v
            changed = true
        } else if m := mergeVal(ov, v); m != ov {
            r[k] = m
            changed = true
        }
    }
    return
}

type _Analyzer struct {
    prog      *meta.Program
    sums      *Summaries
    met       *metrics.Metrics
    siteCache map[*ir.IrInvoke]ir.IrNode
}

// callees lists the resolved targets of every invoke in the body.
func (self *_Analyzer) callees(ref ir.MethodRef) []ir.MethodRef {
    var ret []ir.MethodRef
    body := self.prog.MethodAt(ref).Body
    body.ReversePostOrder(func(bb *ir.BasicBlock) {
        for _, v := range bb.Ins {
            if p, ok := v.(*ir.IrInvoke); ok {
                if target, ok := self.prog.ResolveMethod(p.Ref); ok {
                    if self.prog.MethodAt(target).Body != nil {
                        ret = append(ret, target)
                    }
                }
            }
        }
    })
    return ret
}

// analyze runs the intra-procedural symbolic heap walk and produces the
// method's summary plus per-allocation facts.
func (self *_Analyzer) analyze(ref ir.MethodRef) *MethodFacts {
    m := self.prog.MethodAt(ref)
    body := m.Body
    facts := &MethodFacts { Sum: optimisticSummary(m.NumParams(), m.Proto.Void()) }
    allocs := make(map[ir.IrNode]*AllocFacts)

    /* pair every invoke with its move-result up front so factory
     * allocation sites stay stable across dataflow rounds */
    self.siteCache = make(map[*ir.IrInvoke]ir.IrNode)
    body.ReversePostOrder(func(bb *ir.BasicBlock) {
        for i, v := range bb.Ins {
            if p, ok := v.(*ir.IrInvoke); ok && i + 1 < len(bb.Ins) {
                if mr, ok := bb.Ins[i + 1].(*ir.IrMoveResult); ok {
                    self.siteCache[p] = mr
                }
            }
        }
    })

    allocOf := func(v _AbsVal) *AllocFacts {
        if v.kind == _VAlloc {
            return allocs[v.site]
        }
        return nil
    }

    /* escape a tracked value */
    escape := func(v _AbsVal) {
        switch v.kind {
            case _VParam : facts.Sum.Params[v.idx] = mergeParam(facts.Sum.Params[v.idx], ParamEscapes)
            case _VAlloc : if a := allocOf(v); a != nil { a.Escapes = true }
        }
    }

    /* per-block input states, blocks revisited until stable */
    in := make(map[int]_State)
    in[body.Root.Id] = make(_State)
    work := []*ir.BasicBlock { body.Root }
    visits := make(map[int]int)
    capped := false

    /* return contributions, merged at the end */
    retKinds := make([]_AbsVal, 0, 4)
    retPlain := false

    for len(work) > 0 {
        bb := work[0]
        work = work[1:]

        /* bounded revisits, the lattice is finite so this is plenty */
        if visits[bb.Id]++; visits[bb.Id] > 8 {
            capped = true
            continue
        }

        st := in[bb.Id].clone()
        pending := vtop()

        for _, v := range bb.Ins {
            switch p := v.(type) {
                default: {
                    /* any opcode outside the benign set escapes its operands */
                    if use, ok := v.(ir.IrUsages); ok {
                        for _, r := range use.Usages() {
                            escape(st[*r])
                        }
                    }
                    if defs, ok := v.(ir.IrDefinations); ok {
                        for _, r := range defs.Definations() {
                            st[*r] = vtop()
                        }
                    }
                }

                case *ir.IrParam: {
                    st[p.R] = vparam(p.Id)
                }

                case *ir.IrConst: {
                    st[p.R] = vtop()
                }

                case *ir.IrConstString: {
                    st[p.R] = vtop()
                }

                case *ir.IrConstClass: {
                    st[p.R] = vtop()
                }

                case *ir.IrMove: {
                    st[p.R] = st[p.V]
                }

                case *ir.IrNew: {
                    if _, ok := allocs[p]; !ok {
                        allocs[p] = &AllocFacts { Type: p.T, Site: p, New: p, Factory: ir.MethodNone }
                    }
                    st[p.R] = valloc(p)
                }

                /* field reads keep the base tracked */
                case *ir.IrIGet: {
                    st[p.R] = vtop()
                }

                /* storing a tracked value into the heap escapes it */
                case *ir.IrIPut: {
                    escape(st[p.V])
                }

                case *ir.IrSGet: {
                    st[p.R] = vtop()
                }

                case *ir.IrSPut: {
                    escape(st[p.V])
                }

                /* no-op casts to a supertype are benign, anything else
                 * poisons an allocation and escapes a parameter */
                case *ir.IrCheckCast: {
                    switch w := st[p.V]; w.kind {
                        case _VParam: {
                            facts.Sum.Params[w.idx] = mergeParam(facts.Sum.Params[w.idx], ParamEscapes)
                        }
                        case _VAlloc: {
                            if a := allocOf(w); a != nil && !self.prog.IsAssignable(a.Type, p.T) {
                                a.Poison = true
                            }
                        }
                    }
                }

                case *ir.IrInstanceOf: {
                    st[p.R] = vtop()
                }

                case *ir.IrMonitor: {
                    /* benign on a tracked value */
                }

                case *ir.IrInitClass: {
                }

                case *ir.IrSentinel: {
                }

                case *ir.IrInvoke: {
                    pending = self.invoke(p, st, facts, allocs, escape)
                }

                case *ir.IrMoveResult: {
                    st[p.R] = pending
                    pending = vtop()
                }
            }
        }

        /* terminator effects */
        switch p := bb.Term.(type) {
            case *ir.TermThrow: {
                escape(st[p.V])
            }
            case *ir.TermReturn: {
                if p.V == ir.RegNone {
                    /* void, nothing to track */
                } else if !p.Object {
                    retPlain = true
                } else {
                    w := st[p.V]
                    retKinds = append(retKinds, w)
                    if w.kind == _VParam {
                        facts.Sum.Params[w.idx] = mergeParam(facts.Sum.Params[w.idx], ParamReturned)
                    } else if a := allocOf(w); a != nil {
                        a.Returned = true
                    }
                }
            }
        }

        /* propagate the out-state to every successor */
        for it := bb.Term.Successors(); it.Next(); {
            succ := it.Block()
            if old, ok := in[succ.Id]; !ok {
                in[succ.Id] = st.clone()
                work = append(work, succ)
            } else if merged, changed := old.join(st); changed {
                in[succ.Id] = merged
                work = append(work, succ)
            }
        }
    }

    /* merge the return contributions */
    self.mergeReturns(m, facts, allocs, retKinds, retPlain)

    /* export allocation facts in block order for determinism */
    body.ReversePostOrder(func(bb *ir.BasicBlock) {
        for _, v := range bb.Ins {
            if a, ok := allocs[v]; ok {
                facts.Allocs = append(facts.Allocs, a)
            }
        }
    })

    /* a block cut off at the revisit cap keeps a pre-fixpoint state, so
     * the method fails open instead of publishing optimistic facts */
    if capped {
        for i := range facts.Sum.Params {
            facts.Sum.Params[i] = ParamUnknown
        }
        facts.Sum.Ret = RetUnknown
        facts.Sum.RetParam = -1
        for _, a := range facts.Allocs {
            a.Escapes = true
        }
        self.met.Incr(FaultTooManyIterations.Counter())
    }
    return facts
}

// invoke consults the callee summary and taints arguments the callee
// escapes. The returned value is what a following move-result receives.
func (self *_Analyzer) invoke(p *ir.IrInvoke, st _State, facts *MethodFacts, allocs map[ir.IrNode]*AllocFacts, escape func(_AbsVal)) _AbsVal {
    target, ok := self.prog.ResolveMethod(p.Ref)

    /* callee resolution never silently drops references, an unresolved
     * target widens everything it touches */
    if !ok || self.prog.MethodAt(target).Body == nil {
        for _, r := range p.Args {
            escape(st[r])
        }
        if !ok {
            self.met.Incr(FaultUnresolvedReference.Counter())
        }
        return vtop()
    }

    /* calls into excluded classes escape every argument */
    callee := self.prog.MethodAt(target)
    if self.prog.Excluded(callee.Owner) {
        for _, r := range p.Args {
            escape(st[r])
        }
        return vtop()
    }

    /* taint arguments per the callee summary */
    csum := self.sums.Of(target)
    ret := vtop()
    for i, r := range p.Args {
        w := st[r]
        if w.kind == _VTop || i >= len(csum.Params) {
            continue
        }
        switch csum.Params[i] {
            case ParamNoEscape: {
            }
            case ParamReturned: {
                ret = w
            }
            case ParamEscapes, ParamUnknown: {
                escape(w)
            }
        }
    }

    /* explicit pass-through beats the taint scan */
    switch csum.Ret {
        case RetParam: {
            if csum.RetParam >= 0 && csum.RetParam < len(p.Args) {
                ret = st[p.Args[csum.RetParam]]
            }
        }

        /* a factory call materializes a fresh allocation here */
        case RetNew: {
            multi := self.multiCallee(p, target)
            ret = vtop()
            if node := self.resultSite(p); node != nil {
                if _, seen := allocs[node]; !seen {
                    allocs[node] = &AllocFacts {
                        Type    : csum.RetType,
                        Site    : node,
                        Factory : target,
                        Multi   : multi,
                    }
                }
                ret = valloc(node)
            }
        }
    }
    return ret
}

// resultSite finds the move-result paired with this invoke, if any.
func (self *_Analyzer) resultSite(p *ir.IrInvoke) ir.IrNode {
    return self.siteCache[p]
}

// multiCallee reports whether the invoke may dispatch to an override of
// the resolved target.
func (self *_Analyzer) multiCallee(p *ir.IrInvoke, target ir.MethodRef) bool {
    if p.Kind == ir.InvokeInterface {
        return true
    }
    if p.Kind != ir.InvokeVirtual {
        return false
    }
    return self.prog.HasOverrides(target)
}

func (self *_Analyzer) mergeReturns(m *meta.Method, facts *MethodFacts, allocs map[ir.IrNode]*AllocFacts, retKinds []_AbsVal, retPlain bool) {
    if m.Proto.Void() {
        facts.Sum.Ret = RetNone
        facts.Sum.RetParam = -1
        return
    }
    if retPlain || len(retKinds) == 0 {
        facts.Sum.Ret = RetUnknown
        facts.Sum.RetParam = -1
        return
    }

    /* all returns must agree on a single parameter or allocation type */
    first := retKinds[0]
    same := true
    for _, w := range retKinds[1:] {
        if w != first {
            same = false
            break
        }
    }

    switch {
        case same && first.kind == _VParam: {
            facts.Sum.Ret = RetParam
            facts.Sum.RetParam = first.idx
        }
        case first.kind == _VAlloc: {
            t := allocs[first.site].Type
            uniform := true
            for _, w := range retKinds {
                if w.kind != _VAlloc || allocs[w.site] == nil || allocs[w.site].Type != t {
                    uniform = false
                    break
                }
            }
            if uniform {
                facts.Sum.Ret = RetNew
                facts.Sum.RetType = t
            } else {
                facts.Sum.Ret = RetUnknown
            }
            facts.Sum.RetParam = -1
        }
        default: {
            facts.Sum.Ret = RetUnknown
            facts.Sum.RetParam = -1
        }
    }
}
