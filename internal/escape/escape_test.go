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
    `testing`

    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/meta`
    `github.com/dexopt/dexopt/internal/metrics`
    `github.com/dexopt/dexopt/internal/opts`
    `github.com/stretchr/testify/require`
    `go.uber.org/zap`
)

// _Fixture is a tiny program view: a Box value class with one int field
// and a constructor, plus a Main holder that test methods attach to.
type _Fixture struct {
    prog *meta.Program
    box  ir.TypeRef
    main ir.TypeRef
    fv   ir.FieldRef
    ctor ir.MethodRef
}

func newFixture() *_Fixture {
    prog := meta.NewProgram()
    box := prog.InternType("Lsample/Box;")
    main := prog.InternType("Lsample/Main;")
    fv := prog.InternField(&meta.Field { Owner: box, Name: "v", Type: prog.InternType("I") })

    /* Box.<init>(I)V stores its argument into the field */
    b0 := &ir.BasicBlock { Id: 0 }
    b0.Ins = []ir.IrNode {
        &ir.IrParam { R: 0, Id: 0, Object: true },
        &ir.IrParam { R: 1, Id: 1 },
        &ir.IrIPut  { V: 1, Obj: 0, F: fv },
    }
    b0.Term = &ir.TermReturn { V: ir.RegNone }
    ctor := prog.InternMethod(&meta.Method {
        Owner : box,
        Name  : "<init>",
        Proto : meta.Proto { Ret: ir.TypeNone, Args: []ir.TypeRef { prog.InternType("I") } },
        Access: meta.AccPublic | meta.AccConstructor,
        Body  : ir.NewCFG(b0),
    })

    prog.AddClass(&meta.Class { Type: box, Direct: []ir.MethodRef { ctor }, IFields: []ir.FieldRef { fv }, Clinit: ir.MethodNone })
    prog.AddClass(&meta.Class { Type: main, Clinit: ir.MethodNone })
    return &_Fixture { prog: prog, box: box, main: main, fv: fv, ctor: ctor }
}

// addStatic attaches a static method with the given body to Main.
func (self *_Fixture) addStatic(name string, proto meta.Proto, body *ir.CFG) ir.MethodRef {
    ref := self.prog.InternMethod(&meta.Method {
        Owner : self.main,
        Name  : name,
        Proto : proto,
        Access: meta.AccPublic | meta.AccStatic,
        Body  : body,
    })
    cl := self.prog.ClassOf(self.main)
    cl.Direct = append(cl.Direct, ref)
    return ref
}

// addUse attaches "use()I": new Box(7), read the field back, return it.
func (self *_Fixture) addUse() ir.MethodRef {
    b0 := &ir.BasicBlock { Id: 0 }
    b0.Ins = []ir.IrNode {
        &ir.IrNew    { R: 0, T: self.box },
        &ir.IrConst  { R: 1, V: 7 },
        &ir.IrInvoke { Kind: ir.InvokeDirect, Ref: self.ctor, Args: []ir.Reg { 0, 1 } },
        &ir.IrIGet   { R: 2, Obj: 0, F: self.fv },
    }
    b0.Term = &ir.TermReturn { V: 2 }
    return self.addStatic("use", meta.Proto { Ret: self.prog.InternType("I") }, ir.NewCFG(b0))
}

// addMake attaches the factory "make()LBox;".
func (self *_Fixture) addMake() ir.MethodRef {
    b0 := &ir.BasicBlock { Id: 0 }
    b0.Ins = []ir.IrNode {
        &ir.IrNew    { R: 0, T: self.box },
        &ir.IrConst  { R: 1, V: 7 },
        &ir.IrInvoke { Kind: ir.InvokeDirect, Ref: self.ctor, Args: []ir.Reg { 0, 1 } },
    }
    b0.Term = &ir.TermReturn { V: 0, Object: true }
    return self.addStatic("make", meta.Proto { Ret: self.box }, ir.NewCFG(b0))
}

func (self *_Fixture) compute(t *testing.T) (*Summaries, *metrics.Metrics) {
    met := metrics.New()
    return Compute(self.prog, met, zap.NewNop()), met
}

func bodyHas(cfg *ir.CFG, pred func(ir.IrNode) bool) bool {
    found := false
    cfg.ReversePostOrder(func(bb *ir.BasicBlock) {
        for _, v := range bb.Ins {
            if pred(v) {
                found = true
            }
        }
    })
    return found
}

func isNew(v ir.IrNode) bool    { _, ok := v.(*ir.IrNew)    ; return ok }
func isIGet(v ir.IrNode) bool   { _, ok := v.(*ir.IrIGet)   ; return ok }
func isIPut(v ir.IrNode) bool   { _, ok := v.(*ir.IrIPut)   ; return ok }
func isInvoke(v ir.IrNode) bool { _, ok := v.(*ir.IrInvoke) ; return ok }

/* -------------------- summaries -------------------- */

func TestSummary_Constructor(t *testing.T) {
    fx := newFixture()
    sums, _ := fx.compute(t)

    s := sums.Of(fx.ctor)
    require.Equal(t, []ParamState { ParamNoEscape, ParamNoEscape }, s.Params)
    require.Equal(t, RetNone, s.Ret)
}

func TestSummary_ReturnedParam(t *testing.T) {
    fx := newFixture()
    b0 := &ir.BasicBlock { Id: 0 }
    b0.Ins = []ir.IrNode { &ir.IrParam { R: 0, Id: 0, Object: true } }
    b0.Term = &ir.TermReturn { V: 0, Object: true }
    id := fx.addStatic("id", meta.Proto { Ret: fx.box, Args: []ir.TypeRef { fx.box } }, ir.NewCFG(b0))

    sums, _ := fx.compute(t)
    s := sums.Of(id)
    require.Equal(t, ParamReturned, s.Params[0])
    require.Equal(t, RetParam, s.Ret)
    require.Equal(t, 0, s.RetParam)
}

func TestSummary_EscapedParam(t *testing.T) {
    fx := newFixture()
    sf := fx.prog.InternField(&meta.Field { Owner: fx.main, Name: "last", Type: fx.box, Static: true, Object: true })
    fx.prog.ClassOf(fx.main).SFields = append(fx.prog.ClassOf(fx.main).SFields, sf)

    b0 := &ir.BasicBlock { Id: 0 }
    b0.Ins = []ir.IrNode {
        &ir.IrParam { R: 0, Id: 0, Object: true },
        &ir.IrSPut  { V: 0, F: sf, Object: true },
    }
    b0.Term = &ir.TermReturn { V: ir.RegNone }
    leak := fx.addStatic("leak", meta.Proto { Ret: ir.TypeNone, Args: []ir.TypeRef { fx.box } }, ir.NewCFG(b0))

    sums, _ := fx.compute(t)
    require.Equal(t, ParamEscapes, sums.Of(leak).Params[0])
}

func TestSummary_Factory(t *testing.T) {
    fx := newFixture()
    mk := fx.addMake()

    sums, _ := fx.compute(t)
    s := sums.Of(mk)
    require.Equal(t, RetNew, s.Ret)
    require.Equal(t, fx.box, s.RetType)

    f := sums.Facts(mk)
    require.Len(t, f.Allocs, 1)
    require.True(t, f.Allocs[0].Returned)
    require.False(t, f.Allocs[0].Escapes)
    require.NotNil(t, f.Allocs[0].New)
}

func TestSummary_CalleeTaint(t *testing.T) {
    fx := newFixture()
    sf := fx.prog.InternField(&meta.Field { Owner: fx.main, Name: "last", Type: fx.box, Static: true, Object: true })
    fx.prog.ClassOf(fx.main).SFields = append(fx.prog.ClassOf(fx.main).SFields, sf)

    l0 := &ir.BasicBlock { Id: 0 }
    l0.Ins = []ir.IrNode {
        &ir.IrParam { R: 0, Id: 0, Object: true },
        &ir.IrSPut  { V: 0, F: sf, Object: true },
    }
    l0.Term = &ir.TermReturn { V: ir.RegNone }
    leak := fx.addStatic("leak", meta.Proto { Ret: ir.TypeNone, Args: []ir.TypeRef { fx.box } }, ir.NewCFG(l0))

    /* the local allocation flows into a leaking callee */
    b0 := &ir.BasicBlock { Id: 0 }
    b0.Ins = []ir.IrNode {
        &ir.IrNew    { R: 0, T: fx.box },
        &ir.IrConst  { R: 1, V: 7 },
        &ir.IrInvoke { Kind: ir.InvokeDirect, Ref: fx.ctor, Args: []ir.Reg { 0, 1 } },
        &ir.IrInvoke { Kind: ir.InvokeStatic, Ref: leak, Args: []ir.Reg { 0 } },
    }
    b0.Term = &ir.TermReturn { V: ir.RegNone }
    caller := fx.addStatic("caller", meta.Proto { Ret: ir.TypeNone }, ir.NewCFG(b0))

    sums, _ := fx.compute(t)
    f := sums.Facts(caller)
    require.Len(t, f.Allocs, 1)
    require.True(t, f.Allocs[0].Escapes)
}

func TestSummary_RevisitCapWidens(t *testing.T) {
    fx := newFixture()
    sf := fx.prog.InternField(&meta.Field { Owner: fx.main, Name: "last", Type: fx.box, Static: true, Object: true })
    fx.prog.ClassOf(fx.main).SFields = append(fx.prog.ClassOf(fx.main).SFields, sf)

    /* the allocation crawls down a long move chain one loop pass at a
     * time, well past the revisit cap, before leaking out. A capped
     * analysis must widen, not publish the optimistic state */
    b0 := &ir.BasicBlock { Id: 0 }
    b1 := &ir.BasicBlock { Id: 1 }
    b2 := &ir.BasicBlock { Id: 2 }

    b0.Ins = []ir.IrNode {
        &ir.IrParam { R: 0, Id: 0 },
        &ir.IrNew   { R: 1, T: fx.box },
    }
    b0.Term = &ir.TermGoto { To: b1 }

    for r := ir.Reg(12); r >= 2; r-- {
        b1.Ins = append(b1.Ins, &ir.IrMove { R: r, V: r - 1, Object: true })
    }
    b1.Term = &ir.TermIf { Op: ir.IfEq, A: 0, B: ir.RegNone, T: b2, F: b1 }

    b2.Ins = []ir.IrNode { &ir.IrSPut { V: 12, F: sf, Object: true } }
    b2.Term = &ir.TermReturn { V: ir.RegNone }

    cfg := ir.NewCFG(b0)
    cfg.MaxBlock = 3
    cfg.Rebuild()
    spin := fx.addStatic("spin", meta.Proto { Ret: ir.TypeNone, Args: []ir.TypeRef { fx.prog.InternType("I") } }, cfg)

    sums, met := fx.compute(t)
    f := sums.Facts(spin)
    require.Len(t, f.Allocs, 1)
    require.True(t, f.Allocs[0].Escapes)
    require.GreaterOrEqual(t, met.Get(FaultTooManyIterations.Counter()), int64(1))
}

func TestSummary_Deterministic(t *testing.T) {
    fx := newFixture()
    use := fx.addUse()
    mk := fx.addMake()

    a, _ := fx.compute(t)
    b, _ := fx.compute(t)
    for _, ref := range []ir.MethodRef { fx.ctor, use, mk } {
        require.Equal(t, a.Of(ref), b.Of(ref))
    }
}

/* -------------------- anchors -------------------- */

func TestAnchors_CompleteSingleRoot(t *testing.T) {
    fx := newFixture()
    use := fx.addUse()
    sums, met := fx.compute(t)

    conf := opts.GetDefaultOptions()
    anch := Analyze(fx.prog, sums, &conf, met, zap.NewNop())

    c := anch.Candidate(fx.box)
    require.NotNil(t, c)
    require.Equal(t, CompleteSingleRoot, c.State)
    require.Equal(t, []ir.MethodRef { use }, c.Roots)
    require.Equal(t, 1, c.Sites)
    require.Equal(t, []ir.TypeRef { fx.box }, anch.RootTypes()[use])
}

func TestAnchors_EscapeDemotes(t *testing.T) {
    fx := newFixture()
    use := fx.addUse()
    sf := fx.prog.InternField(&meta.Field { Owner: fx.main, Name: "last", Type: fx.box, Static: true, Object: true })
    fx.prog.ClassOf(fx.main).SFields = append(fx.prog.ClassOf(fx.main).SFields, sf)

    /* a second allocation that escapes through a static field */
    b0 := &ir.BasicBlock { Id: 0 }
    b0.Ins = []ir.IrNode {
        &ir.IrNew    { R: 0, T: fx.box },
        &ir.IrConst  { R: 1, V: 7 },
        &ir.IrInvoke { Kind: ir.InvokeDirect, Ref: fx.ctor, Args: []ir.Reg { 0, 1 } },
        &ir.IrSPut   { V: 0, F: sf, Object: true },
    }
    b0.Term = &ir.TermReturn { V: ir.RegNone }
    fx.addStatic("stash", meta.Proto { Ret: ir.TypeNone }, ir.NewCFG(b0))

    sums, met := fx.compute(t)

    /* the sentinel threshold keeps the incomplete candidate */
    conf := opts.GetDefaultOptions()
    anch := Analyze(fx.prog, sums, &conf, met, zap.NewNop())
    c := anch.Candidate(fx.box)
    require.NotNil(t, c)
    require.Equal(t, Incomplete, c.State)
    require.Equal(t, []ir.MethodRef { use }, c.Roots)

    /* a real threshold gates it out */
    conf.IncompleteDeltaThreshold = 1 << 30
    anch = Analyze(fx.prog, sums, &conf, met, zap.NewNop())
    require.Nil(t, anch.Candidate(fx.box))
}

func TestAnchors_KeepExcludes(t *testing.T) {
    fx := newFixture()
    fx.addUse()
    fx.prog.ClassOf(fx.box).Keep = meta.KeepReflection

    sums, met := fx.compute(t)
    conf := opts.GetDefaultOptions()
    anch := Analyze(fx.prog, sums, &conf, met, zap.NewNop())
    require.Nil(t, anch.Candidate(fx.box))
    require.Empty(t, anch.Candidates())
}
