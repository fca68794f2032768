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

// Package tests runs the whole optimizer pipeline over programs large
// enough to exercise every pass in one go.
package tests

import (
    `fmt`
    `testing`

    `github.com/davecgh/go-spew/spew`
    `github.com/dexopt/dexopt`
    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/meta`
    `github.com/stretchr/testify/require`
)

const _NumBoxes = 3

func dumpval(v interface{}) string {
    c := spew.NewDefaultConfig()
    c.SortKeys = true
    c.SpewKeys = true
    c.DisablePointerAddresses = true
    return c.Sdump(v)
}

// buildWorkload assembles one Main holder with a value class per slot,
// a consumer per value class and a branch chain ripe for the switch
// rewriter, then lays everything out in a single store.
func buildWorkload() (*meta.Program, []ir.TypeRef) {
    prog := meta.NewProgram()
    main := prog.InternType("Lwork/Main;")
    intT := prog.InternType("I")
    mcl := &meta.Class { Type: main, Clinit: ir.MethodNone }
    prog.AddClass(mcl)

    boxes := make([]ir.TypeRef, 0, _NumBoxes)
    for i := 0; i < _NumBoxes; i++ {
        box := prog.InternType(fmt.Sprintf("Lwork/Box%d;", i))
        fv := prog.InternField(&meta.Field { Owner: box, Name: "v", Type: intT })

        c0 := &ir.BasicBlock { Id: 0 }
        c0.Ins = []ir.IrNode {
            &ir.IrParam { R: 0, Id: 0, Object: true },
            &ir.IrParam { R: 1, Id: 1 },
            &ir.IrIPut  { V: 1, Obj: 0, F: fv },
        }
        c0.Term = &ir.TermReturn { V: ir.RegNone }
        ctor := prog.InternMethod(&meta.Method {
            Owner : box,
            Name  : "<init>",
            Proto : meta.Proto { Ret: ir.TypeNone, Args: []ir.TypeRef { intT } },
            Access: meta.AccPublic | meta.AccConstructor,
            Body  : ir.NewCFG(c0),
        })
        prog.AddClass(&meta.Class { Type: box, Direct: []ir.MethodRef { ctor }, IFields: []ir.FieldRef { fv }, Clinit: ir.MethodNone })

        u0 := &ir.BasicBlock { Id: 0 }
        u0.Ins = []ir.IrNode {
            &ir.IrNew    { R: 0, T: box },
            &ir.IrConst  { R: 1, V: int64(i * 100) },
            &ir.IrInvoke { Kind: ir.InvokeDirect, Ref: ctor, Args: []ir.Reg { 0, 1 } },
            &ir.IrIGet   { R: 2, Obj: 0, F: fv },
        }
        u0.Term = &ir.TermReturn { V: 2 }
        use := prog.InternMethod(&meta.Method {
            Owner : main,
            Name  : fmt.Sprintf("use%d", i),
            Proto : meta.Proto { Ret: intT },
            Access: meta.AccPublic | meta.AccStatic,
            Body  : ir.NewCFG(u0),
        })
        mcl.Direct = append(mcl.Direct, use)
        boxes = append(boxes, box)
    }

    /* the ladder the switch rewriter should fold */
    b0 := &ir.BasicBlock { Id: 0 }
    b1 := &ir.BasicBlock { Id: 1 }
    l0 := &ir.BasicBlock { Id: 2 }
    l1 := &ir.BasicBlock { Id: 3 }
    df := &ir.BasicBlock { Id: 4 }
    b0.Ins = []ir.IrNode { &ir.IrParam { R: 0, Id: 0 } }
    b0.Term = &ir.TermIf { Op: ir.IfNe, A: 0, B: ir.RegNone, T: b1, F: l0 }
    b1.Ins = []ir.IrNode { &ir.IrConst { R: 1, V: 1 } }
    b1.Term = &ir.TermIf { Op: ir.IfNe, A: 0, B: 1, T: df, F: l1 }
    for _, leaf := range []*ir.BasicBlock { l0, l1, df } {
        leaf.Ins = []ir.IrNode { &ir.IrBinary { Op: ir.OpAdd, R: 2, X: 0, Y: 0 } }
        leaf.Term = &ir.TermReturn { V: 2 }
    }
    body := ir.NewCFG(b0)
    body.MaxBlock = 5
    body.Rebuild()
    dispatch := prog.InternMethod(&meta.Method {
        Owner : main,
        Name  : "dispatch",
        Proto : meta.Proto { Ret: intT, Args: []ir.TypeRef { intT } },
        Access: meta.AccPublic | meta.AccStatic,
        Body  : body,
    })
    mcl.Direct = append(mcl.Direct, dispatch)

    classes := append([]ir.TypeRef { main }, boxes...)
    prog.Stores = []*meta.Store {
        { Name: "base", Dexes: []*meta.Dex { { Classes: classes } } },
    }
    return prog, boxes
}

func TestPipeline_FullRun(t *testing.T) {
    prog, boxes := buildWorkload()
    before := prog.CodeUnits()

    rep, err := dexopt.Optimize(prog)
    require.NoError(t, err)

    msg := dumpval(rep.Counters)
    require.Equal(t, int64(_NumBoxes), rep.Counter("new_instances_eliminated"), msg)
    require.Equal(t, int64(_NumBoxes), rep.Counter("inlined_methods_removed"), msg)
    require.Equal(t, int64(1), rep.Counter("switch_chains_rewritten"), msg)

    /* the value classes are gone, the holder survives with a locator */
    for _, box := range boxes {
        require.Nil(t, prog.ClassOf(box))
    }
    require.Equal(t, int64(1), rep.Counter("locators_emitted"), msg)
    require.NotEqual(t, ir.StringNone, prog.ClassOf(prog.InternType("Lwork/Main;")).Locator)

    require.Less(t, prog.CodeUnits(), before)
}

func TestPipeline_Deterministic(t *testing.T) {
    p1, _ := buildWorkload()
    p2, _ := buildWorkload()

    r1, err := dexopt.Optimize(p1)
    require.NoError(t, err)
    r2, err := dexopt.Optimize(p2)
    require.NoError(t, err)

    require.Equal(t, dumpval(r1.Counters), dumpval(r2.Counters))
    require.Equal(t, p1.CodeUnits(), p2.CodeUnits())
}

func TestPipeline_ThresholdHoldsEverything(t *testing.T) {
    prog, boxes := buildWorkload()
    before := prog.CodeUnits()

    rep, err := dexopt.Optimize(prog,
        dexopt.WithSavingsThreshold(1 << 20),
        dexopt.WithEmitLocators(false))
    require.NoError(t, err)

    require.Equal(t, int64(0), rep.Counter("new_instances_eliminated"), dumpval(rep.Counters))
    for _, box := range boxes {
        require.NotNil(t, prog.ClassOf(box))
    }

    /* the switch rewrite is threshold-free and may still shrink */
    require.LessOrEqual(t, prog.CodeUnits(), before)
}
