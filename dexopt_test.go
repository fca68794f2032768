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
    `testing`

    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/meta`
    `github.com/stretchr/testify/require`
)

// boxProgram is the canonical elimination target: a Box value class
// whose only use constructs it, reads the field back and drops it.
func boxProgram() (*meta.Program, ir.TypeRef, *ir.CFG) {
    prog := meta.NewProgram()
    box := prog.InternType("Lsample/Box;")
    main := prog.InternType("Lsample/Main;")
    fv := prog.InternField(&meta.Field { Owner: box, Name: "v", Type: prog.InternType("I") })

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

    u0 := &ir.BasicBlock { Id: 0 }
    u0.Ins = []ir.IrNode {
        &ir.IrNew    { R: 0, T: box },
        &ir.IrConst  { R: 1, V: 7 },
        &ir.IrInvoke { Kind: ir.InvokeDirect, Ref: ctor, Args: []ir.Reg { 0, 1 } },
        &ir.IrIGet   { R: 2, Obj: 0, F: fv },
    }
    u0.Term = &ir.TermReturn { V: 2 }
    body := ir.NewCFG(u0)
    use := prog.InternMethod(&meta.Method {
        Owner : main,
        Name  : "use",
        Proto : meta.Proto { Ret: prog.InternType("I") },
        Access: meta.AccPublic | meta.AccStatic,
        Body  : body,
    })

    prog.AddClass(&meta.Class { Type: box, Direct: []ir.MethodRef { ctor }, IFields: []ir.FieldRef { fv }, Clinit: ir.MethodNone })
    prog.AddClass(&meta.Class { Type: main, Direct: []ir.MethodRef { use }, Clinit: ir.MethodNone })
    prog.Stores = []*meta.Store {
        { Name: "base", Dexes: []*meta.Dex { { Classes: []ir.TypeRef { main, box } } } },
    }
    return prog, box, body
}

func hasNew(cfg *ir.CFG) bool {
    found := false
    cfg.ReversePostOrder(func(bb *ir.BasicBlock) {
        for _, v := range bb.Ins {
            if _, ok := v.(*ir.IrNew); ok {
                found = true
            }
        }
    })
    return found
}

func TestOptimize_NilProgram(t *testing.T) {
    rep, err := Optimize(nil)
    require.Nil(t, rep)
    require.IsType(t, ProgramError{}, err)
}

func TestOptimize_EndToEnd(t *testing.T) {
    prog, box, body := boxProgram()
    rep, err := Optimize(prog)
    require.NoError(t, err)

    require.Equal(t, int64(1), rep.Counter("new_instances_eliminated"))
    require.Equal(t, int64(1), rep.Counter("inlined_methods_removed"))
    require.False(t, hasNew(body))
    require.Nil(t, prog.ClassOf(box))

    /* the surviving class gets a locator, the dead one cannot */
    require.Equal(t, int64(1), rep.Counter("locators_emitted"))
    require.Equal(t, int64(0), rep.Counter("locators_skipped"))
}

func TestOptimize_LocatorsDisabled(t *testing.T) {
    prog, _, _ := boxProgram()
    rep, err := Optimize(prog, WithEmitLocators(false))
    require.NoError(t, err)
    require.Equal(t, int64(0), rep.Counter("locators_emitted"))
}

func TestOptimize_SwitchChains(t *testing.T) {
    prog := meta.NewProgram()
    main := prog.InternType("Lsample/Main;")

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

    ref := prog.InternMethod(&meta.Method {
        Owner : main,
        Name  : "dispatch",
        Proto : meta.Proto { Ret: prog.InternType("I"), Args: []ir.TypeRef { prog.InternType("I") } },
        Access: meta.AccPublic | meta.AccStatic,
        Body  : body,
    })
    prog.AddClass(&meta.Class { Type: main, Direct: []ir.MethodRef { ref }, Clinit: ir.MethodNone })

    rep, err := Optimize(prog)
    require.NoError(t, err)
    require.Equal(t, int64(1), rep.Counter("switch_chains_rewritten"))
    require.IsType(t, &ir.TermSwitch{}, b0.Term)
}

func TestOptimize_BadConfigFile(t *testing.T) {
    prog, _, _ := boxProgram()
    _, err := Optimize(prog, WithConfigFile("/nonexistent/dexopt.toml"))
    require.Error(t, err)
}

func TestOptions_PanicOnInvalid(t *testing.T) {
    require.Panics(t, func() { WithMaxInlineSize(-1) })
    require.Panics(t, func() { WithMaxInlineInvokesIterations(0) })
    require.Panics(t, func() { WithSavingsThreshold(-1) })
    require.Panics(t, func() { WithWorkers(-1) })
    require.Panics(t, func() { WithLogger(nil) })
}

func TestReport_Counter(t *testing.T) {
    rep := &Report { Counters: map[string]int64 { "x": 3 } }
    require.Equal(t, int64(3), rep.Counter("x"))
    require.Equal(t, int64(0), rep.Counter("missing"))
}
