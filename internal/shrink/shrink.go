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

// Package shrink is the local cleanup engine used after inlining and
// stackification: constant propagation, block straightening, copy
// elimination, common sub-expression elimination and trivial dead-code
// elimination. It
// never introduces references to new types or members, never removes
// the side effects of non-benign instructions, and keeps every block
// that still holds a sentinel reachable.
package shrink

import (
    `github.com/dexopt/dexopt/internal/ir`
)

type Pass interface {
    Apply(*ir.CFG)
}

type _PassDescriptor struct {
    pass Pass
    desc string
}

var _passes = [...]_PassDescriptor {
    { desc: "Constant Propagation"                , pass: new(ConstProp) },
    { desc: "Block Straightening"                 , pass: new(Straighten) },
    { desc: "Copy Elimination"                    , pass: new(CopyElim) },
    { desc: "Common Sub-expression Elimination"   , pass: new(CSE) },
    { desc: "Trivial Dead Code Elimination"       , pass: new(TDCE) },
}

type Opts struct {
    // KeepNewInstances pins every new-instance even when its result
    // register is unused. The escape reducer re-discovers allocation
    // sites between iterations and must not lose them to cleanup.
    KeepNewInstances bool
}

func Shrink(cfg *ir.CFG, o Opts) {
    for _, p := range _passes {
        if t, ok := p.pass.(*TDCE); ok {
            t.keepNew = o.KeepNewInstances
        }
        p.pass.Apply(cfg)
    }
}

// singleDefs finds registers with exactly one defining instruction in
// the whole body. Only those can be reasoned about without dataflow.
func singleDefs(cfg *ir.CFG) map[ir.Reg]ir.IrNode {
    once := make(map[ir.Reg]ir.IrNode)
    dups := make(map[ir.Reg]struct{})
    cfg.ReversePostOrder(func(bb *ir.BasicBlock) {
        for _, v := range bb.Ins {
            if defs, ok := v.(ir.IrDefinations); ok {
                for _, r := range defs.Definations() {
                    if _, dup := once[*r]; dup {
                        dups[*r] = struct{}{}
                    } else {
                        once[*r] = v
                    }
                }
            }
        }
    })
    for r := range dups {
        delete(once, r)
    }
    return once
}
