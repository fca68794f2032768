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

package shrink

import (
    `github.com/dexopt/dexopt/internal/ir`
)

// CopyElim removes unnessecery register copies.
type CopyElim struct{}

func (self CopyElim) Apply(cfg *ir.CFG) {
    defs := singleDefs(cfg)
    regs := make(map[ir.Reg]ir.Reg)

    /* Phase 1: identify forwardable copies, both ends must be single-def */
    for r, v := range defs {
        if p, ok := v.(*ir.IrMove); ok {
            if _, ok := defs[p.V]; ok {
                regs[r] = p.V
            }
        }
    }

    /* register replacement func */
    replacereg := func(rr *ir.Reg) {
        seen := 0
        for {
            if r, ok := regs[*rr]; ok && seen <= len(regs) {
                *rr = r
                seen++
            } else {
                break
            }
        }
    }

    /* Phase 2: replace all the register references */
    cfg.ReversePostOrder(func(bb *ir.BasicBlock) {
        var ok bool
        var use ir.IrUsages

        /* replace in instructions */
        for _, v := range bb.Ins {
            if use, ok = v.(ir.IrUsages); ok {
                for _, u := range use.Usages() {
                    replacereg(u)
                }
            }
        }

        /* replace in terminators */
        if use, ok = bb.Term.(ir.IrUsages); ok {
            for _, u := range use.Usages() {
                replacereg(u)
            }
        }
    })
}
