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

// TDCE removes trivial dead-code such as unused register definations
// from the body. Only observation-free instructions are candidates,
// anything that can throw or touch the heap stays.
type TDCE struct {
    keepNew bool
}

func (self *TDCE) removable(v ir.IrNode) bool {
    switch v.(type) {
        case *ir.IrConst       : return true
        case *ir.IrConstString : return true
        case *ir.IrConstClass  : return true
        case *ir.IrMove        : return true
        case *ir.IrInstanceOf  : return true
        case *ir.IrUnary       : return true
        case *ir.IrNew         : return !self.keepNew
        case *ir.IrBinary      : return tdceBinaryOk(v.(*ir.IrBinary).Op)
        default                : return false
    }
}

func tdceBinaryOk(op ir.BinaryOp) bool {
    return op != ir.OpDiv && op != ir.OpRem
}

func (self *TDCE) Apply(cfg *ir.CFG) {
    for {
        done := true
        used := make(map[ir.Reg]struct{})

        /* Phase 1: find all register usages */
        cfg.PostOrder().ForEach(func(bb *ir.BasicBlock) {
            var ok bool
            var use ir.IrUsages

            /* mark all usages in instructions if any */
            for _, v := range bb.Ins {
                if use, ok = v.(ir.IrUsages); ok {
                    for _, r := range use.Usages() {
                        used[*r] = struct{}{}
                    }
                }
            }

            /* mark usages in the terminator if any */
            if use, ok = bb.Term.(ir.IrUsages); ok {
                for _, r := range use.Usages() {
                    used[*r] = struct{}{}
                }
            }
        })

        /* Phase 2: remove removable instructions with no used defs */
        cfg.PostOrder().ForEach(func(bb *ir.BasicBlock) {
            ins := bb.Ins[:0]
            for _, v := range bb.Ins {
                keep := true
                if self.removable(v) {
                    keep = false
                    for _, r := range v.(ir.IrDefinations).Definations() {
                        if _, ok := used[*r]; ok {
                            keep = true
                            break
                        }
                    }
                }
                if keep {
                    ins = append(ins, v)
                } else {
                    done = false
                }
            }
            bb.Ins = ins
        })

        /* loop until no more removals */
        if done {
            return
        }
    }
}
