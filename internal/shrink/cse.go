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
    `fmt`

    `github.com/dexopt/dexopt/internal/ir`
)

// CSE folds repeated pure computations inside a basic block into a
// register copy of the first result.
type CSE struct{}

func (CSE) key(v ir.IrNode) (string, bool) {
    switch p := v.(type) {
        case *ir.IrUnary  : return fmt.Sprintf("u%d:%d", p.Op, p.X), true
        case *ir.IrBinary : return fmt.Sprintf("b%d:%d:%d", p.Op, p.X, p.Y), true
        case *ir.IrConst  : return fmt.Sprintf("c%d:%v", p.V, p.Wide), true
        default           : return "", false
    }
}

func (self CSE) Apply(cfg *ir.CFG) {
    cfg.ReversePostOrder(func(bb *ir.BasicBlock) {
        avail := make(map[string]ir.Reg)
        owner := make(map[ir.Reg][]string)

        /* invalidate everything an assignment clobbers */
        clobber := func(r ir.Reg) {
            for _, k := range owner[r] {
                delete(avail, k)
            }
            delete(owner, r)
        }

        for i, v := range bb.Ins {
            key, pure := self.key(v)

            /* a repeat becomes a copy of the original result */
            if pure {
                if r, hit := avail[key]; hit {
                    dst := *v.(ir.IrDefinations).Definations()[0]
                    if dst != r {
                        bb.Ins[i] = &ir.IrMove { R: dst, V: r }
                        clobber(dst)
                        continue
                    }
                }
            }

            /* clobber whatever this instruction writes */
            if defs, ok := v.(ir.IrDefinations); ok {
                for _, r := range defs.Definations() {
                    clobber(*r)
                }
            }

            /* make the fresh expression available, keyed by its operands */
            if pure {
                dst := *v.(ir.IrDefinations).Definations()[0]
                uses := []ir.Reg { dst }
                if u, ok := v.(ir.IrUsages); ok {
                    for _, r := range u.Usages() {
                        uses = append(uses, *r)
                    }
                }
                avail[key] = dst
                for _, r := range uses {
                    owner[r] = append(owner[r], key)
                }
            }
        }
    })
}
