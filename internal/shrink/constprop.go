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

// ConstProp propagates constants through single-def registers and folds
// expressions and conditional branches whose operands are known.
type ConstProp struct{}

func (ConstProp) unary(v int64, op ir.UnaryOp) int64 {
    switch op {
        case ir.OpNeg       : return -v
        case ir.OpNot       : return ^v
        case ir.OpIntToLong : return v
        case ir.OpLongToInt : return int64(int32(v))
        default             : panic(fmt.Sprintf("constprop: invalid unary operator: %d", op))
    }
}

func (ConstProp) binary(x int64, y int64, op ir.BinaryOp) (int64, bool) {
    switch op {
        case ir.OpAdd  : return x + y, true
        case ir.OpSub  : return x - y, true
        case ir.OpMul  : return x * y, true
        case ir.OpAnd  : return x & y, true
        case ir.OpOr   : return x | y, true
        case ir.OpXor  : return x ^ y, true
        case ir.OpShl  : return x << uint64(y & 63), true
        case ir.OpShr  : return x >> uint64(y & 63), true
        case ir.OpUshr : return int64(uint64(x) >> uint64(y & 63)), true

        /* division by a constant zero must keep its throw */
        case ir.OpDiv: if y != 0 { return x / y, true } else { return 0, false }
        case ir.OpRem: if y != 0 { return x % y, true } else { return 0, false }

        /* three-way compare */
        case ir.OpCmp: {
            if x < y {
                return -1, true
            } else if x > y {
                return 1, true
            } else {
                return 0, true
            }
        }

        default: {
            panic(fmt.Sprintf("constprop: invalid binary operator: %d", op))
        }
    }
}

func (ConstProp) branch(x int64, y int64, op ir.IfOp) bool {
    switch op {
        case ir.IfEq : return x == y
        case ir.IfNe : return x != y
        case ir.IfLt : return x < y
        case ir.IfGe : return x >= y
        case ir.IfGt : return x > y
        case ir.IfLe : return x <= y
        default      : panic("unreachable")
    }
}

func (self ConstProp) Apply(cfg *ir.CFG) {
    for {
        done := true
        defs := singleDefs(cfg)
        consts := make(map[ir.Reg]int64)

        /* Phase 1: collect the known constants */
        for r, v := range defs {
            if p, ok := v.(*ir.IrConst); ok {
                consts[r] = p.V
            }
        }

        /* Phase 2: fold expressions over known constants */
        cfg.ReversePostOrder(func(bb *ir.BasicBlock) {
            for i, v := range bb.Ins {
                switch p := v.(type) {
                    default: {
                        continue
                    }

                    /* unary expressions */
                    case *ir.IrUnary: {
                        if x, ok := consts[p.X]; ok {
                            bb.Ins[i] = &ir.IrConst { R: p.R, V: self.unary(x, p.Op), Wide: p.Op == ir.OpIntToLong }
                            done = false
                        }
                    }

                    /* binary expressions */
                    case *ir.IrBinary: {
                        x, xok := consts[p.X]
                        y, yok := consts[p.Y]
                        if xok && yok {
                            if r, ok := self.binary(x, y, p.Op); ok {
                                bb.Ins[i] = &ir.IrConst { R: p.R, V: r }
                                done = false
                            }
                        }
                    }
                }
            }

            /* conditional branches with two known operands */
            if p, ok := bb.Term.(*ir.TermIf); ok {
                x, xok := consts[p.A]
                y, yok := int64(0), p.B == ir.RegNone
                if !yok {
                    y, yok = consts[p.B]
                }
                if xok && yok {
                    if self.branch(x, y, p.Op) {
                        bb.Term = &ir.TermGoto { To: p.T }
                    } else {
                        bb.Term = &ir.TermGoto { To: p.F }
                    }
                    done = false
                }
            }

            /* switches on a known register */
            if p, ok := bb.Term.(*ir.TermSwitch); ok {
                if x, xok := consts[p.V]; xok {
                    if to, hit := p.Br[x]; hit {
                        bb.Term = &ir.TermGoto { To: to }
                    } else {
                        bb.Term = &ir.TermGoto { To: p.Ln }
                    }
                    done = false
                }
            }
        })

        /* converged, rebuild to drop unreachable branches */
        if done {
            cfg.Rebuild()
            return
        }
    }
}
