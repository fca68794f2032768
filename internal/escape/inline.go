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
    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/meta`
)

// offsetRegs shifts every register a node touches by base, leaving the
// RegNone marker alone.
func offsetRegs(v ir.IrNode, base ir.Reg) {
    shift := func(rr []*ir.Reg) {
        for _, r := range rr {
            if *r != ir.RegNone {
                *r += base
            }
        }
    }
    if use, ok := v.(ir.IrUsages)      ; ok { shift(use.Usages()) }
    if def, ok := v.(ir.IrDefinations) ; ok { shift(def.Definations()) }
}

// inlineCall splices the callee body into cfg in place of the invoke at
// bb.Ins[idx]. The continuation keeps everything after the invoke and
// its move-result, returns in the callee become gotos into it.
func inlineCall(cfg *ir.CFG, bb *ir.BasicBlock, idx int, call *ir.IrInvoke, callee *meta.Method) bool {
    if callee.Body == nil {
        return false
    }

    /* private register space for the inlined body */
    body := callee.Body.Clone()
    base := cfg.MaxReg
    blocks := body.Blocks()

    /* shift the callee registers and renumber its blocks into cfg */
    for _, p := range blocks {
        for _, v := range p.Ins {
            offsetRegs(v, base)
        }
        offsetRegs(p.Term, base)
        p.Id = cfg.MaxBlock
        cfg.MaxBlock++
    }
    cfg.MaxReg += body.MaxReg

    /* bind the parameter loads to the argument registers */
    entry := body.Root
    for i, v := range entry.Ins {
        p, ok := v.(*ir.IrParam)
        if !ok {
            break
        }
        if p.Id >= len(call.Args) {
            return false
        }
        entry.Ins[i] = &ir.IrMove {
            R      : p.R,
            V      : call.Args[p.Id],
            Object : p.Object,
            Wide   : p.Wide,
        }
    }

    /* the continuation takes over from the call site */
    cont := cfg.CreateBlock()
    rest := idx + 1
    result := ir.RegNone
    resultWide := false
    resultObject := false
    if rest < len(bb.Ins) {
        if mr, ok := bb.Ins[rest].(*ir.IrMoveResult); ok {
            result = mr.R
            resultWide = mr.Wide
            resultObject = mr.Object
            rest++
        }
    }
    cont.Ins = append(cont.Ins, bb.Ins[rest:]...)
    cont.Term = bb.Term

    /* route returns into the continuation */
    for _, p := range blocks {
        if ret, ok := p.Term.(*ir.TermReturn); ok {
            if result != ir.RegNone && ret.V != ir.RegNone {
                p.AddInstr(&ir.IrMove {
                    R      : result,
                    V      : ret.V,
                    Object : resultObject,
                    Wide   : resultWide,
                })
            }
            p.Term = &ir.TermGoto { To: cont }
        }
    }

    /* detach the call and jump into the inlined entry */
    bb.Ins = bb.Ins[:idx]
    bb.Term = &ir.TermGoto { To: entry }
    cfg.Rebuild()
    return true
}
