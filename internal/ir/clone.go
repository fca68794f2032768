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

package ir

import (
    `fmt`
)

// CopyInstr makes an independent copy of a single instruction.
func CopyInstr(v IrNode) IrNode {
    switch p := v.(type) {
        case *IrParam       : r := *p; return &r
        case *IrConst       : r := *p; return &r
        case *IrConstString : r := *p; return &r
        case *IrConstClass  : r := *p; return &r
        case *IrMove        : r := *p; return &r
        case *IrNew         : r := *p; return &r
        case *IrMoveResult  : r := *p; return &r
        case *IrIGet        : r := *p; return &r
        case *IrIPut        : r := *p; return &r
        case *IrSGet        : r := *p; return &r
        case *IrSPut        : r := *p; return &r
        case *IrCheckCast   : r := *p; return &r
        case *IrInstanceOf  : r := *p; return &r
        case *IrMonitor     : r := *p; return &r
        case *IrUnary       : r := *p; return &r
        case *IrBinary      : r := *p; return &r
        case *IrInitClass   : r := *p; return &r
        case *IrSentinel    : r := *p; return &r
        case *IrInvoke      : r := *p; r.Args = append([]Reg(nil), p.Args...); return &r
        default             : panic(fmt.Sprintf("copy of unknown instruction: %s", v))
    }
}

func copyTerm(t IrTerminator, bmap map[*BasicBlock]*BasicBlock) IrTerminator {
    switch p := t.(type) {
        case *TermReturn : r := *p; return &r
        case *TermThrow  : r := *p; return &r
        case *TermGoto   : r := *p; r.To = bmap[p.To]; return &r
        case *TermIf     : r := *p; r.T, r.F = bmap[p.T], bmap[p.F]; return &r

        /* switches also clone the branch table */
        case *TermSwitch: {
            r := *p
            r.Br = make(map[int64]*BasicBlock, len(p.Br))
            for k, bb := range p.Br {
                r.Br[k] = bmap[bb]
            }
            r.Ln = bmap[p.Ln]
            return &r
        }

        default: {
            panic(fmt.Sprintf("copy of unknown terminator: %s", t))
        }
    }
}

// Clone deep-copies the whole body. Block Ids and register numbers are
// preserved, the copies share nothing with the original.
func (self *CFG) Clone() *CFG {
    src := self.Blocks()
    bmap := make(map[*BasicBlock]*BasicBlock, len(src))

    /* copy every block shell first so edges can be remapped */
    for _, bb := range src {
        bmap[bb] = &BasicBlock { Id: bb.Id }
    }

    /* copy instructions and terminators */
    for _, bb := range src {
        nb := bmap[bb]
        nb.Ins = make([]IrNode, 0, len(bb.Ins))
        for _, v := range bb.Ins {
            nb.Ins = append(nb.Ins, CopyInstr(v))
        }
        nb.Term = copyTerm(bb.Term, bmap)
    }

    /* assemble the new graph */
    ret := &CFG {
        Root     : bmap[self.Root],
        MaxBlock : self.MaxBlock,
        MaxReg   : self.MaxReg,
    }
    ret.Rebuild()
    return ret
}
