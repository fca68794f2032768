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

// Package switchequiv detects chains of conditional branches that are
// equivalent to a switch on a small-integer ordinal or a class
// reference, and rewrites them into real switch terminators.
package switchequiv

import (
    `fmt`

    `github.com/dexopt/dexopt/internal/ir`
)

type Fault uint8

const (
    FaultNone Fault = iota
    FaultDivergentLoads
    FaultDivergentKeys
    FaultUnbounded
    FaultNoChain
)

func (self Fault) String() string {
    switch self {
        case FaultNone           : return "none"
        case FaultDivergentLoads : return "divergent_loads"
        case FaultDivergentKeys  : return "divergent_keys"
        case FaultUnbounded      : return "switch_chain_unbounded"
        case FaultNoChain        : return "switch_chain_missing"
        default                  : panic("unreachable")
    }
}

func (self Fault) Counter() string {
    return self.String()
}

// Key is either an integer literal or a type reference. The default
// sentinel is the Result's Default block, it never appears here.
type Key struct {
    Int   int64
    Class ir.TypeRef
}

func IntKey(v int64) Key          { return Key { Int: v, Class: ir.TypeNone } }
func ClassKey(t ir.TypeRef) Key   { return Key { Class: t } }

func (self Key) IsClass() bool {
    return self.Class != ir.TypeNone
}

func (self Key) String() string {
    if self.IsClass() {
        return fmt.Sprintf("class(%d)", self.Class)
    } else {
        return fmt.Sprintf("%d", self.Int)
    }
}

// Result enumerates the (key, leaf) pairs reachable from the root
// branch, plus the constant loads each leaf depends on.
type Result struct {
    Reg        ir.Reg
    KeyToCase  map[Key]*ir.BasicBlock
    Default    *ir.BasicBlock
    ExtraLoads map[*ir.BasicBlock]map[ir.Reg]ir.IrNode
}

// ClassKeyed reports whether the chain compares class references.
func (self *Result) ClassKeyed() bool {
    for k := range self.KeyToCase {
        if k.IsClass() {
            return true
        }
    }
    return false
}

// every interior block may be revisited this often before the walk is
// declared unbounded
const _MaxVisits = 4

// the only opcodes allowed between the root branch and a leaf
func interiorOp(v ir.IrNode) bool {
    switch v.(type) {
        case *ir.IrConst      : return true
        case *ir.IrMove       : return true
        case *ir.IrConstClass : return true
        case *ir.IrMoveResult : return true
        default               : return false
    }
}

type _Finder struct {
    reg    ir.Reg
    res    *Result
    visits map[int]int
    keyed  map[*ir.BasicBlock]bool
}

// Find explores every path from the root branch depth-first, fusing
// revisited blocks, and reports the switch shape or the first fault.
func Find(cfg *ir.CFG, root *ir.BasicBlock) (*Result, Fault) {
    p, ok := root.Term.(*ir.TermIf)
    if !ok || (p.Op != ir.IfEq && p.Op != ir.IfNe) {
        return nil, FaultNoChain
    }

    self := &_Finder {
        reg   : p.A,
        visits: make(map[int]int),
        keyed : make(map[*ir.BasicBlock]bool),
        res   : &Result {
            Reg       : p.A,
            KeyToCase : make(map[Key]*ir.BasicBlock),
            ExtraLoads: make(map[*ir.BasicBlock]map[ir.Reg]ir.IrNode),
        },
    }

    /* the root's own const loads seed the walk, arbitrary leading
     * instructions just invalidate whatever they define */
    loads := make(map[ir.Reg]ir.IrNode)
    for _, v := range root.Ins {
        if self.step(loads, v) {
            continue
        }
        if def, ok := v.(ir.IrDefinations); ok {
            for _, r := range def.Definations() {
                delete(loads, *r)
            }
        }
    }
    if fault := self.branch(root, loads); fault != FaultNone {
        return nil, fault
    }
    if len(self.res.KeyToCase) < 2 || self.res.Default == nil {
        return nil, FaultNoChain
    }
    return self.res, FaultNone
}

// step folds one interior instruction into the load state. It reports
// false when the opcode is not interior-safe.
func (self *_Finder) step(loads map[ir.Reg]ir.IrNode, v ir.IrNode) bool {
    switch p := v.(type) {
        case *ir.IrConst: {
            if p.R == self.reg {
                return false
            }
            loads[p.R] = p
        }
        case *ir.IrConstClass: {
            if p.R == self.reg {
                return false
            }
            loads[p.R] = p
        }
        case *ir.IrMove: {
            if p.R == self.reg {
                return false
            }
            if l, ok := loads[p.V]; ok {
                loads[p.R] = l
            } else {
                delete(loads, p.R)
            }
        }
        case *ir.IrMoveResult: {
            if p.R == self.reg {
                return false
            }
            delete(loads, p.R)
        }
        default: {
            return false
        }
    }
    return true
}

// branch consumes one interior compare and walks both edges.
func (self *_Finder) branch(bb *ir.BasicBlock, loads map[ir.Reg]ir.IrNode) Fault {
    if self.visits[bb.Id]++; self.visits[bb.Id] > _MaxVisits {
        return FaultUnbounded
    }

    p := bb.Term.(*ir.TermIf)
    key, ok := self.keyAt(p, loads)
    if !ok {
        return FaultNoChain
    }

    /* eq branches to the key, ne falls through to it */
    keyEdge, contEdge := p.T, p.F
    if p.Op == ir.IfNe {
        keyEdge, contEdge = p.F, p.T
    }

    if fault := self.descend(keyEdge, loads, &key); fault != FaultNone {
        return fault
    }
    return self.descend(contEdge, loads, nil)
}

// keyAt resolves the compared-against value of an interior branch.
func (self *_Finder) keyAt(p *ir.TermIf, loads map[ir.Reg]ir.IrNode) (Key, bool) {
    if p.A != self.reg {
        return Key{}, false
    }
    if p.B == ir.RegNone {
        return IntKey(0), true
    }
    switch l := loads[p.B].(type) {
        case *ir.IrConst      : return IntKey(l.V), true
        case *ir.IrConstClass : return ClassKey(l.T), true
        default               : return Key{}, false
    }
}

// descend walks one edge through interior blocks until a leaf is
// reached, carrying the pending key.
func (self *_Finder) descend(bb *ir.BasicBlock, loads map[ir.Reg]ir.IrNode, key *Key) Fault {
    /* private copy per path */
    st := make(map[ir.Reg]ir.IrNode, len(loads))
    for k, v := range loads {
        st[k] = v
    }

    for {
        for _, v := range bb.Ins {
            if !self.step(st, v) {
                return self.leaf(bb, st, key)
            }
        }

        switch p := bb.Term.(type) {
            case *ir.TermGoto: {
                if self.visits[bb.Id]++; self.visits[bb.Id] > _MaxVisits {
                    return FaultUnbounded
                }
                bb = p.To
            }

            /* a further compare on the switch register continues the
             * chain, the pending key cannot reach past it */
            case *ir.TermIf: {
                if p.A == self.reg {
                    return self.branch(bb, st)
                }
                return self.leaf(bb, st, key)
            }

            default: {
                return self.leaf(bb, st, key)
            }
        }
    }
}

// leaf registers one (key, block) pair and the load state the block
// depends on. Conflicting registrations fault.
func (self *_Finder) leaf(bb *ir.BasicBlock, loads map[ir.Reg]ir.IrNode, key *Key) Fault {
    /* the loads that matter are those the leaf actually reads */
    needed := make(map[ir.Reg]ir.IrNode)
    for _, r := range leafReads(bb) {
        if l, ok := loads[r]; ok {
            needed[r] = l
        }
    }

    /* two paths into one leaf must agree on every needed load */
    if old, seen := self.res.ExtraLoads[bb]; seen {
        if len(old) != len(needed) {
            return FaultDivergentLoads
        }
        for r, l := range needed {
            if old[r] != l {
                return FaultDivergentLoads
            }
        }
    } else {
        self.res.ExtraLoads[bb] = needed
    }

    /* distinct keys may not share a leaf, nor may a keyed leaf double
     * as the fallthrough */
    if key == nil {
        if self.keyed[bb] {
            return FaultDivergentKeys
        }
        if self.res.Default != nil && self.res.Default != bb {
            return FaultDivergentKeys
        }
        self.res.Default = bb
        return FaultNone
    }

    if prev, ok := self.res.KeyToCase[*key]; ok {
        if prev != bb {
            return FaultDivergentKeys
        }
        return FaultNone
    }
    if self.keyed[bb] || self.res.Default == bb {
        return FaultDivergentKeys
    }
    self.res.KeyToCase[*key] = bb
    self.keyed[bb] = true
    return FaultNone
}

// leafReads lists the registers a block reads before writing them.
func leafReads(bb *ir.BasicBlock) []ir.Reg {
    var ret []ir.Reg
    defs := make(map[ir.Reg]bool)
    seen := make(map[ir.Reg]bool)

    note := func(rr []*ir.Reg) {
        for _, r := range rr {
            if *r != ir.RegNone && !defs[*r] && !seen[*r] {
                seen[*r] = true
                ret = append(ret, *r)
            }
        }
    }

    for _, v := range bb.Ins {
        if use, ok := v.(ir.IrUsages); ok {
            note(use.Usages())
        }
        if def, ok := v.(ir.IrDefinations); ok {
            for _, r := range def.Definations() {
                defs[*r] = true
            }
        }
    }
    if use, ok := bb.Term.(ir.IrUsages); ok {
        note(use.Usages())
    }
    return ret
}
