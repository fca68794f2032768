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
    `sort`
    `strings`
)

type IrSuccessors interface {
    Next() bool
    Block() *BasicBlock
    Value() (int64, bool)
    Update(bb *BasicBlock)
}

type IrTerminator interface {
    IrNode
    Successors() IrSuccessors
    irterminator()
}

func (*TermGoto)   irnode() {}
func (*TermIf)     irnode() {}
func (*TermSwitch) irnode() {}
func (*TermReturn) irnode() {}
func (*TermThrow)  irnode() {}

func (*TermGoto)   irterminator() {}
func (*TermIf)     irterminator() {}
func (*TermSwitch) irterminator() {}
func (*TermReturn) irterminator() {}
func (*TermThrow)  irterminator() {}

type _EmptySuccessor struct{}

func (_EmptySuccessor) Next()  bool           { return false }
func (_EmptySuccessor) Block() *BasicBlock    { return nil }
func (_EmptySuccessor) Value() (int64, bool)  { return 0, false }
func (_EmptySuccessor) Update(_ *BasicBlock)  { panic("update of empty successor") }

type _GotoSuccessors struct {
    p *TermGoto
    i int
}

func (self *_GotoSuccessors) Next() bool {
    self.i++
    return self.i == 1
}

func (self *_GotoSuccessors) Block() *BasicBlock {
    return self.p.To
}

func (self *_GotoSuccessors) Value() (int64, bool) {
    return 0, false
}

func (self *_GotoSuccessors) Update(bb *BasicBlock) {
    self.p.To = bb
}

// TermGoto is an unconditional edge. Ghost edges mark exceptional
// fallthrough paths, they carry no code units of their own.
type TermGoto struct {
    To    *BasicBlock
    Ghost bool
}

func (self *TermGoto) String() string {
    return fmt.Sprintf("goto bb_%d", self.To.Id)
}

func (self *TermGoto) CodeUnits() int {
    if self.Ghost {
        return 0
    } else {
        return 1
    }
}

func (self *TermGoto) Successors() IrSuccessors {
    return &_GotoSuccessors { p: self }
}

type IfOp uint8

const (
    IfEq IfOp = iota
    IfNe
    IfLt
    IfGe
    IfGt
    IfLe
)

func (self IfOp) String() string {
    switch self {
        case IfEq : return "if-eq"
        case IfNe : return "if-ne"
        case IfLt : return "if-lt"
        case IfGe : return "if-ge"
        case IfGt : return "if-gt"
        case IfLe : return "if-le"
        default   : panic("unreachable")
    }
}

func (self IfOp) Negated() IfOp {
    switch self {
        case IfEq : return IfNe
        case IfNe : return IfEq
        case IfLt : return IfGe
        case IfGe : return IfLt
        case IfGt : return IfLe
        case IfLe : return IfGt
        default   : panic("unreachable")
    }
}

type _IfSuccessors struct {
    p *TermIf
    i int
}

func (self *_IfSuccessors) Next() bool {
    self.i++
    return self.i <= 2
}

func (self *_IfSuccessors) Block() *BasicBlock {
    if self.i == 1 {
        return self.p.T
    } else {
        return self.p.F
    }
}

func (self *_IfSuccessors) Value() (int64, bool) {
    if self.i == 1 {
        return 1, true
    } else {
        return 0, false
    }
}

func (self *_IfSuccessors) Update(bb *BasicBlock) {
    if self.i == 1 {
        self.p.T = bb
    } else {
        self.p.F = bb
    }
}

// TermIf compares A against B, or against zero when B is RegNone, and
// branches to T on success, F otherwise.
type TermIf struct {
    Op IfOp
    A  Reg
    B  Reg
    T  *BasicBlock
    F  *BasicBlock
}

func (self *TermIf) String() string {
    if self.B == RegNone {
        return fmt.Sprintf("%sz %s, bb_%d else bb_%d", self.Op, self.A, self.T.Id, self.F.Id)
    } else {
        return fmt.Sprintf("%s %s, %s, bb_%d else bb_%d", self.Op, self.A, self.B, self.T.Id, self.F.Id)
    }
}

func (self *TermIf) CodeUnits() int {
    return 2
}

func (self *TermIf) Usages() []*Reg {
    if self.B == RegNone {
        return []*Reg { &self.A }
    } else {
        return []*Reg { &self.A, &self.B }
    }
}

func (self *TermIf) Successors() IrSuccessors {
    return &_IfSuccessors { p: self }
}

type _SwitchSuccessors struct {
    p *TermSwitch
    k []int64
    i int
}

func (self *_SwitchSuccessors) Next() bool {
    self.i++
    return self.i <= len(self.k) + 1
}

func (self *_SwitchSuccessors) Block() *BasicBlock {
    if self.i <= len(self.k) {
        return self.p.Br[self.k[self.i - 1]]
    } else {
        return self.p.Ln
    }
}

func (self *_SwitchSuccessors) Value() (int64, bool) {
    if self.i <= len(self.k) {
        return self.k[self.i - 1], true
    } else {
        return 0, false
    }
}

func (self *_SwitchSuccessors) Update(bb *BasicBlock) {
    if self.i <= len(self.k) {
        self.p.Br[self.k[self.i - 1]] = bb
    } else {
        self.p.Ln = bb
    }
}

// TermSwitch dispatches on V. Br carries the explicit cases, Ln is the
// default edge. Successors are visited in ascending key order so that
// every CFG walk is deterministic.
type TermSwitch struct {
    V      Reg
    Br     map[int64]*BasicBlock
    Ln     *BasicBlock
    Packed bool
}

func (self *TermSwitch) String() string {
    nb := len(self.Br)
    ret := make([]string, 0, nb)

    /* add each case */
    for _, id := range self.keys() {
        ret = append(ret, fmt.Sprintf("  %d => bb_%d,", id, self.Br[id].Id))
    }

    /* default branch */
    ret = append(ret, fmt.Sprintf(
        "  _ => bb_%d,",
        self.Ln.Id,
    ))

    /* join them together */
    return fmt.Sprintf(
        "switch %s {\n%s\n}",
        self.V,
        strings.Join(ret, "\n"),
    )
}

func (self *TermSwitch) keys() []int64 {
    kk := make([]int64, 0, len(self.Br))
    for k := range self.Br {
        kk = append(kk, k)
    }
    sort.Slice(kk, func(i int, j int) bool { return kk[i] < kk[j] })
    return kk
}

func (self *TermSwitch) CodeUnits() int {
    if n := len(self.Br); self.Packed {
        return 3 + n * 2 + 4
    } else {
        return 3 + n * 4 + 2
    }
}

func (self *TermSwitch) Usages() []*Reg {
    return []*Reg { &self.V }
}

func (self *TermSwitch) Successors() IrSuccessors {
    return &_SwitchSuccessors { p: self, k: self.keys() }
}

type TermReturn struct {
    V      Reg
    Object bool
    Wide   bool
}

func (self *TermReturn) String() string {
    if self.V == RegNone {
        return "return-void"
    } else if self.Object {
        return fmt.Sprintf("return-object %s", self.V)
    } else {
        return fmt.Sprintf("return %s", self.V)
    }
}

func (self *TermReturn) CodeUnits() int {
    return 1
}

func (self *TermReturn) Usages() []*Reg {
    if self.V == RegNone {
        return nil
    } else {
        return []*Reg { &self.V }
    }
}

func (self *TermReturn) Successors() IrSuccessors {
    return _EmptySuccessor{}
}

type TermThrow struct {
    V Reg
}

func (self *TermThrow) String() string {
    return fmt.Sprintf("throw %s", self.V)
}

func (self *TermThrow) CodeUnits() int {
    return 1
}

func (self *TermThrow) Usages() []*Reg {
    return []*Reg { &self.V }
}

func (self *TermThrow) Successors() IrSuccessors {
    return _EmptySuccessor{}
}
