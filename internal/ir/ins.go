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
    `strings`
)

func (*IrParam)       irnode() {}
func (*IrConst)       irnode() {}
func (*IrConstString) irnode() {}
func (*IrConstClass)  irnode() {}
func (*IrMove)        irnode() {}
func (*IrNew)         irnode() {}
func (*IrInvoke)      irnode() {}
func (*IrMoveResult)  irnode() {}
func (*IrIGet)        irnode() {}
func (*IrIPut)        irnode() {}
func (*IrSGet)        irnode() {}
func (*IrSPut)        irnode() {}
func (*IrCheckCast)   irnode() {}
func (*IrInstanceOf)  irnode() {}
func (*IrMonitor)     irnode() {}
func (*IrUnary)       irnode() {}
func (*IrBinary)      irnode() {}
func (*IrInitClass)   irnode() {}
func (*IrSentinel)    irnode() {}

// IrParam loads the parameter with index Id into R. Parameter loads
// occupy the head of the entry block and take no code units.
type IrParam struct {
    R      Reg
    Id     int
    Object bool
    Wide   bool
}

func (self *IrParam) String() string {
    return fmt.Sprintf("%s = load.arg(#%d)", self.R, self.Id)
}

func (self *IrParam) CodeUnits() int {
    return 0
}

func (self *IrParam) Definations() []*Reg {
    return []*Reg { &self.R }
}

type IrConst struct {
    R    Reg
    V    int64
    Wide bool
}

func (self *IrConst) String() string {
    return fmt.Sprintf("%s = const %d", self.R, self.V)
}

func (self *IrConst) CodeUnits() int {
    if self.Wide {
        return 3
    } else {
        return 2
    }
}

func (self *IrConst) Definations() []*Reg {
    return []*Reg { &self.R }
}

type IrConstString struct {
    R Reg
    S StringRef
}

func (self *IrConstString) String() string {
    return fmt.Sprintf("%s = const-string %s", self.R, self.S)
}

func (self *IrConstString) CodeUnits() int {
    return 2
}

func (self *IrConstString) Definations() []*Reg {
    return []*Reg { &self.R }
}

type IrConstClass struct {
    R Reg
    T TypeRef
}

func (self *IrConstClass) String() string {
    return fmt.Sprintf("%s = const-class %s", self.R, self.T)
}

func (self *IrConstClass) CodeUnits() int {
    return 2
}

func (self *IrConstClass) Definations() []*Reg {
    return []*Reg { &self.R }
}

type IrMove struct {
    R      Reg
    V      Reg
    Object bool
    Wide   bool
}

func (self *IrMove) String() string {
    if self.Object {
        return fmt.Sprintf("%s = move-object %s", self.R, self.V)
    } else {
        return fmt.Sprintf("%s = move %s", self.R, self.V)
    }
}

func (self *IrMove) CodeUnits() int {
    return 1
}

func (self *IrMove) Usages() []*Reg {
    return []*Reg { &self.V }
}

func (self *IrMove) Definations() []*Reg {
    return []*Reg { &self.R }
}

// IrNew is a new-instance, the only instruction that produces a fresh
// reference by itself.
type IrNew struct {
    R Reg
    T TypeRef
}

func (self *IrNew) String() string {
    return fmt.Sprintf("%s = new-instance %s", self.R, self.T)
}

func (self *IrNew) CodeUnits() int {
    return 2
}

func (self *IrNew) Definations() []*Reg {
    return []*Reg { &self.R }
}

type InvokeKind uint8

const (
    InvokeStatic InvokeKind = iota
    InvokeDirect
    InvokeVirtual
    InvokeInterface
    InvokeSuper
)

func (self InvokeKind) String() string {
    switch self {
        case InvokeStatic    : return "static"
        case InvokeDirect    : return "direct"
        case InvokeVirtual   : return "virtual"
        case InvokeInterface : return "interface"
        case InvokeSuper     : return "super"
        default              : panic("unreachable")
    }
}

type IrInvoke struct {
    Kind InvokeKind
    Ref  MethodRef
    Args []Reg
}

func (self *IrInvoke) String() string {
    nb := len(self.Args)
    ret := make([]string, 0, nb)

    /* dump the argument registers */
    for _, r := range self.Args {
        ret = append(ret, r.String())
    }

    /* compose the instruction */
    return fmt.Sprintf(
        "invoke-%s %s, {%s}",
        self.Kind,
        self.Ref,
        strings.Join(ret, ", "),
    )
}

func (self *IrInvoke) CodeUnits() int {
    return 3
}

func (self *IrInvoke) Usages() []*Reg {
    return regsliceref(self.Args)
}

type IrMoveResult struct {
    R      Reg
    Object bool
    Wide   bool
}

func (self *IrMoveResult) String() string {
    return fmt.Sprintf("%s = move-result", self.R)
}

func (self *IrMoveResult) CodeUnits() int {
    return 1
}

func (self *IrMoveResult) Definations() []*Reg {
    return []*Reg { &self.R }
}

type IrIGet struct {
    R      Reg
    Obj    Reg
    F      FieldRef
    Object bool
    Wide   bool
}

func (self *IrIGet) String() string {
    return fmt.Sprintf("%s = iget %s.%s", self.R, self.Obj, self.F)
}

func (self *IrIGet) CodeUnits() int {
    return 2
}

func (self *IrIGet) Usages() []*Reg {
    return []*Reg { &self.Obj }
}

func (self *IrIGet) Definations() []*Reg {
    return []*Reg { &self.R }
}

type IrIPut struct {
    V      Reg
    Obj    Reg
    F      FieldRef
    Object bool
    Wide   bool
}

func (self *IrIPut) String() string {
    return fmt.Sprintf("iput %s -> %s.%s", self.V, self.Obj, self.F)
}

func (self *IrIPut) CodeUnits() int {
    return 2
}

func (self *IrIPut) Usages() []*Reg {
    return []*Reg { &self.V, &self.Obj }
}

type IrSGet struct {
    R      Reg
    F      FieldRef
    Object bool
    Wide   bool
}

func (self *IrSGet) String() string {
    return fmt.Sprintf("%s = sget %s", self.R, self.F)
}

func (self *IrSGet) CodeUnits() int {
    return 2
}

func (self *IrSGet) Definations() []*Reg {
    return []*Reg { &self.R }
}

type IrSPut struct {
    V      Reg
    F      FieldRef
    Object bool
    Wide   bool
}

func (self *IrSPut) String() string {
    return fmt.Sprintf("sput %s -> %s", self.V, self.F)
}

func (self *IrSPut) CodeUnits() int {
    return 2
}

func (self *IrSPut) Usages() []*Reg {
    return []*Reg { &self.V }
}

// IrCheckCast throws if V is not assignable to T, otherwise it is a no-op
// on the register file.
type IrCheckCast struct {
    V Reg
    T TypeRef
}

func (self *IrCheckCast) String() string {
    return fmt.Sprintf("check-cast %s, %s", self.V, self.T)
}

func (self *IrCheckCast) CodeUnits() int {
    return 2
}

func (self *IrCheckCast) Usages() []*Reg {
    return []*Reg { &self.V }
}

type IrInstanceOf struct {
    R Reg
    V Reg
    T TypeRef
}

func (self *IrInstanceOf) String() string {
    return fmt.Sprintf("%s = instance-of %s, %s", self.R, self.V, self.T)
}

func (self *IrInstanceOf) CodeUnits() int {
    return 2
}

func (self *IrInstanceOf) Usages() []*Reg {
    return []*Reg { &self.V }
}

func (self *IrInstanceOf) Definations() []*Reg {
    return []*Reg { &self.R }
}

type IrMonitor struct {
    V     Reg
    Enter bool
}

func (self *IrMonitor) String() string {
    if self.Enter {
        return fmt.Sprintf("monitor-enter %s", self.V)
    } else {
        return fmt.Sprintf("monitor-exit %s", self.V)
    }
}

func (self *IrMonitor) CodeUnits() int {
    return 1
}

func (self *IrMonitor) Usages() []*Reg {
    return []*Reg { &self.V }
}

type UnaryOp uint8

const (
    OpNeg UnaryOp = iota
    OpNot
    OpIntToLong
    OpLongToInt
)

func (self UnaryOp) String() string {
    switch self {
        case OpNeg       : return "neg"
        case OpNot       : return "not"
        case OpIntToLong : return "int-to-long"
        case OpLongToInt : return "long-to-int"
        default          : panic("unreachable")
    }
}

type IrUnary struct {
    Op UnaryOp
    R  Reg
    X  Reg
}

func (self *IrUnary) String() string {
    return fmt.Sprintf("%s = %s %s", self.R, self.Op, self.X)
}

func (self *IrUnary) CodeUnits() int {
    return 1
}

func (self *IrUnary) Usages() []*Reg {
    return []*Reg { &self.X }
}

func (self *IrUnary) Definations() []*Reg {
    return []*Reg { &self.R }
}

type BinaryOp uint8

const (
    OpAdd BinaryOp = iota
    OpSub
    OpMul
    OpDiv
    OpRem
    OpAnd
    OpOr
    OpXor
    OpShl
    OpShr
    OpUshr
    OpCmp
)

func (self BinaryOp) String() string {
    switch self {
        case OpAdd  : return "add"
        case OpSub  : return "sub"
        case OpMul  : return "mul"
        case OpDiv  : return "div"
        case OpRem  : return "rem"
        case OpAnd  : return "and"
        case OpOr   : return "or"
        case OpXor  : return "xor"
        case OpShl  : return "shl"
        case OpShr  : return "shr"
        case OpUshr : return "ushr"
        case OpCmp  : return "cmp"
        default     : panic("unreachable")
    }
}

type IrBinary struct {
    Op BinaryOp
    R  Reg
    X  Reg
    Y  Reg
}

func (self *IrBinary) String() string {
    return fmt.Sprintf("%s = %s %s, %s", self.R, self.Op, self.X, self.Y)
}

func (self *IrBinary) CodeUnits() int {
    return 2
}

func (self *IrBinary) Usages() []*Reg {
    return []*Reg { &self.X, &self.Y }
}

func (self *IrBinary) Definations() []*Reg {
    return []*Reg { &self.R }
}

// IrInitClass forces the static initializer of T, it stands in for the
// class-loading side effect of an eliminated new-instance.
type IrInitClass struct {
    T TypeRef
}

func (self *IrInitClass) String() string {
    return fmt.Sprintf("init-class %s", self.T)
}

func (self *IrInitClass) CodeUnits() int {
    return 2
}

// IrSentinel is the incomplete-marker call. It pins the allocation in V
// until the reducer either lowers it or gives up, and it must survive
// shrinking as long as its block is reachable.
type IrSentinel struct {
    V Reg
    T TypeRef
}

func (self *IrSentinel) String() string {
    return fmt.Sprintf("sentinel %s, %s", self.V, self.T)
}

func (self *IrSentinel) CodeUnits() int {
    return 3
}

func (self *IrSentinel) Usages() []*Reg {
    return []*Reg { &self.V }
}
