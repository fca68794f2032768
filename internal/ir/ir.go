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

// Reg is a dex virtual register number. Wide values occupy the register
// and the one right after it, the upper half must never be read on its own.
type Reg uint32

const (
    RegNone = ^Reg(0)
)

func (self Reg) String() string {
    if self == RegNone {
        return "_"
    } else {
        return fmt.Sprintf("v%d", uint32(self))
    }
}

// Symbol references are dense indices into the interning tables owned by
// the program view. They are stable for the lifetime of the view.
type (
    TypeRef   int32
    FieldRef  int32
    MethodRef int32
    StringRef int32
)

const (
    TypeNone   TypeRef   = -1
    FieldNone  FieldRef  = -1
    MethodNone MethodRef = -1
    StringNone StringRef = -1
)

func (self TypeRef)   String() string { return fmt.Sprintf("type#%d", int32(self)) }
func (self FieldRef)  String() string { return fmt.Sprintf("field#%d", int32(self)) }
func (self MethodRef) String() string { return fmt.Sprintf("method#%d", int32(self)) }
func (self StringRef) String() string { return fmt.Sprintf("string#%d", int32(self)) }

type IrNode interface {
    fmt.Stringer
    CodeUnits() int
    irnode()
}

type IrUsages interface {
    Usages() []*Reg
}

type IrDefinations interface {
    Definations() []*Reg
}

func regsliceref(rr []Reg) []*Reg {
    ret := make([]*Reg, len(rr))
    for i := range rr {
        ret[i] = &rr[i]
    }
    return ret
}
