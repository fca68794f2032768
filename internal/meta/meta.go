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

package meta

import (
    `fmt`
    `strings`

    `github.com/dexopt/dexopt/internal/ir`
)

type AccessFlags uint32

const (
    AccPublic      AccessFlags = 1 << 0
    AccPrivate     AccessFlags = 1 << 1
    AccProtected   AccessFlags = 1 << 2
    AccStatic      AccessFlags = 1 << 3
    AccFinal       AccessFlags = 1 << 4
    AccSynthetic   AccessFlags = 1 << 12
    AccConstructor AccessFlags = 1 << 16
)

// KeepReason is the optimization opt-out bitset. A non-zero value
// excludes the class from every whole-program transformation.
type KeepReason uint8

const (
    KeepFinalize KeepReason = 1 << iota
    KeepReflection
    KeepConfig
)

type Type struct {
    Name       string
    Super      ir.TypeRef
    Ifaces     []ir.TypeRef
    ArrayLevel int
}

func (self *Type) String() string {
    return self.Name
}

type Field struct {
    Owner  ir.TypeRef
    Name   string
    Type   ir.TypeRef
    Static bool
    Access AccessFlags
    Wide   bool
    Object bool
}

type Proto struct {
    Ret  ir.TypeRef
    Args []ir.TypeRef
}

func (self Proto) Void() bool {
    return self.Ret == ir.TypeNone
}

func (self Proto) Sig() string {
    nb := len(self.Args)
    ss := make([]string, 0, nb)
    for _, t := range self.Args {
        ss = append(ss, fmt.Sprint(int32(t)))
    }
    return fmt.Sprintf("(%s)%d", strings.Join(ss, ","), int32(self.Ret))
}

type Method struct {
    Owner    ir.TypeRef
    Name     string
    Proto    Proto
    Access   AccessFlags
    Body     *ir.CFG
    Virtual  bool
    External bool
    APILevel int
}

func (self *Method) Static() bool {
    return self.Access & AccStatic != 0
}

func (self *Method) Constructor() bool {
    return self.Access & AccConstructor != 0
}

// NumParams counts the register-file parameters including the implicit
// receiver for instance methods.
func (self *Method) NumParams() int {
    if self.Static() {
        return len(self.Proto.Args)
    } else {
        return len(self.Proto.Args) + 1
    }
}

type Class struct {
    Type       ir.TypeRef
    Access     AccessFlags
    Direct     []ir.MethodRef
    Virtual    []ir.MethodRef
    IFields    []ir.FieldRef
    SFields    []ir.FieldRef
    Clinit     ir.MethodRef
    Keep       KeepReason
    External   bool
    Generated  bool
    PureClinit bool
    Deob       string
    Locator    ir.StringRef
}

// Dex is one dex-like container, an ordered list of classes.
type Dex struct {
    Classes []ir.TypeRef
}

// Store is an ordered list of dex containers. Store 0 is the root store
// and its dex 0 is the bootstrap container.
type Store struct {
    Name  string
    Dexes []*Dex
}
