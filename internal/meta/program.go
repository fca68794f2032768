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
    `sort`
    `sync`

    `github.com/dexopt/dexopt/internal/ir`
)

// Program is the whole-program view. Expansion interns new method defs
// while the parallel phases are still reading, so every table access
// goes through the program lock, writers exclusively and readers
// shared.
type Program struct {
    mu        sync.RWMutex
    types     []*Type
    fields    []*Field
    methods   []*Method
    strings   []string
    typeIdx   map[string]ir.TypeRef
    fieldIdx  map[string]ir.FieldRef
    methodIdx map[string]ir.MethodRef
    stringIdx map[string]ir.StringRef
    classes   map[ir.TypeRef]*Class
    Stores    []*Store
}

func NewProgram() *Program {
    return &Program {
        typeIdx   : make(map[string]ir.TypeRef),
        fieldIdx  : make(map[string]ir.FieldRef),
        methodIdx : make(map[string]ir.MethodRef),
        stringIdx : make(map[string]ir.StringRef),
        classes   : make(map[ir.TypeRef]*Class),
    }
}

func fieldKey(owner ir.TypeRef, name string) string {
    return fmt.Sprintf("%d.%s", int32(owner), name)
}

func methodKey(owner ir.TypeRef, name string, proto Proto) string {
    return fmt.Sprintf("%d.%s%s", int32(owner), name, proto.Sig())
}

func (self *Program) InternType(name string) ir.TypeRef {
    self.mu.Lock()
    defer self.mu.Unlock()
    if ref, ok := self.typeIdx[name]; ok {
        return ref
    }
    ref := ir.TypeRef(len(self.types))
    self.types = append(self.types, &Type { Name: name, Super: ir.TypeNone })
    self.typeIdx[name] = ref
    return ref
}

func (self *Program) InternString(s string) ir.StringRef {
    self.mu.Lock()
    defer self.mu.Unlock()
    if ref, ok := self.stringIdx[s]; ok {
        return ref
    }
    ref := ir.StringRef(len(self.strings))
    self.strings = append(self.strings, s)
    self.stringIdx[s] = ref
    return ref
}

func (self *Program) InternField(f *Field) ir.FieldRef {
    self.mu.Lock()
    defer self.mu.Unlock()
    key := fieldKey(f.Owner, f.Name)
    if ref, ok := self.fieldIdx[key]; ok {
        return ref
    }
    ref := ir.FieldRef(len(self.fields))
    self.fields = append(self.fields, f)
    self.fieldIdx[key] = ref
    return ref
}

func (self *Program) InternMethod(m *Method) ir.MethodRef {
    self.mu.Lock()
    defer self.mu.Unlock()
    key := methodKey(m.Owner, m.Name, m.Proto)
    if ref, ok := self.methodIdx[key]; ok {
        return ref
    }
    ref := ir.MethodRef(len(self.methods))
    self.methods = append(self.methods, m)
    self.methodIdx[key] = ref
    return ref
}

// LookupMethod finds an already interned method without creating one.
func (self *Program) LookupMethod(owner ir.TypeRef, name string, proto Proto) (ir.MethodRef, bool) {
    self.mu.RLock()
    defer self.mu.RUnlock()
    ref, ok := self.methodIdx[methodKey(owner, name, proto)]
    return ref, ok
}

func (self *Program) TypeAt(ref ir.TypeRef) *Type {
    self.mu.RLock()
    v := self.types[ref]
    self.mu.RUnlock()
    return v
}

func (self *Program) FieldAt(ref ir.FieldRef) *Field {
    self.mu.RLock()
    v := self.fields[ref]
    self.mu.RUnlock()
    return v
}

func (self *Program) MethodAt(ref ir.MethodRef) *Method {
    self.mu.RLock()
    v := self.methods[ref]
    self.mu.RUnlock()
    return v
}

func (self *Program) StringAt(ref ir.StringRef) string {
    self.mu.RLock()
    v := self.strings[ref]
    self.mu.RUnlock()
    return v
}

func (self *Program) NumTypes() int   { self.mu.RLock(); defer self.mu.RUnlock(); return len(self.types) }
func (self *Program) NumMethods() int { self.mu.RLock(); defer self.mu.RUnlock(); return len(self.methods) }
func (self *Program) NumFields() int  { self.mu.RLock(); defer self.mu.RUnlock(); return len(self.fields) }

func (self *Program) AddClass(cl *Class) {
    self.mu.Lock()
    self.classes[cl.Type] = cl
    self.mu.Unlock()
}

func (self *Program) ClassOf(t ir.TypeRef) *Class {
    self.mu.RLock()
    v := self.classes[t]
    self.mu.RUnlock()
    return v
}

func (self *Program) RemoveClass(t ir.TypeRef) {
    self.mu.Lock()
    delete(self.classes, t)
    self.mu.Unlock()
}

// MethodDisplay renders a method reference for logging and clone naming.
func (self *Program) MethodDisplay(ref ir.MethodRef) string {
    self.mu.RLock()
    defer self.mu.RUnlock()
    return self.display(ref)
}

func (self *Program) display(ref ir.MethodRef) string {
    m := self.methods[ref]
    return fmt.Sprintf("%s.%s%s", self.types[m.Owner].Name, m.Name, m.Proto.Sig())
}

// SwapBody atomically replaces the body of a method, returning the old
// body. This is the only legal way to publish a reduced variant.
func (self *Program) SwapBody(ref ir.MethodRef, cfg *ir.CFG) *ir.CFG {
    self.mu.Lock()
    old := self.methods[ref].Body
    self.methods[ref].Body = cfg
    self.mu.Unlock()
    return old
}

// AddDirectMethod installs a freshly manufactured method def into its
// owning class, keeping the direct method list name-sorted.
func (self *Program) AddDirectMethod(ref ir.MethodRef) {
    self.mu.Lock()
    defer self.mu.Unlock()
    m := self.methods[ref]
    cl := self.classes[m.Owner]
    if cl == nil {
        panic(fmt.Sprintf("method added to external type %s", self.types[m.Owner].Name))
    }
    cl.Direct = append(cl.Direct, ref)
    sort.Slice(cl.Direct, func(i int, j int) bool {
        return self.methods[cl.Direct[i]].Name < self.methods[cl.Direct[j]].Name
    })
}

func (self *Program) RemoveDirectMethod(ref ir.MethodRef) {
    self.mu.Lock()
    defer self.mu.Unlock()
    m := self.methods[ref]
    m.Body = nil
    m.External = true
    if cl := self.classes[m.Owner]; cl != nil {
        for i, p := range cl.Direct {
            if p == ref {
                cl.Direct = append(cl.Direct[:i], cl.Direct[i + 1:]...)
                break
            }
        }
    }
}

// IsAssignable reports whether a value of type sub may be treated as
// super without a throwing cast.
func (self *Program) IsAssignable(sub ir.TypeRef, super ir.TypeRef) bool {
    self.mu.RLock()
    defer self.mu.RUnlock()
    return self.assignable(sub, super)
}

func (self *Program) assignable(sub ir.TypeRef, super ir.TypeRef) bool {
    for t := sub; t != ir.TypeNone; t = self.types[t].Super {
        if t == super {
            return true
        }
        for _, i := range self.types[t].Ifaces {
            if self.assignable(i, super) {
                return true
            }
        }
    }
    return false
}

// ResolveMethod maps a method reference to the concrete def that would
// be invoked, walking the superclass chain. References into types with
// no class def resolve as external, they are never silently dropped.
func (self *Program) ResolveMethod(ref ir.MethodRef) (ir.MethodRef, bool) {
    self.mu.RLock()
    defer self.mu.RUnlock()
    m := self.methods[ref]
    for t := m.Owner; t != ir.TypeNone; t = self.types[t].Super {
        if cl := self.classes[t]; cl == nil {
            return ref, false
        } else if r, ok := self.lookupIn(cl, m.Name, m.Proto); ok {
            return r, true
        }
    }
    return ref, false
}

func (self *Program) lookupIn(cl *Class, name string, proto Proto) (ir.MethodRef, bool) {
    for _, r := range cl.Direct {
        if p := self.methods[r]; p.Name == name && p.Proto.Sig() == proto.Sig() {
            return r, true
        }
    }
    for _, r := range cl.Virtual {
        if p := self.methods[r]; p.Name == name && p.Proto.Sig() == proto.Sig() {
            return r, true
        }
    }
    return ir.MethodNone, false
}

// HasOverrides reports whether any subclass redefines the given virtual
// method, which makes a virtual dispatch ambiguous.
func (self *Program) HasOverrides(ref ir.MethodRef) bool {
    self.mu.RLock()
    defer self.mu.RUnlock()
    m := self.methods[ref]
    for _, cl := range self.classes {
        if cl.Type == m.Owner || !self.assignable(cl.Type, m.Owner) {
            continue
        }
        for _, r := range cl.Virtual {
            if p := self.methods[r]; p.Name == m.Name && p.Proto.Sig() == m.Proto.Sig() {
                return true
            }
        }
    }
    return false
}

// Excluded reports whether calls involving this type opt the arguments
// out of escape reasoning entirely.
func (self *Program) Excluded(t ir.TypeRef) bool {
    self.mu.RLock()
    cl := self.classes[t]
    self.mu.RUnlock()
    return cl == nil || cl.Keep != 0
}

// SortedClasses returns every class def ordered by deobfuscated name
// then type name, the iteration order for everything that feeds emitted
// code.
func (self *Program) SortedClasses() []*Class {
    self.mu.RLock()
    defer self.mu.RUnlock()
    ret := make([]*Class, 0, len(self.classes))
    for _, cl := range self.classes {
        ret = append(ret, cl)
    }
    sort.Slice(ret, func(i int, j int) bool {
        a, b := ret[i], ret[j]
        an, bn := a.Deob, b.Deob
        if an == "" { an = self.types[a.Type].Name }
        if bn == "" { bn = self.types[b.Type].Name }
        if an != bn {
            return an < bn
        }
        return self.types[a.Type].Name < self.types[b.Type].Name
    })
    return ret
}

// SortedMethods returns every method def with a body, in display order.
func (self *Program) SortedMethods() []ir.MethodRef {
    self.mu.RLock()
    defer self.mu.RUnlock()
    ret := make([]ir.MethodRef, 0, len(self.methods))
    for i, m := range self.methods {
        if m.Body != nil {
            ret = append(ret, ir.MethodRef(i))
        }
    }
    sort.Slice(ret, func(i int, j int) bool {
        return self.display(ret[i]) < self.display(ret[j])
    })
    return ret
}

// CodeUnits sums the code-unit size of every method body in the view.
func (self *Program) CodeUnits() int {
    self.mu.RLock()
    defer self.mu.RUnlock()
    ret := 0
    for _, m := range self.methods {
        if m.Body != nil {
            ret += m.Body.CodeUnits()
        }
    }
    return ret
}
