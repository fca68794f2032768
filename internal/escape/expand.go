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
    `fmt`
    `sort`
    `sync`

    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/meta`
    `github.com/dexopt/dexopt/internal/metrics`
    `github.com/dexopt/dexopt/internal/pool`
    `go.uber.org/zap`
)

// invoke/range encodes at most 255 argument registers
const _MaxRangeArgs = 255

type _ExpandKey struct {
    ref   ir.MethodRef
    param int
}

// Expansion is the expanded-parameter sibling of a callee: the object
// parameter is replaced by the sequence of field values the callee
// actually reads.
type Expansion struct {
    Src    ir.MethodRef
    Param  int
    Ref    ir.MethodRef
    Fields []ir.FieldRef
    used   bool
}

// Expander manufactures expansions on demand. Ref manufacturing is
// locked, body synthesis runs in parallel at pipeline end and unused
// refs are erased.
type Expander struct {
    mu   sync.Mutex
    prog *meta.Program
    m    map[_ExpandKey]*Expansion
}

func NewExpander(prog *meta.Program) *Expander {
    return &Expander {
        prog: prog,
        m   : make(map[_ExpandKey]*Expansion),
    }
}

// ReadFields lists, in first-read order, the instance fields the callee
// reads off the given parameter. It reports false when the parameter
// has any use other than a field read, which rules the expansion out.
func (self *Expander) ReadFields(callee *meta.Method, param int) ([]ir.FieldRef, bool) {
    if callee.Body == nil {
        return nil, false
    }

    /* locate the parameter register */
    objreg := ir.RegNone
    for _, v := range callee.Body.Root.Ins {
        if p, ok := v.(*ir.IrParam); ok && p.Id == param {
            objreg = p.R
        }
    }
    if objreg == ir.RegNone {
        return nil, false
    }

    /* every use of the register must be an iget base */
    var fields []ir.FieldRef
    seen := make(map[ir.FieldRef]bool)
    valid := true
    callee.Body.ReversePostOrder(func(bb *ir.BasicBlock) {
        for _, v := range bb.Ins {
            if p, ok := v.(*ir.IrIGet); ok && p.Obj == objreg {
                if !seen[p.F] {
                    seen[p.F] = true
                    fields = append(fields, p.F)
                }
                continue
            }
            /* the parameter load itself is not a use */
            if p, ok := v.(*ir.IrParam); ok && p.R == objreg {
                continue
            }
            if use, ok := v.(ir.IrUsages); ok {
                for _, r := range use.Usages() {
                    if *r == objreg {
                        valid = false
                    }
                }
            }
            if def, ok := v.(ir.IrDefinations); ok {
                for _, r := range def.Definations() {
                    if *r == objreg {
                        valid = false
                    }
                }
            }
        }
        if use, ok := bb.Term.(ir.IrUsages); ok {
            for _, r := range use.Usages() {
                if *r == objreg {
                    valid = false
                }
            }
        }
    })
    return fields, valid && len(fields) > 0
}

// Expand manufactures (or returns) the expanded sibling ref of callee
// with the object at param replaced by its field reads.
func (self *Expander) Expand(ref ir.MethodRef, param int) (*Expansion, Fault) {
    self.mu.Lock()
    defer self.mu.Unlock()

    /* idempotent per (callee, param) */
    key := _ExpandKey { ref: ref, param: param }
    if p, ok := self.m[key]; ok {
        return p, FaultNone
    }

    callee := self.prog.MethodAt(ref)
    fields, ok := self.ReadFields(callee, param)
    if !ok {
        return nil, FaultExpansionConflict
    }

    /* the widened parameter list must still fit a range invoke */
    nregs := 0
    for _, f := range fields {
        if self.prog.FieldAt(f).Wide {
            nregs += 2
        } else {
            nregs += 1
        }
    }
    if callee.NumParams() - 1 + nregs > _MaxRangeArgs {
        return nil, FaultExpansionConflict
    }

    /* build the widened proto, the receiver is not part of it */
    argpos := param
    if !callee.Static() {
        argpos--
    }
    proto := meta.Proto { Ret: callee.Proto.Ret }
    proto.Args = append(proto.Args, callee.Proto.Args[:argpos]...)
    for _, f := range fields {
        proto.Args = append(proto.Args, self.prog.FieldAt(f).Type)
    }
    proto.Args = append(proto.Args, callee.Proto.Args[argpos + 1:]...)

    /* a pre-existing method of the same name and shape blocks us */
    name := fmt.Sprintf("%s$oea$expanded$%d", callee.Name, param)
    if _, exists := self.prog.LookupMethod(callee.Owner, name, proto); exists {
        return nil, FaultExpansionConflict
    }

    sibling := self.prog.InternMethod(&meta.Method {
        Owner  : callee.Owner,
        Name   : name,
        Proto  : proto,
        Access : callee.Access | meta.AccSynthetic,
        Virtual: false,
    })
    self.prog.AddDirectMethod(sibling)

    p := &Expansion { Src: ref, Param: param, Ref: sibling, Fields: fields }
    self.m[key] = p
    return p, FaultNone
}

func (self *Expander) MarkUsed(p *Expansion) {
    self.mu.Lock()
    p.used = true
    self.mu.Unlock()
}

func (self *Expander) expansions() []*Expansion {
    ret := make([]*Expansion, 0, len(self.m))
    for _, p := range self.m {
        ret = append(ret, p)
    }
    sort.Slice(ret, func(i int, j int) bool { return ret[i].Ref < ret[j].Ref })
    return ret
}

// Materialize synthesizes a concrete body for every used expansion, in
// parallel, and erases the rest.
func (self *Expander) Materialize(workers int, met *metrics.Metrics, log *zap.Logger) {
    var used []*Expansion
    for _, p := range self.expansions() {
        if p.used {
            used = append(used, p)
        } else {
            self.prog.RemoveDirectMethod(p.Ref)
        }
    }

    pool.RunN(workers, len(used), func(i int) {
        self.synthesize(used[i])
    })

    met.Add("expanded_methods", int64(len(used)))
    if len(used) > 0 {
        log.Debug("materialized expansions", zap.Int("count", len(used)))
    }
}

// synthesize clones the source body and rewires the object parameter
// into the widened field-value parameters.
func (self *Expander) synthesize(p *Expansion) {
    src := self.prog.MethodAt(p.Src)
    dst := self.prog.MethodAt(p.Ref)
    cfg := src.Body.Clone()

    /* pick the object parameter load out of the entry head */
    entry := cfg.Root
    objreg := ir.RegNone
    objidx := -1
    for i, v := range entry.Ins {
        q, ok := v.(*ir.IrParam)
        if !ok {
            break
        }
        if q.Id == p.Param {
            objreg, objidx = q.R, i
        } else if q.Id > p.Param {
            q.Id += len(p.Fields) - 1
        }
    }

    /* field-value parameter loads in place of the object */
    regs := make(map[ir.FieldRef]ir.Reg, len(p.Fields))
    loads := make([]ir.IrNode, 0, len(p.Fields))
    for i, f := range p.Fields {
        fd := self.prog.FieldAt(f)
        var r ir.Reg
        if fd.Wide {
            r = cfg.AllocWideReg()
        } else {
            r = cfg.AllocReg()
        }
        regs[f] = r
        loads = append(loads, &ir.IrParam {
            R      : r,
            Id     : p.Param + i,
            Object : fd.Object,
            Wide   : fd.Wide,
        })
    }

    /* null the original register so surviving object moves verify */
    rest := make([]ir.IrNode, 0, len(entry.Ins) + len(p.Fields))
    rest = append(rest, entry.Ins[:objidx]...)
    rest = append(rest, loads...)
    rest = append(rest, entry.Ins[objidx + 1:]...)
    entry.Ins = rest
    head := 0
    for head < len(entry.Ins) {
        if _, ok := entry.Ins[head].(*ir.IrParam); !ok {
            break
        }
        head++
    }
    entry.InsertAt(head, &ir.IrConst { R: objreg, V: 0 })

    /* field reads of the expanded object become parameter moves */
    for _, bb := range cfg.Blocks() {
        for i, v := range bb.Ins {
            if q, ok := v.(*ir.IrIGet); ok && q.Obj == objreg {
                fd := self.prog.FieldAt(q.F)
                bb.Ins[i] = &ir.IrMove {
                    R      : q.R,
                    V      : regs[q.F],
                    Object : fd.Object,
                    Wide   : fd.Wide,
                }
            }
        }
    }

    cfg.Rebuild()
    dst.Body = cfg
}
