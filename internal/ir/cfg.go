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
    `sort`

    `github.com/oleiade/lane`
)

type BasicBlock struct {
    Id   int
    Ins  []IrNode
    Pred []*BasicBlock
    Term IrTerminator
}

func (self *BasicBlock) AddInstr(p IrNode) {
    self.Ins = append(self.Ins, p)
}

func (self *BasicBlock) InsertAt(i int, p IrNode) {
    self.Ins = append(self.Ins, nil)
    copy(self.Ins[i + 1:], self.Ins[i:])
    self.Ins[i] = p
}

func (self *BasicBlock) RemoveAt(i int) {
    self.Ins = append(self.Ins[:i], self.Ins[i + 1:]...)
}

func (self *BasicBlock) CodeUnits() int {
    ret := 0
    for _, v := range self.Ins {
        ret += v.CodeUnits()
    }
    return ret + self.Term.CodeUnits()
}

// CFG is the body of a single method. A body is exclusively owned by
// whichever task holds it, nothing here is safe for concurrent mutation.
type CFG struct {
    Root        *BasicBlock
    Depth       map[int]int
    DominatedBy map[int]*BasicBlock
    DominatorOf map[int][]*BasicBlock
    MaxBlock    int
    MaxReg      Reg
}

func NewCFG(root *BasicBlock) *CFG {
    ret := &CFG {
        Root     : root,
        MaxBlock : root.Id + 1,
    }
    ret.Rebuild()
    return ret
}

func (self *CFG) CreateBlock() (r *BasicBlock) {
    r = &BasicBlock { Id: self.MaxBlock }
    self.MaxBlock++
    return
}

// AllocReg hands out a fresh virtual register beyond every register the
// body currently touches.
func (self *CFG) AllocReg() (r Reg) {
    r = self.MaxReg
    self.MaxReg++
    return
}

func (self *CFG) AllocWideReg() (r Reg) {
    r = self.MaxReg
    self.MaxReg += 2
    return
}

// Rebuild recomputes predecessors, block depths and the dominator tree
// after any mutation of the graph shape. Unreachable blocks fall out of
// every index map which effectively removes them from the body.
func (self *CFG) Rebuild() {
    q := lane.NewQueue()
    visited := make(map[int]*BasicBlock, self.MaxBlock)

    /* reset the derived state */
    self.Depth = make(map[int]int, self.MaxBlock)
    self.DominatedBy = make(map[int]*BasicBlock, self.MaxBlock)
    self.DominatorOf = make(map[int][]*BasicBlock, self.MaxBlock)

    /* BFS the graph from the root, clearing predecessors on the way */
    q.Enqueue(self.Root)
    visited[self.Root.Id] = self.Root
    self.Root.Pred = self.Root.Pred[:0]
    self.Depth[self.Root.Id] = 0

    /* add predecessors for every reachable block */
    for !q.Empty() {
        bb := q.Dequeue().(*BasicBlock)
        for it := bb.Term.Successors(); it.Next(); {
            p := it.Block()
            if _, ok := visited[p.Id]; !ok {
                visited[p.Id] = p
                p.Pred = p.Pred[:0]
                self.Depth[p.Id] = self.Depth[bb.Id] + 1
                q.Enqueue(p)
            }
            p.Pred = append(p.Pred, bb)
        }
    }

    /* registers might have been allocated by the mutation */
    self.updateMaxReg(visited)
    buildDominatorTree(self)
}

func (self *CFG) updateMaxReg(blocks map[int]*BasicBlock) {
    bump := func(rr []*Reg) {
        for _, r := range rr {
            if *r != RegNone && *r >= self.MaxReg {
                self.MaxReg = *r + 1
            }
        }
    }
    for _, bb := range blocks {
        for _, v := range bb.Ins {
            if use, ok := v.(IrUsages)      ; ok { bump(use.Usages()) }
            if def, ok := v.(IrDefinations) ; ok { bump(def.Definations()) }
        }
        if use, ok := bb.Term.(IrUsages); ok {
            bump(use.Usages())
        }
    }
}

// Blocks returns every reachable block in ascending Id order.
func (self *CFG) Blocks() []*BasicBlock {
    ret := make([]*BasicBlock, 0, len(self.Depth))
    self.PostOrder().ForEach(func(bb *BasicBlock) {
        ret = append(ret, bb)
    })
    sort.Slice(ret, func(i int, j int) bool { return ret[i].Id < ret[j].Id })
    return ret
}

func (self *CFG) CodeUnits() int {
    ret := 0
    self.PostOrder().ForEach(func(bb *BasicBlock) {
        ret += bb.CodeUnits()
    })
    return ret
}

func (self *CFG) PostOrder() *BasicBlockIter {
    return newBasicBlockIter(self)
}

func (self *CFG) ReversePostOrder(action func(bb *BasicBlock)) {
    for _, bb := range self.PostOrder().Reversed() {
        action(bb)
    }
}
