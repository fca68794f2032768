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
    `testing`

    `github.com/stretchr/testify/require`
)

// diamond builds
//
//   bb_0: if-eqz v0 -> bb_2 else bb_1
//   bb_1: v1 = const 1 ; goto bb_3
//   bb_2: v1 = const 2 ; goto bb_3
//   bb_3: return v1
func diamond() *CFG {
    b0 := &BasicBlock { Id: 0 }
    b1 := &BasicBlock { Id: 1 }
    b2 := &BasicBlock { Id: 2 }
    b3 := &BasicBlock { Id: 3 }

    b0.Ins = []IrNode { &IrParam { R: 0, Id: 0 } }
    b0.Term = &TermIf { Op: IfEq, A: 0, B: RegNone, T: b2, F: b1 }
    b1.Ins = []IrNode { &IrConst { R: 1, V: 1 } }
    b1.Term = &TermGoto { To: b3 }
    b2.Ins = []IrNode { &IrConst { R: 1, V: 2 } }
    b2.Term = &TermGoto { To: b3 }
    b3.Term = &TermReturn { V: 1 }

    cfg := NewCFG(b0)
    cfg.MaxBlock = 4
    cfg.Rebuild()
    return cfg
}

func TestCFG_Rebuild(t *testing.T) {
    cfg := diamond()
    bbs := cfg.Blocks()
    require.Len(t, bbs, 4)

    /* predecessors */
    require.Empty(t, cfg.Root.Pred)
    require.Len(t, bbs[3].Pred, 2)

    /* dominator tree: bb_0 dominates everything, the join is dominated
     * by the branch, not by either arm */
    require.Nil(t, cfg.DominatedBy[0])
    require.Equal(t, 0, cfg.DominatedBy[1].Id)
    require.Equal(t, 0, cfg.DominatedBy[2].Id)
    require.Equal(t, 0, cfg.DominatedBy[3].Id)

    /* depths follow BFS layering */
    require.Equal(t, 0, cfg.Depth[0])
    require.Equal(t, 1, cfg.Depth[1])
    require.Equal(t, 2, cfg.Depth[3])
}

func TestCFG_UnreachableFallsOut(t *testing.T) {
    cfg := diamond()

    /* cut one arm off */
    cfg.Root.Term.(*TermIf).T = cfg.Root.Term.(*TermIf).F
    cfg.Rebuild()

    ids := make([]int, 0, 4)
    for _, bb := range cfg.Blocks() {
        ids = append(ids, bb.Id)
    }
    require.Equal(t, []int { 0, 1, 3 }, ids)
}

func TestCFG_Clone(t *testing.T) {
    cfg := diamond()
    cp := cfg.Clone()

    require.Equal(t, cfg.CodeUnits(), cp.CodeUnits())
    require.Len(t, cp.Blocks(), 4)

    /* mutating the copy must not leak into the original */
    cp.Blocks()[1].Ins[0].(*IrConst).V = 42
    require.EqualValues(t, 1, cfg.Blocks()[1].Ins[0].(*IrConst).V)

    /* edge identity is remapped, not shared */
    require.NotSame(t, cfg.Root, cp.Root)
    require.NotSame(t, cfg.Blocks()[3], cp.Blocks()[3])
}

func TestCFG_AllocReg(t *testing.T) {
    cfg := diamond()
    require.EqualValues(t, 2, cfg.MaxReg)

    r := cfg.AllocReg()
    w := cfg.AllocWideReg()
    require.EqualValues(t, 2, r)
    require.EqualValues(t, 3, w)
    require.EqualValues(t, 5, cfg.MaxReg)
}

func TestTermSwitch_CodeUnits(t *testing.T) {
    b := &BasicBlock { Id: 1, Term: &TermReturn { V: RegNone } }
    sw := &TermSwitch {
        V : 0,
        Br: map[int64]*BasicBlock { 0: b, 1: b, 2: b },
        Ln: b,
    }

    /* sparse costs more per case than packed */
    sparse := sw.CodeUnits()
    sw.Packed = true
    packed := sw.CodeUnits()
    require.Greater(t, sparse, packed)
    require.Equal(t, 3 + 3*2 + 4, packed)
    require.Equal(t, 3 + 3*4 + 2, sparse)
}
