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

package shrink

import (
    `github.com/dexopt/dexopt/internal/ir`
)

// Straighten merges straight-line goto chains. Block splits left over
// from inlining and branch folding would otherwise keep costing a goto
// each.
type Straighten struct{}

func (self Straighten) Apply(cfg *ir.CFG) {
    for changed := true; changed; {
        changed = false
        for _, bb := range cfg.Blocks() {
            p, ok := bb.Term.(*ir.TermGoto)
            if !ok {
                continue
            }
            if succ := p.To; succ != bb && len(succ.Pred) == 1 {
                bb.Ins = append(bb.Ins, succ.Ins...)
                bb.Term = succ.Term
                cfg.Rebuild()
                changed = true
                break
            }
        }
    }
}
