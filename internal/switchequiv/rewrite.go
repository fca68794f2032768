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

package switchequiv

import (
    `sort`

    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/meta`
    `github.com/dexopt/dexopt/internal/metrics`
    `github.com/dexopt/dexopt/internal/opts`
    `github.com/dexopt/dexopt/internal/pool`
    `github.com/dexopt/dexopt/internal/shrink`
    `go.uber.org/zap`
)

// Hooks carries the caller-provided pieces a class-keyed rewrite needs:
// a static int-returning lookup method and the ordinal assigned to each
// class key. Without hooks, class-keyed chains are left alone.
type Hooks struct {
    Lookup  ir.MethodRef
    Ordinal func(t ir.TypeRef) (int64, bool)
}

// Rewrite installs a switch terminator over the found chain. Packed
// encoding is chosen when the integer keys form a stride one run.
func Rewrite(cfg *ir.CFG, root *ir.BasicBlock, res *Result, hooks *Hooks) bool {
    br := make(map[int64]*ir.BasicBlock, len(res.KeyToCase))
    reg := res.Reg

    if res.ClassKeyed() {
        if hooks == nil || hooks.Ordinal == nil {
            return false
        }
        for k, leaf := range res.KeyToCase {
            ord, ok := hooks.Ordinal(k.Class)
            if !ok {
                return false
            }
            br[ord] = leaf
        }

        /* the switch runs over the looked-up ordinal */
        reg = cfg.AllocReg()
        root.AddInstr(&ir.IrInvoke {
            Kind: ir.InvokeStatic,
            Ref : hooks.Lookup,
            Args: []ir.Reg { res.Reg },
        })
        root.AddInstr(&ir.IrMoveResult { R: reg })
    } else {
        for k, leaf := range res.KeyToCase {
            br[k.Int] = leaf
        }
    }

    /* restore the constant environment each leaf depends on */
    for leaf, needed := range res.ExtraLoads {
        regs := make([]ir.Reg, 0, len(needed))
        for r := range needed {
            regs = append(regs, r)
        }
        sort.Slice(regs, func(i int, j int) bool { return regs[i] < regs[j] })
        for i := len(regs) - 1; i >= 0; i-- {
            load := ir.CopyInstr(needed[regs[i]])
            if def, ok := load.(ir.IrDefinations); ok {
                *def.Definations()[0] = regs[i]
            }
            leaf.InsertAt(0, load)
        }
    }

    root.Term = &ir.TermSwitch {
        V     : reg,
        Br    : br,
        Ln    : res.Default,
        Packed: packed(br),
    }
    cfg.Rebuild()
    return true
}

// packed reports whether the keys form an arithmetic progression of
// stride one, the precondition of the packed encoding.
func packed(br map[int64]*ir.BasicBlock) bool {
    if len(br) == 0 {
        return false
    }
    kk := make([]int64, 0, len(br))
    for k := range br {
        kk = append(kk, k)
    }
    sort.Slice(kk, func(i int, j int) bool { return kk[i] < kk[j] })
    return kk[len(kk) - 1] - kk[0] == int64(len(kk) - 1)
}

// Run scans every method for rewritable branch chains and installs the
// equivalent switches, shrinking the touched bodies afterwards.
func Run(prog *meta.Program, conf *opts.Options, met *metrics.Metrics, log *zap.Logger, hooks *Hooks) {
    methods := prog.SortedMethods()
    pool.RunN(conf.Workers, len(methods), func(i int) {
        ref := methods[i]
        body := prog.MethodAt(ref).Body
        touched := false

        /* restart the scan after every rewrite, the graph changed */
        for changed := true; changed; {
            changed = false
            for _, bb := range body.Blocks() {
                res, fault := Find(body, bb)
                if fault != FaultNone {
                    if fault != FaultNoChain {
                        met.Incr(fault.Counter())
                    }
                    continue
                }
                if Rewrite(body, bb, res, hooks) {
                    touched = true
                    changed = true
                    met.Incr("switch_chains_rewritten")
                    log.Debug("rewrote branch chain",
                        zap.String("method", prog.MethodDisplay(ref)),
                        zap.Int("cases", len(res.KeyToCase)))
                    break
                }
            }
        }

        if touched {
            shrink.Shrink(body, shrink.Opts{})
        }
    })
}
