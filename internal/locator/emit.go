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

package locator

import (
    `github.com/dexopt/dexopt/internal/meta`
    `github.com/dexopt/dexopt/internal/metrics`
    `github.com/dexopt/dexopt/internal/opts`
    `go.uber.org/zap`
)

// Emit installs a locator string into every class that has a position
// in the store layout. Classes whose coordinates fall out of the packed
// ranges are skipped, not truncated.
func Emit(prog *meta.Program, conf *opts.Options, met *metrics.Metrics, log *zap.Logger) {
    if !conf.EmitLocators {
        return
    }

    emitted := int64(0)
    skipped := int64(0)

    for si, store := range prog.Stores {
        for di, dex := range store.Dexes {
            for ci, t := range dex.Classes {
                cl := prog.ClassOf(t)
                if cl == nil {
                    continue
                }

                /* container numbering starts at 1, 0 is the system
                 * class loader sentinel */
                s, ok := EncodeString(Locator {
                    Store: uint32(si),
                    Dex  : uint32(di) + 1,
                    Class: uint32(ci),
                })
                if !ok {
                    skipped++
                    continue
                }
                cl.Locator = prog.InternString(s)
                emitted++
            }
        }
    }

    met.Add("locators_emitted", emitted)
    met.Add("locators_skipped", skipped)
    if skipped > 0 {
        log.Warn("locator coordinates out of range", zap.Int64("classes", skipped))
    }
}
