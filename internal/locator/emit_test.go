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
    `testing`

    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/meta`
    `github.com/dexopt/dexopt/internal/metrics`
    `github.com/dexopt/dexopt/internal/opts`
    `github.com/stretchr/testify/require`
    `go.uber.org/zap`
)

func addClass(prog *meta.Program, name string) ir.TypeRef {
    t := prog.InternType(name)
    prog.AddClass(&meta.Class {
        Type   : t,
        Clinit : ir.MethodNone,
        Locator: ir.StringNone,
    })
    return t
}

func TestEmit_InstallsLocators(t *testing.T) {
    prog := meta.NewProgram()
    a := addClass(prog, "Lsample/A;")
    b := addClass(prog, "Lsample/B;")
    ghost := prog.InternType("Lsample/Ghost;")

    prog.Stores = []*meta.Store {
        { Name: "base", Dexes: []*meta.Dex {
            { Classes: []ir.TypeRef { a, ghost, b } },
        } },
    }

    conf := opts.GetDefaultOptions()
    met := metrics.New()
    Emit(prog, &conf, met, zap.NewNop())

    require.Equal(t, int64(2), met.Get("locators_emitted"))
    require.Equal(t, int64(0), met.Get("locators_skipped"))

    /* dex numbering starts at 1, class index is the in-dex position */
    want, ok := EncodeString(Locator { Store: 0, Dex: 1, Class: 2 })
    require.True(t, ok)
    require.Equal(t, want, prog.StringAt(prog.ClassOf(b).Locator))

    loc, ok := DecodeBackward([]byte(prog.StringAt(prog.ClassOf(a).Locator)))
    require.True(t, ok)
    require.Equal(t, Locator { Store: 0, Dex: 1, Class: 0 }, loc)
}

func TestEmit_SkipsOutOfRange(t *testing.T) {
    prog := meta.NewProgram()
    c := addClass(prog, "Lsample/C;")

    /* push the container number past the dex field */
    dexes := make([]*meta.Dex, MaxDex)
    for i := range dexes {
        dexes[i] = new(meta.Dex)
    }
    dexes[MaxDex - 1].Classes = []ir.TypeRef { c }
    prog.Stores = []*meta.Store { { Name: "base", Dexes: dexes } }

    conf := opts.GetDefaultOptions()
    met := metrics.New()
    Emit(prog, &conf, met, zap.NewNop())

    require.Equal(t, int64(0), met.Get("locators_emitted"))
    require.Equal(t, int64(1), met.Get("locators_skipped"))
    require.Equal(t, ir.StringNone, prog.ClassOf(c).Locator)
}

func TestEmit_Disabled(t *testing.T) {
    prog := meta.NewProgram()
    a := addClass(prog, "Lsample/A;")
    prog.Stores = []*meta.Store {
        { Name: "base", Dexes: []*meta.Dex { { Classes: []ir.TypeRef { a } } } },
    }

    conf := opts.GetDefaultOptions()
    conf.EmitLocators = false
    met := metrics.New()
    Emit(prog, &conf, met, zap.NewNop())

    require.Equal(t, int64(0), met.Get("locators_emitted"))
    require.Equal(t, ir.StringNone, prog.ClassOf(a).Locator)
}
