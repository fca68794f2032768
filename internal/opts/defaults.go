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

package opts

import (
    `os`
    `strconv`
)

const (
    _DefaultMaxInlineSize   = 20 // cost units before expansion wins over inlining
    _DefaultMaxInlineIters  = 8  // fixed iteration cap of the reducer loop
)

var (
    MaxInlineSize              = parseOrDefault("DEXOPT_MAX_INLINE_SIZE", _DefaultMaxInlineSize, 1)
    MaxInlineInvokesIterations = parseOrDefault("DEXOPT_MAX_INLINE_INVOKES_ITERATIONS", _DefaultMaxInlineIters, 1)
)

func parseOrDefault(key string, def int, min int) int {
    if env := os.Getenv(key); env == "" {
        return def
    } else if val, err := strconv.ParseUint(env, 0, 64); err != nil {
        panic("dexopt: invalid value for " + key)
    } else if ret := int(val); ret < min {
        panic("dexopt: value too small for " + key)
    } else {
        return ret
    }
}
