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

// DisableIncompleteBranch is the huge positive sentinel that turns the
// incomplete-type scoring branch off entirely.
const DisableIncompleteBranch = int64(1) << 40

type Options struct {
    MaxInlineSize              int   `toml:"max_inline_size"`
    MaxInlineInvokesIterations int   `toml:"max_inline_invokes_iterations"`
    IncompleteDeltaThreshold   int64 `toml:"incomplete_estimated_delta_threshold"`
    CostMethod                 int64 `toml:"cost_method"`
    CostClass                  int64 `toml:"cost_class"`
    CostField                  int64 `toml:"cost_field"`
    CostInvoke                 int64 `toml:"cost_invoke"`
    CostMoveResult             int64 `toml:"cost_move_result"`
    CostNewInstance            int64 `toml:"cost_new_instance"`
    SavingsThreshold           int64 `toml:"savings_threshold"`
    EmitLocators               bool  `toml:"emit_locators"`
    Workers                    int   `toml:"workers"`
}

// CanInline gates inlining on the cost-unit size of the callee. Zero
// disables the limit.
func (self *Options) CanInline(units int) bool {
    return self.MaxInlineSize == 0 || units <= self.MaxInlineSize
}

func GetDefaultOptions() Options {
    return Options {
        MaxInlineSize              : MaxInlineSize,
        MaxInlineInvokesIterations : MaxInlineInvokesIterations,
        IncompleteDeltaThreshold   : DisableIncompleteBranch,
        CostMethod                 : 16,
        CostClass                  : 48,
        CostField                  : 8,
        CostInvoke                 : 35,
        CostMoveResult             : 10,
        CostNewInstance            : 20,
        SavingsThreshold           : 0,
        EmitLocators               : true,
        Workers                    : 0,
    }
}
