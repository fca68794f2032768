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

// Fault tags every way a working copy can be discarded. Faults are data
// conditions, they increment a counter and the run continues.
type Fault uint8

const (
    FaultNone Fault = iota
    FaultUnresolvedReference
    FaultRecursiveEscape
    FaultThrowingCheckCast
    FaultTooManyIterations
    FaultInvokeSuperResidual
    FaultReturnsObject
    FaultExpansionConflict
    FaultCostGlobally
)

func (self Fault) String() string {
    switch self {
        case FaultNone                : return "none"
        case FaultUnresolvedReference : return "unresolved_reference"
        case FaultRecursiveEscape     : return "recursive_escape"
        case FaultThrowingCheckCast   : return "throwing_check_cast"
        case FaultTooManyIterations   : return "too_many_iterations"
        case FaultInvokeSuperResidual : return "invoke_super_residual"
        case FaultReturnsObject       : return "returns_object"
        case FaultExpansionConflict   : return "expansion_conflict"
        case FaultCostGlobally        : return "cost_globally"
        default                       : panic("unreachable")
    }
}

// Counter is the metrics key that tracks this failure kind.
func (self Fault) Counter() string {
    return self.String()
}
