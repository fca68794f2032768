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

package dexopt

import (
    `fmt`
)

// ProgramError occures when the program view handed to the optimizer is
// structurally unusable.
type ProgramError struct {
    Reason string
}

func (self ProgramError) Error() string {
    return fmt.Sprintf("ProgramError: %s", self.Reason)
}

// ConfigError occures when a recognized option carries an unusable
// value.
type ConfigError struct {
    Key    string
    Reason string
}

func (self ConfigError) Error() string {
    return fmt.Sprintf("ConfigError(%s): %s", self.Key, self.Reason)
}
