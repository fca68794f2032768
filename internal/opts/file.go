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
    `bytes`
    `fmt`
    `os`

    `github.com/pelletier/go-toml/v2`
)

// LoadFile overlays recognized option keys from a TOML file on top of
// the defaults. Unknown keys are rejected so typos never silently fall
// back to defaults.
func LoadFile(path string) (Options, error) {
    ret := GetDefaultOptions()
    buf, err := os.ReadFile(path)
    if err != nil {
        return ret, fmt.Errorf("opts: cannot read %q: %w", path, err)
    }

    /* strict decoding, unknown keys are config bugs */
    dec := toml.NewDecoder(bytes.NewReader(buf))
    dec.DisallowUnknownFields()
    if err := dec.Decode(&ret); err != nil {
        return ret, fmt.Errorf("opts: cannot parse %q: %w", path, err)
    }
    return ret, nil
}
