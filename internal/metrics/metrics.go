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

package metrics

import (
    `sort`
    `sync`
)

// Metrics is the counter sink shared by every pass. Counters are keyed
// by a short name and only ever accumulate.
type Metrics struct {
    mu sync.Mutex
    cc map[string]int64
}

func New() *Metrics {
    return &Metrics {
        cc: make(map[string]int64),
    }
}

func (self *Metrics) Add(name string, delta int64) {
    self.mu.Lock()
    self.cc[name] += delta
    self.mu.Unlock()
}

func (self *Metrics) Incr(name string) {
    self.Add(name, 1)
}

func (self *Metrics) Get(name string) int64 {
    self.mu.Lock()
    defer self.mu.Unlock()
    return self.cc[name]
}

// Snapshot copies every counter out under the lock.
func (self *Metrics) Snapshot() map[string]int64 {
    self.mu.Lock()
    defer self.mu.Unlock()
    ret := make(map[string]int64, len(self.cc))
    for k, v := range self.cc {
        ret[k] = v
    }
    return ret
}

// Names lists the recorded counters in sorted order.
func (self *Metrics) Names() []string {
    self.mu.Lock()
    defer self.mu.Unlock()
    ret := make([]string, 0, len(self.cc))
    for k := range self.cc {
        ret = append(ret, k)
    }
    sort.Strings(ret)
    return ret
}
