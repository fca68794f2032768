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

// Package pool dispatches per-item CPU bound work over a fixed set of
// workers and waits for completion. The returned join is the global
// fence between pipeline phases: phase n completes on every item before
// phase n+1 observes anything.
package pool

import (
    `fmt`
    `runtime`
    `sync`
)

// Run applies fn to every index in [0, n) over GOMAXPROCS workers.
// A panicking item stops the batch and re-panics on the caller, worker
// panics are never swallowed.
func Run(n int, fn func(i int)) {
    RunN(runtime.GOMAXPROCS(0), n, fn)
}

// RunN is Run with an explicit worker count, zero or less means
// GOMAXPROCS.
func RunN(workers int, n int, fn func(i int)) {
    if n == 0 {
        return
    }
    if workers < 1 {
        workers = runtime.GOMAXPROCS(0)
    }
    if workers > n {
        workers = n
    }

    var wg sync.WaitGroup
    var mu sync.Mutex
    var rec interface{}

    /* feed indices to the workers */
    ch := make(chan int, workers)
    wg.Add(workers)

    /* item runner, keeps the worker alive across panicking items */
    item := func(i int) {
        defer func() {
            if p := recover(); p != nil {
                mu.Lock()
                if rec == nil {
                    rec = p
                }
                mu.Unlock()
            }
        }()
        fn(i)
    }

    /* spawn the workers */
    for w := 0; w < workers; w++ {
        go func() {
            defer wg.Done()
            for i := range ch {
                item(i)
            }
        }()
    }

    /* dispatch and wait for the fence */
    for i := 0; i < n; i++ {
        ch <- i
    }
    close(ch)
    wg.Wait()

    /* re-raise worker panics, they are broken invariants by definition */
    if rec != nil {
        panic(fmt.Sprintf("pool: worker panic: %v", rec))
    }
}
