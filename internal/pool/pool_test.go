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

package pool

import (
    `runtime`
    `sync/atomic`
    `testing`
    `time`

    `github.com/stretchr/testify/require`
)

func TestRun_CoversEveryItem(t *testing.T) {
    var hits [64]int32
    Run(len(hits), func(i int) {
        atomic.AddInt32(&hits[i], 1)
    })
    for i, v := range hits {
        require.Equal(t, int32(1), v, "item %d", i)
    }
}

func TestRunN_ZeroItems(t *testing.T) {
    RunN(4, 0, func(i int) {
        t.Fatal("no item to run")
    })
}

func TestRunN_ZeroWorkersMeansGomaxprocs(t *testing.T) {
    if runtime.GOMAXPROCS(0) < 2 {
        t.Skip("needs at least two cpus")
    }

    /* both items rendezvous on an unbuffered channel, a single worker
     * would never complete the batch */
    ch := make(chan int)
    done := make(chan struct{})
    go func() {
        RunN(0, 2, func(i int) {
            select {
                case ch <- i:
                case <-ch:
            }
        })
        close(done)
    }()

    select {
        case <-done:
        case <-time.After(5 * time.Second):
            t.Fatal("zero workers fell back to a serial batch")
    }
}

func TestRunN_PanicPropagates(t *testing.T) {
    require.PanicsWithValue(t, "pool: worker panic: boom", func() {
        RunN(2, 8, func(i int) {
            panic("boom")
        })
    })
}
