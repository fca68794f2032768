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

// Package locator encodes class locations as printable byte strings that
// decode backward from their terminator. Every byte is a valid MUTF-8
// single-byte sequence in [0x21, 0x7E], so a locator can live inside a
// class's string table entry, and a backward scan stops on anything
// below the bias, length prefixes 0..4 included.
package locator

import (
    `github.com/bytedance/gopkg/lang/dirtmake`
)

const (
    base = 94
    bias = 0x21
)

const (
    storeBits = 16
    classBits = 20
    dexBits   = 6
)

const (
    MaxStore = 1 << storeBits
    MaxClass = 1 << classBits
    MaxDex   = 1 << dexBits
)

// MaxEncoded bounds the digit count: ceil(42 / log2(94)) = 7, plus the
// terminator.
const MaxEncoded = 8

// SystemDex is the reserved dex number meaning "consult the system
// class loader". Real containers are numbered from 1.
const SystemDex = 0

type Locator struct {
    Store uint32
    Dex   uint32
    Class uint32
}

func (self Locator) pack() uint64 {
    return uint64(self.Store) << (classBits + dexBits) |
           uint64(self.Class) << dexBits |
           uint64(self.Dex)
}

func unpack(v uint64) Locator {
    return Locator {
        Dex   : uint32(v) & (MaxDex - 1),
        Class : uint32(v >> dexBits) & (MaxClass - 1),
        Store : uint32(v >> (classBits + dexBits)),
    }
}

// Encode renders the locator as little-endian base-94 digits without the
// terminator. Out-of-range coordinates yield no encoding, callers skip
// emission for such classes.
func Encode(loc Locator) ([]byte, bool) {
    if loc.Store >= MaxStore || loc.Class >= MaxClass || loc.Dex >= MaxDex {
        return nil, false
    }

    /* little-endian digit emission */
    buf := dirtmake.Bytes(0, MaxEncoded)
    val := loc.pack()

    /* zero still takes one digit */
    for {
        buf = append(buf, byte(val % base) + bias)
        val /= base
        if val == 0 {
            break
        }
    }
    return buf, true
}

// EncodeString is Encode plus the NUL terminator, the exact byte string
// installed into the class's string table entry.
func EncodeString(loc Locator) (string, bool) {
    buf, ok := Encode(loc)
    if !ok {
        return "", false
    }
    return string(append(buf, 0)), true
}

// DecodeBackward scans from the byte before the terminator toward the
// front, accumulating digits while they stay inside the alphabet.
func DecodeBackward(buf []byte) (Locator, bool) {
    i := len(buf) - 1

    /* must end with the terminator */
    if i < 1 || buf[i] != 0 {
        return Locator{}, false
    }

    /* backward accumulation */
    val := uint64(0)
    for i--; i >= 0 && buf[i] >= bias && buf[i] <= 0x7e; i-- {
        val = val * base + uint64(buf[i] - bias)
    }
    return unpack(val), true
}
