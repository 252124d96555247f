// Copyright 2017 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package ethash

import (
	"encoding/binary"
	"math/big"
)

// QuickHash recomputes the final Keccak-256 commitment from a trusted
// (header, nonce, mix) triple without touching any cache or DAG, spec.md
// §4.L: exactly the last two steps of hashimoto, starting from a mix_hash
// the caller already has (e.g. read out of a block header) rather than
// one this process just derived.
func QuickHash(header [32]byte, nonce uint64, mixHash [32]byte) [32]byte {
	buf := make([]byte, 40)
	copy(buf, header[:])
	binary.LittleEndian.PutUint64(buf[32:], nonce)

	seed := crypto_keccak512(buf)

	final := make([]byte, 0, hashBytes+32)
	final = append(final, seed...)
	final = append(final, mixHash[:]...)

	var out [32]byte
	copy(out[:], crypto_keccak256(final))
	return out
}

// QuickCheckDifficulty reports whether quick_hash(header, nonce, mix) is
// numerically <= boundary, using big-endian numeric comparison as spec.md
// §3 requires ("Comparisons against the boundary are big-endian numeric").
func QuickCheckDifficulty(header [32]byte, nonce uint64, mixHash [32]byte, boundary [32]byte) bool {
	hash := QuickHash(header, nonce, mixHash)
	return new(big.Int).SetBytes(hash[:]).Cmp(new(big.Int).SetBytes(boundary[:])) <= 0
}
