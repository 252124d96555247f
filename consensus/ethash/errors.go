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

import "errors"

// Error kinds, spec.md §7. Each is a sentinel checked with errors.Is;
// callers that need the offending detail unwrap via fmt.Errorf("%w", ...)
// wrapping performed at the call site.
var (
	// ErrSizeInvariant is returned when a cache_size or dataset_size is not
	// divisible by the node size (64) or mix-page size (128). It cannot
	// arise from a valid epoch-table lookup; seeing it means a caller
	// constructed a client with a hand-rolled size.
	ErrSizeInvariant = errors.New("ethash: size violates node/page alignment invariant")

	// ErrEpochOutOfRange is returned when block/epochLength >= maxEpoch.
	ErrEpochOutOfRange = errors.New("ethash: epoch exceeds supported range")

	// ErrAllocation is returned when a cache or DAG allocation/mmap fails.
	// Fatal for the affected client only; other clients are unaffected.
	ErrAllocation = errors.New("ethash: failed to allocate cache or dataset memory")

	// ErrFileCorrupt is returned when an existing DAG file has the
	// expected name but the wrong size or a missing/incorrect magic
	// number. The Full client recovers by forcing recreation exactly
	// once; if that also fails to yield a fresh file, this is surfaced.
	ErrFileCorrupt = errors.New("ethash: DAG file failed the magic-number/size check")

	// ErrCancelled is returned when the progress callback passed to DAG
	// materialisation returned false. No partial DAG is left mapped.
	ErrCancelled = errors.New("ethash: DAG materialisation cancelled by progress callback")

	// ErrHashPrecondition is returned when dataset_size is not a multiple
	// of mixBytes at compute time. Cannot occur with valid epoch tables.
	ErrHashPrecondition = errors.New("ethash: dataset size is not a multiple of the mix width")
)
