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
	"bytes"
	"testing"

	"golang.org/x/crypto/sha3"
)

func TestFNVCommutativityIsNotAssumed(t *testing.T) {
	// fnv is deliberately not commutative (a*prime^b), unlike plain XOR;
	// this guards against an accidental simplification reintroducing one.
	if fnv(1, 2) == fnv(2, 1) {
		t.Errorf("fnv(1, 2) == fnv(2, 1) == %#x: fnv must not be symmetric", fnv(1, 2))
	}
}

func TestGenerateCacheDeterministic(t *testing.T) {
	seed := seedHash(0)
	size := uint64(1024)

	c1 := make([]uint32, size/4)
	generateCache(c1, 0, seed)

	c2 := make([]uint32, size/4)
	generateCache(c2, 0, seed)

	if !uint32sEqual(c1, c2) {
		t.Error("generateCache is not deterministic for identical (epoch, seed)")
	}
}

func TestGenerateCacheDiffersAcrossEpochs(t *testing.T) {
	size := uint64(1024)

	c0 := make([]uint32, size/4)
	generateCache(c0, 0, seedHash(0))

	c1 := make([]uint32, size/4)
	generateCache(c1, 1, seedHash(epochLength))

	if uint32sEqual(c0, c1) {
		t.Error("caches for different epochs must differ")
	}
}

func TestGenerateDatasetItemDeterministic(t *testing.T) {
	cache := make([]uint32, 1024/4)
	generateCache(cache, 0, seedHash(0))

	keccak512 := makeHasher(sha3.NewLegacyKeccak512())

	a := generateDatasetItem(cache, 5, keccak512)
	b := generateDatasetItem(cache, 5, keccak512)
	if !bytes.Equal(a, b) {
		t.Error("generateDatasetItem is not deterministic for identical (cache, index)")
	}

	c := generateDatasetItem(cache, 6, keccak512)
	if bytes.Equal(a, c) {
		t.Error("different indexes produced identical dataset items")
	}
}

func TestDatasetMatchesPerItemGeneration(t *testing.T) {
	cache := make([]uint32, 1024/4)
	generateCache(cache, 0, seedHash(0))

	dataset := make([]uint32, 32*1024/4)
	generateDataset(dataset, cache)

	keccak512 := makeHasher(sha3.NewLegacyKeccak512())
	rows := uint32(len(dataset) / hashWords)
	for idx := uint32(0); idx < rows; idx++ {
		item := generateDatasetItem(cache, idx, keccak512)
		if !isLittleEndian() {
			swap(item)
		}
		want := bytesToUint32s(item)
		got := dataset[idx*hashWords : (idx+1)*hashWords]
		if !uint32sEqual(got, want) {
			t.Fatalf("dataset row %d disagrees with per-item generation", idx)
		}
	}
}

func TestGenerateDatasetWithProgressReportsCompletion(t *testing.T) {
	cache := make([]uint32, 1024/4)
	generateCache(cache, 0, seedHash(0))
	dataset := make([]uint32, 32*1024/4)

	var reported []int
	ok := generateDatasetWithProgress(dataset, cache, func(percent int) bool {
		reported = append(reported, percent)
		return true
	})
	if !ok {
		t.Fatal("expected generateDatasetWithProgress to succeed")
	}
	if len(reported) == 0 || reported[len(reported)-1] != 100 {
		t.Errorf("expected progress to finish at 100, got %v", reported)
	}
	for i := 1; i < len(reported); i++ {
		if reported[i] < reported[i-1] {
			t.Errorf("progress must be monotonically non-decreasing, got %v", reported)
		}
	}
}

func TestGenerateDatasetWithProgressCancels(t *testing.T) {
	cache := make([]uint32, 1024/4)
	generateCache(cache, 0, seedHash(0))
	dataset := make([]uint32, 32*1024/4)

	ok := generateDatasetWithProgress(dataset, cache, func(percent int) bool {
		return false
	})
	if ok {
		t.Error("expected generateDatasetWithProgress to report cancellation")
	}
}

func TestHashimotoLightFullAgreeDirectly(t *testing.T) {
	cache := make([]uint32, 1024/4)
	generateCache(cache, 0, seedHash(0))
	dataset := make([]uint32, 32*1024/4)
	generateDataset(dataset, cache)

	header := make([]byte, 32)
	for i := range header {
		header[i] = byte(i)
	}
	const nonce = 999

	ldigest, lresult := hashimotoLight(uint64(len(dataset))*4, cache, header, nonce)
	fdigest, fresult := hashimotoFull(dataset, header, nonce)

	if !bytes.Equal(ldigest, fdigest) {
		t.Errorf("light/full mix digest mismatch: %x vs %x", ldigest, fdigest)
	}
	if !bytes.Equal(lresult, fresult) {
		t.Errorf("light/full result mismatch: %x vs %x", lresult, fresult)
	}
}

func TestSeedHashZeroForFirstEpoch(t *testing.T) {
	s := seedHash(epochLength - 1)
	for _, b := range s {
		if b != 0 {
			t.Fatal("seedHash must be the zero digest for every block in epoch 0")
		}
	}
}

func uint32sEqual(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
