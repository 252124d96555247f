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
	"math/big"
	"math/rand"
	"os"
	"sync"
	"testing"
)

// header32 turns a short string into a deterministic, reproducible 32-byte
// header digest for use across these tests.
func header32(s string) []byte {
	h := crypto_keccak256([]byte(s))
	return h
}

func TestLightFullAgree(t *testing.T) {
	light, err := NewLight(Config{PowMode: ModeTest}, 1)
	if err != nil {
		t.Fatalf("NewLight: %v", err)
	}
	defer light.Release()

	full, err := NewFull(light, "", nil)
	if err != nil {
		t.Fatalf("NewFull: %v", err)
	}
	defer full.Release()

	header := header32("light-full-agree")
	const nonce = 42

	lmix, lresult, err := light.Compute(header, nonce)
	if err != nil {
		t.Fatalf("light Compute: %v", err)
	}
	fmix, fresult, err := full.Compute(header, nonce)
	if err != nil {
		t.Fatalf("full Compute: %v", err)
	}
	if lmix != fmix {
		t.Errorf("mix mismatch: light %x full %x", lmix, fmix)
	}
	if lresult != fresult {
		t.Errorf("result mismatch: light %x full %x", lresult, fresult)
	}
}

func TestComputeDeterministic(t *testing.T) {
	light, err := NewLight(Config{PowMode: ModeTest}, 1)
	if err != nil {
		t.Fatalf("NewLight: %v", err)
	}
	defer light.Release()

	header := header32("deterministic")
	mix1, result1, err := light.Compute(header, 7)
	if err != nil {
		t.Fatal(err)
	}
	mix2, result2, err := light.Compute(header, 7)
	if err != nil {
		t.Fatal(err)
	}
	if mix1 != mix2 || result1 != result2 {
		t.Error("Compute is not deterministic for identical inputs")
	}

	mix3, _, err := light.Compute(header, 8)
	if err != nil {
		t.Fatal(err)
	}
	if mix1 == mix3 {
		t.Error("different nonces produced identical mix digests")
	}
}

func TestQuickHashMatchesCompute(t *testing.T) {
	light, err := NewLight(Config{PowMode: ModeTest}, 1)
	if err != nil {
		t.Fatalf("NewLight: %v", err)
	}
	defer light.Release()

	var header [32]byte
	copy(header[:], header32("quick-hash-agrees"))
	const nonce = 123456

	mix, result, err := light.Compute(header[:], nonce)
	if err != nil {
		t.Fatal(err)
	}
	got := QuickHash(header, nonce, mix)
	if got != result {
		t.Errorf("QuickHash disagrees with Compute: got %x want %x", got, result)
	}
}

func TestQuickCheckDifficulty(t *testing.T) {
	var header [32]byte
	copy(header[:], header32("quick-check"))
	var mix [32]byte
	copy(mix[:], header32("some-mix"))

	hash := QuickHash(header, 1, mix)

	// The hash trivially satisfies a boundary of all-0xff.
	var easy [32]byte
	for i := range easy {
		easy[i] = 0xff
	}
	if !QuickCheckDifficulty(header, 1, mix, easy) {
		t.Error("expected hash to satisfy the maximal boundary")
	}

	// And trivially fails a boundary smaller than itself, unless hash
	// happens to be all zero (astronomically unlikely for Keccak output).
	var impossible [32]byte
	if QuickCheckDifficulty(header, 1, mix, impossible) && hash != impossible {
		t.Error("expected hash to fail the zero boundary")
	}
}

func TestSeedHashChain(t *testing.T) {
	s0 := SeedHash(0)
	var zero [32]byte
	if s0 != zero {
		t.Errorf("seed hash for epoch 0 must be the zero digest, got %x", s0)
	}
	s1 := SeedHash(epochLength)
	if s1 == zero {
		t.Error("seed hash for epoch 1 must not be the zero digest")
	}
	// Advancing one more epoch must re-derive by hashing the previous seed.
	var want [32]byte
	copy(want[:], crypto_keccak256(s0[:]))
	if s1 != want {
		t.Errorf("seed hash for epoch 1 = %x, want Keccak-256 of epoch 0's seed %x", s1, want)
	}
	// seedHash(block) depends only on the epoch, not the block offset
	// within it.
	sameEpoch := SeedHash(epochLength + epochLength/2)
	if sameEpoch != s1 {
		t.Error("seed hash changed within the same epoch")
	}
}

func TestCacheSizeExactness(t *testing.T) {
	size, ok := cacheSize(0)
	if !ok {
		t.Fatal("epoch 0 must be in range")
	}
	if size%hashBytes != 0 {
		t.Errorf("cache size %d not a multiple of hashBytes", size)
	}
	if !new(big.Int).SetUint64(size / hashBytes).ProbablyPrime(1) {
		t.Errorf("cache size %d in hashBytes units is not prime", size/hashBytes)
	}
}

func TestDatasetSizeExactness(t *testing.T) {
	size, ok := datasetSize(0)
	if !ok {
		t.Fatal("epoch 0 must be in range")
	}
	if size%mixBytes != 0 {
		t.Errorf("dataset size %d not a multiple of mixBytes", size)
	}
	if !new(big.Int).SetUint64(size / mixBytes).ProbablyPrime(1) {
		t.Errorf("dataset size %d in mixBytes units is not prime", size/mixBytes)
	}
}

func TestEpochOutOfRange(t *testing.T) {
	if _, ok := cacheSize(uint64(maxEpoch) * epochLength); ok {
		t.Error("expected epoch at maxEpoch to be out of range")
	}
	if _, ok := datasetSize(uint64(maxEpoch) * epochLength); ok {
		t.Error("expected epoch at maxEpoch to be out of range")
	}
}

func TestBoundary(t *testing.T) {
	b := Boundary(big.NewInt(2))
	want := new(big.Int).Div(two256, big.NewInt(2))
	if b.Cmp(want) != 0 {
		t.Errorf("Boundary(2) = %v, want %v", b, want)
	}
}

// TestCacheFileEvict reproduces the teacher's LRU stress regression test
// (go-ethereum issue 14943): hammering caches across many epochs from many
// goroutines must never crash the LRU bookkeeping.
func TestCacheFileEvict(t *testing.T) {
	tmpdir, err := os.MkdirTemp("", "ethash-test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpdir)

	e := New(Config{CachesInMem: 3, CachesOnDisk: 10, CacheDir: tmpdir, PowMode: ModeTest})
	defer e.Close()

	workers := 8
	epochs := 100
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go verifyCacheEvict(&wg, e, i, epochs)
	}
	wg.Wait()
}

func verifyCacheEvict(wg *sync.WaitGroup, e *Ethash, workerIndex, epochs int) {
	defer wg.Done()

	const wiggle = 4 * epochLength
	r := rand.New(rand.NewSource(int64(workerIndex)))
	for epoch := 0; epoch < epochs; epoch++ {
		block := int64(epoch)*epochLength - wiggle/2 + r.Int63n(wiggle)
		if block < 0 {
			block = 0
		}
		e.cache(uint64(block))
	}
}

func TestNewTesterModeIsTest(t *testing.T) {
	e := NewTester()
	defer e.Close()
	if e.config.PowMode != ModeTest {
		t.Error("NewTester must configure ModeTest")
	}
}
