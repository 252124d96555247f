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
	"hash"
	"math/big"
	"reflect"
	"runtime"
	"sync/atomic"
	"unsafe"

	"golang.org/x/crypto/sha3"
)

const (
	datasetInitBytes   = 1 << 30 // Bytes in dataset at epoch 0
	datasetGrowthBytes = 1 << 23 // Dataset growth per epoch
	cacheInitBytes     = 1 << 24 // Bytes in cache at epoch 0
	cacheGrowthBytes   = 1 << 17 // Cache growth per epoch
	epochLength        = 30000   // Blocks per epoch
	mixBytes           = 128     // Width of mix
	hashBytes          = 64      // Hash length in bytes
	hashWords          = 16      // Number of 32 bit ints in a hash
	datasetParents     = 256     // Number of parents of each dataset element
	cacheRounds        = 3       // Number of rounds in cache production
	loopAccesses       = 64      // Number of accesses in hashimoto loop
	maxEpoch           = 2048    // Number of supported epochs
)

// fnv is the FNV-1 non-cryptographic mixer: x -> (x * FNV_PRIME) XOR y,
// with 32-bit wraparound multiplication. It is not a hash in the
// cryptographic sense; it is deliberately cheap and is only ever used to
// spread index selection and combine words, with Keccak providing the
// cryptographic strength.
func fnv(a, b uint32) uint32 {
	return a*0x01000193 ^ b
}

// fnvHash mixes in data into mix using the ethash fnv method, one 32-bit
// word at a time, in place. Used by both the cache builder's SeqMemoHash
// XOR step's successor (the DAG-item function) and the hashimoto loop.
func fnvHash(mix []uint32, data []uint32) {
	for i := 0; i < len(mix); i++ {
		mix[i] = fnv(mix[i], data[i])
	}
}

// hasher is a repetitive hasher allowing the same hash data structures to
// be reused between hash runs instead of requiring new ones to be created.
// The returned function is not thread safe.
type hasher func(dest []byte, data []byte)

// makeHasher creates a repetitive hasher, allowing the same hash data
// structures to be reused between hash runs instead of requiring new ones
// to be created. This hashes with pre-standardisation Keccak (padding
// 0x01), which is exactly what golang.org/x/crypto/sha3's "Legacy" Keccak
// constructors provide; the standard library's crypto/sha3 is FIPS-202
// (padding 0x06) and must never be substituted here.
func makeHasher(h hash.Hash) hasher {
	// sha3.state supports Read to get the sum, use it to avoid the overhead of Sum.
	// Read alters the state but we reset the hash before every operation.
	type readerHash interface {
		hash.Hash
		Read([]byte) (int, error)
	}
	rh, ok := h.(readerHash)
	if !ok {
		panic("can't find Read method on hash")
	}
	outputLen := rh.Size()
	return func(dest []byte, data []byte) {
		rh.Reset()
		rh.Write(data)
		rh.Read(dest[:outputLen])
	}
}

// seedHash is the seed to use for generating a verification cache and the
// mining dataset: Keccak-256 iterated `epoch` times from the 32-byte zero
// digest.
func seedHash(block uint64) []byte {
	seed := make([]byte, 32)
	if block < epochLength {
		return seed
	}
	keccak256 := makeHasher(sha3.NewLegacyKeccak256())
	for i := 0; i < int(block/epochLength); i++ {
		keccak256(seed, seed)
	}
	return seed
}

// calcCacheSize calculates and returns the size of the ethash verification
// cache that belongs to a certain block number, trimmed to the largest
// prime number of node size (64 byte) units below cache_bytes(e) =
// 2^24 + 2^17*e - 64.
func calcCacheSize(epoch int) uint64 {
	size := cacheInitBytes + cacheGrowthBytes*uint64(epoch) - hashBytes
	for !new(big.Int).SetUint64(size / hashBytes).ProbablyPrime(1) {
		size -= 2 * hashBytes
	}
	return size
}

// calcDatasetSize calculates and returns the size of the ethash mining
// dataset that belongs to a certain block number, trimmed to the largest
// prime number of mix size (128 byte) units below dataset_bytes(e) =
// 2^30 + 2^23*e - 128.
func calcDatasetSize(epoch int) uint64 {
	size := datasetInitBytes + datasetGrowthBytes*uint64(epoch) - mixBytes
	for !new(big.Int).SetUint64(size / mixBytes).ProbablyPrime(1) {
		size -= 2 * mixBytes
	}
	return size
}

// cacheSizes and datasetSizes are lazily populated, process-wide caches of
// calcCacheSize/calcDatasetSize, indexed by epoch. The prime-trimmed size
// for a given epoch is a pure function of the epoch number, so computing
// it lazily and memoizing avoids paying the cost for epochs nobody looks
// up while still matching a precomputed reference table byte-for-byte.
var (
	cacheSizes   [maxEpoch]uint64
	datasetSizes [maxEpoch]uint64
)

// cacheSize returns the size of the ethash verification cache that belongs
// to a certain block number. ok is false if the epoch is maxEpoch or later.
func cacheSize(block uint64) (size uint64, ok bool) {
	epoch := int(block / epochLength)
	if epoch >= maxEpoch {
		return 0, false
	}
	if s := atomic.LoadUint64(&cacheSizes[epoch]); s != 0 {
		return s, true
	}
	size = calcCacheSize(epoch)
	atomic.StoreUint64(&cacheSizes[epoch], size)
	return size, true
}

// datasetSize returns the size of the ethash mining dataset that belongs
// to a certain block number. ok is false if the epoch is maxEpoch or later.
func datasetSize(block uint64) (size uint64, ok bool) {
	epoch := int(block / epochLength)
	if epoch >= maxEpoch {
		return 0, false
	}
	if s := atomic.LoadUint64(&datasetSizes[epoch]); s != 0 {
		return s, true
	}
	size = calcDatasetSize(epoch)
	atomic.StoreUint64(&datasetSizes[epoch], size)
	return size, true
}

// isLittleEndian reports whether the local host is running in little or
// big endian byte order. Word arithmetic reads and writes Keccak output
// through explicit little-endian encoding. generateCache byte-swaps the
// finished cache once on a big-endian host, so its []uint32 view holds
// host-order words; buffers and files written there are therefore not
// little-endian, and their file names carry a ".be" suffix (see dagPath).
func isLittleEndian() bool {
	n := uint32(0x01020304)
	return *(*byte)(unsafe.Pointer(&n)) == 0x04
}

// generateCache creates a verification cache of a given size for a given
// epoch, using the SeqMemoHash construction: a sequential Keccak-512
// chain seeding the buffer, followed by a fixed number of XOR+Keccak-512
// mixing rounds over the whole buffer.
func generateCache(dest []uint32, epoch int, seed []byte) {
	// Convert our destination slice to a byte buffer
	header := *(*reflect.SliceHeader)(unsafe.Pointer(&dest))
	header.Len *= 4
	header.Cap *= 4
	cache := *(*[]byte)(unsafe.Pointer(&header))

	// Calculate the number of theoretical rows (we'll store in one buffer nonetheless)
	size := uint64(len(cache))
	rows := int(size) / hashBytes

	// Create a hasher to reuse between invocations
	keccak512 := makeHasher(sha3.NewLegacyKeccak512())

	// Sequentially produce the initial dataset: node[0] = Keccak512(seed),
	// node[i] = Keccak512(node[i-1]). The sequential dependency chain is
	// the whole point of SeqMemoHash: it rules out parallel construction.
	keccak512(cache, seed)
	for offset := uint64(hashBytes); offset < size; offset += hashBytes {
		keccak512(cache[offset:], cache[offset-hashBytes:offset])
	}
	// Use a low-round version of randmemohash
	temp := make([]byte, hashBytes)

	for i := 0; i < cacheRounds; i++ {
		for j := 0; j < rows; j++ {
			var (
				srcOff = ((j - 1 + rows) % rows) * hashBytes
				dstOff = j * hashBytes
				xorOff = (binary.LittleEndian.Uint32(cache[dstOff:]) % uint32(rows)) * hashBytes
			)
			xorBytes(temp, cache[srcOff:srcOff+hashBytes], cache[xorOff:xorOff+hashBytes])
			keccak512(cache[dstOff:], temp)
		}
	}
	// Swap the byte order on big endian systems and return
	if !isLittleEndian() {
		swap(cache)
	}
}

// xorBytes sets dst[i] = a[i] ^ b[i] for i in [0, hashBytes): the node-wise
// XOR step of the cache mixing round.
func xorBytes(dst, a, b []byte) {
	for i := 0; i < hashBytes; i++ {
		dst[i] = a[i] ^ b[i]
	}
}

// swap changes the byte order of the buffer assuming a uint32 representation.
func swap(buffer []byte) {
	for i := 0; i < len(buffer); i += 4 {
		binary.BigEndian.PutUint32(buffer[i:], binary.LittleEndian.Uint32(buffer[i:]))
	}
}

// generateDatasetItem combines data from 256 pseudorandomly selected cache
// nodes, and hashes that to compute a single dataset item.
func generateDatasetItem(cache []uint32, index uint32, keccak512 hasher) []byte {
	// Calculate the number of theoretical rows (we use one buffer nonetheless)
	rows := uint32(len(cache) / hashWords)

	// Initialize the mix
	mix := make([]byte, hashBytes)

	binary.LittleEndian.PutUint32(mix, cache[(index%rows)*hashWords]^index)
	for i := 1; i < hashWords; i++ {
		binary.LittleEndian.PutUint32(mix[i*4:], cache[(index%rows)*hashWords+uint32(i)])
	}
	keccak512(mix, mix)

	// Convert the mix to uint32s to avoid constant bit shifting
	intMix := make([]uint32, hashWords)
	for i := 0; i < len(intMix); i++ {
		intMix[i] = binary.LittleEndian.Uint32(mix[i*4:])
	}
	// fnv it with the cache using the fnv method
	for i := uint32(0); i < datasetParents; i++ {
		parent := fnv(index^i, intMix[i%16]) % rows
		fnvHash(intMix, cache[parent*hashWords:])
	}
	// Flatten the uint32 mix into a binary one and return
	for i, val := range intMix {
		binary.LittleEndian.PutUint32(mix[i*4:], val)
	}
	keccak512(mix, mix)
	return mix
}

// generateDataset generates the entire ethash dataset for mining, with no
// progress reporting or cancellation. Node computation is dispatched
// across all available CPUs: the full-DAG materialiser is embarrassingly
// parallel across indices and needs no synchronization beyond the final
// barrier each worker's loop implies before the caller uses the result.
// Used for in-memory (non-disk-backed) datasets, where there is no file
// to tag with a completion magic and nothing meaningful to cancel.
func generateDataset(dest []uint32, cache []uint32) {
	generateDatasetWithProgress(dest, cache, nil)
}

// ProgressFunc reports DAG materialisation progress as a percentage in
// [0, 100], invoked at each 1% boundary, serialised, monotonically
// non-decreasing. Returning false aborts materialisation and guarantees
// no partial success is observable by the caller.
type ProgressFunc func(percent int) (ok bool)

// generateDatasetWithProgress is the full-DAG materialiser. It populates
// every node of dest (a dataset_size-sized, hashWords-per-node uint32
// view) by calling generateDatasetItem for each index, dispatched across
// all CPUs. If progress is non-nil it is invoked, from a single dedicated
// goroutine so calls are serialised and monotonic, at each 1% boundary; a
// false return cancels the remaining work and generateDatasetWithProgress
// returns false. No partial writes are observable by the caller in that
// case because the caller (ethash.go) only promotes a dataset to
// "complete" (and only then writes the magic number) after a true
// return.
func generateDatasetWithProgress(dest []uint32, cache []uint32, progress ProgressFunc) bool {
	swapped := !isLittleEndian()
	threads := runtime.NumCPU()
	rows := uint32(len(dest) / hashWords)

	var cancelled atomic.Bool
	var done atomic.Uint64

	var pend atomic.Int32
	pend.Add(int32(threads))

	for i := 0; i < threads; i++ {
		go func(id int) {
			defer pend.Add(-1)

			keccak512 := makeHasher(sha3.NewLegacyKeccak512())

			batch := (rows + uint32(threads) - 1) / uint32(threads)
			first := uint32(id) * batch
			limit := first + batch
			if limit > rows {
				limit = rows
			}
			for index := first; index < limit; index++ {
				if cancelled.Load() {
					return
				}
				item := generateDatasetItem(cache, index, keccak512)
				if swapped {
					swap(item)
				}
				copy(dest[index*hashWords:], bytesToUint32s(item))
				done.Add(1)
			}
		}(i)
	}

	// Poll completion from this goroutine only, so progress is reported by
	// a single, serialised caller without adding synchronization to the
	// hot per-node loop above.
	reported := -1
	for pend.Load() > 0 {
		if progress != nil && rows > 0 {
			percent := int(done.Load() * 100 / uint64(rows))
			if percent > 100 {
				percent = 100
			}
			for reported < percent && !cancelled.Load() {
				reported++
				if !progress(reported) {
					cancelled.Store(true)
				}
			}
		}
		runtime.Gosched()
	}
	for progress != nil && reported < 100 && !cancelled.Load() {
		reported++
		if !progress(reported) {
			cancelled.Store(true)
		}
	}
	return !cancelled.Load()
}

// bytesToUint32s reinterprets a little-endian byte slice as a slice of
// uint32 words, by explicit decode (not unsafe reinterpretation) so the
// caller owns a stable copy regardless of alignment.
func bytesToUint32s(b []byte) []uint32 {
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return out
}

// hashimoto aggregates data from the full dataset (or a cache in light
// mode) in order to produce the final value for a particular header hash
// and nonce. It is parameterized over a `lookup` capability so the light
// and full paths share one implementation.
func hashimoto(hash []byte, nonce uint64, size uint64, lookup func(index uint32) []uint32) ([]byte, []byte) {
	// Calculate the number of theoretical rows (we use one buffer nonetheless)
	rows := uint32(size / mixBytes)

	// Combine header+nonce into a 40 byte seed
	seed := make([]byte, 40)
	copy(seed, hash)
	binary.LittleEndian.PutUint64(seed[32:], nonce)

	seed = crypto_keccak512(seed)
	seedHead := binary.LittleEndian.Uint32(seed)

	// Start the mix with replicated seed
	mix := make([]uint32, mixBytes/4)
	for i := 0; i < len(mix); i++ {
		mix[i] = binary.LittleEndian.Uint32(seed[i%16*4:])
	}
	// Mix in random dataset nodes
	temp := make([]uint32, len(mix))

	for i := 0; i < loopAccesses; i++ {
		parent := fnv(uint32(i)^seedHead, mix[i%len(mix)]) % rows
		for j := uint32(0); j < mixBytes/hashBytes; j++ {
			copy(temp[j*hashWords:], lookup(2*parent+j))
		}
		fnvHash(mix, temp)
	}
	// Compress mix
	for i := 0; i < len(mix); i += 4 {
		mix[i/4] = fnv(fnv(fnv(mix[i], mix[i+1]), mix[i+2]), mix[i+3])
	}
	mix = mix[:len(mix)/4]

	digest := make([]byte, hashBytes/2)
	for i, val := range mix {
		binary.LittleEndian.PutUint32(digest[i*4:], val)
	}
	result := crypto_keccak256(append(seed, digest...))
	return digest, result
}

// crypto_keccak256 and crypto_keccak512 are one-shot Keccak helpers used
// by hashimoto and quick.go. Split out from makeHasher's reusable closures
// because these call sites run cold (once per Compute), where the
// allocation is immaterial and the plain functional form reads clearer.
func crypto_keccak256(data []byte) []byte {
	out := make([]byte, 32)
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	h.Sum(out[:0])
	return out
}

func crypto_keccak512(data []byte) []byte {
	out := make([]byte, 64)
	h := sha3.NewLegacyKeccak512()
	h.Write(data)
	h.Sum(out[:0])
	return out
}

// hashimotoLight aggregates data from the full dataset (using only a
// small in-memory cache) in order to produce our final value for a
// particular header hash and nonce, by recomputing each dataset node
// on demand via generateDatasetItem.
func hashimotoLight(size uint64, cache []uint32, hash []byte, nonce uint64) ([]byte, []byte) {
	keccak512 := makeHasher(sha3.NewLegacyKeccak512())

	lookup := func(index uint32) []uint32 {
		rawData := generateDatasetItem(cache, index, keccak512)
		if !isLittleEndian() {
			swap(rawData)
		}
		return bytesToUint32s(rawData)
	}
	return hashimoto(hash, nonce, size, lookup)
}

// hashimotoFull aggregates data from the full dataset (using the full
// in-memory dataset) in order to produce our final value for a particular
// header hash and nonce, reading a materialised DAG directly.
func hashimotoFull(dataset []uint32, hash []byte, nonce uint64) ([]byte, []byte) {
	lookup := func(index uint32) []uint32 {
		offset := index * hashWords
		return dataset[offset : offset+hashWords]
	}
	return hashimoto(hash, nonce, uint64(len(dataset))*4, lookup)
}
