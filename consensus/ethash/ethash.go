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

// Package ethash implements the etschash memory-hard proof-of-work core:
// per-epoch cache and DAG derivation, the hashimoto mixing loop, and quick
// re-verification of a stored (header, nonce, mix) triple. It deliberately
// does not know about block headers, difficulty rules, or mining loops —
// those belong to the host chain (spec.md §1, out of scope).
package ethash

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru/simplelru"

	"github.com/ETSC3259/etschash/internal/elog"
)

// two256 is a big integer representing 2^256, the numerator Boundary
// divides by a difficulty.
var two256 = new(big.Int).Lsh(big.NewInt(1), 256)

// testCacheBytes and testDatasetBytes are the shrunk cache/DAG sizes used
// under ModeTest, so unit tests run in milliseconds instead of minutes.
// Light and Full must agree on testDatasetBytes: Full's toy dataset is
// materialised at exactly this size, and Light.Compute must size its
// hashimoto call to match, or the two paths would select dataset rows
// from differently sized address spaces and never agree (spec.md §8,
// light/full equivalence).
const (
	testCacheBytes   = 1024
	testDatasetBytes = 32 * 1024
)

// Mode defines the type and amount of PoW verification a Config wants.
type Mode uint

const (
	// ModeNormal generates and uses real, full-size caches and datasets.
	ModeNormal Mode = iota
	// ModeTest shrinks the cache/dataset to a few KB so unit tests run in
	// milliseconds instead of minutes (mirrors the teacher's
	// `PowMode: ModeTest` in ethash_test.go's TestCacheFileEvict).
	ModeTest
)

// Config configures the cache/dataset lifecycle, spec.md §2's "ambient"
// collaborators: where to persist things on disk and how many epochs to
// keep resident, shaped exactly like the teacher's Config in
// consensus/ethash/ethash_test.go (`Config{CachesInMem: 2, CachesOnDisk: 3, ...}`).
type Config struct {
	CacheDir       string
	CachesInMem    int
	CachesOnDisk   int
	DatasetDir     string
	DatasetsInMem  int
	DatasetsOnDisk int
	PowMode        Mode
}

// cacheEntry wraps a cache's payload with the metadata needed for the
// lifecycle described in SPEC_FULL.md §4.1: lazy generation behind a
// sync.Once, and LRU-ordered eviction in Ethash.cache below.
type cacheEntry struct {
	epoch uint64
	seed  []byte

	handle *mmapHandle // non-nil only if disk-backed
	cache  []uint32

	once sync.Once
	err  error
}

func (c *cacheEntry) generate(dir string, onDisk int, mode Mode) error {
	c.once.Do(func() {
		if mode == ModeTest {
			c.cache = make([]uint32, testCacheBytes/4)
			generateCache(c.cache, int(c.epoch), c.seed)
			return
		}
		size, ok := cacheSize(c.epoch * epochLength)
		if !ok {
			c.err = fmt.Errorf("%w: epoch %d", ErrEpochOutOfRange, c.epoch)
			return
		}
		if size%hashBytes != 0 {
			c.err = fmt.Errorf("%w: cache size %d", ErrSizeInvariant, size)
			return
		}
		if dir == "" {
			c.cache = make([]uint32, size/4)
			generateCache(c.cache, int(c.epoch), c.seed)
			return
		}
		path := dagPath(dir, "cache", c.seed)
		logger := elog.New("epoch", c.epoch)

		result, handle, err := prepare(path, size, false)
		switch result {
		case prepareMemoMatch:
			c.handle, c.cache = handle, handle.body
			logger.Debug("loaded cache from disk")
			return
		case prepareMemoMismatch:
			// prepare already created and mapped a fresh file for us;
			// materialize directly into its handle below rather than
			// preparing (and mapping) a second one.
		case prepareFail:
			logger.Debug("falling back to in-memory cache", "err", err)
			c.cache = make([]uint32, size/4)
			generateCache(c.cache, int(c.epoch), c.seed)
			return
		default: // prepareMemoSizeMismatch
			result, handle, err = prepare(path, size, true)
			if err != nil || result != prepareMemoMismatch {
				logger.Error("failed to prepare cache file", "err", err)
				c.cache = make([]uint32, size/4)
				generateCache(c.cache, int(c.epoch), c.seed)
				return
			}
		}
		generateCache(handle.body, int(c.epoch), c.seed)
		if err := handle.writeMagic(); err != nil {
			logger.Error("failed to finalize cache file", "err", err)
		}
		c.handle, c.cache = handle, handle.body
		purgeStale(dir, "cache", c.epoch, onDisk)
	})
	return c.err
}

func (c *cacheEntry) release() {
	if c.handle != nil {
		c.handle.release()
		c.handle = nil
	}
}

// datasetEntry is the Full-client analogue of cacheEntry: a materialised
// DAG, always disk/mmap-backed when a directory is configured (spec.md
// §5: "DAG storage MUST be mmap-backed, not heap-allocated").
type datasetEntry struct {
	epoch uint64
	seed  []byte

	handle  *mmapHandle
	dataset []uint32

	once sync.Once
	err  error
}

func (d *datasetEntry) generate(dir string, onDisk int, mode Mode, progress ProgressFunc) error {
	d.once.Do(func() {
		if mode == ModeTest {
			cache := make([]uint32, testCacheBytes/4)
			generateCache(cache, int(d.epoch), d.seed)
			d.dataset = make([]uint32, testDatasetBytes/4)
			generateDataset(d.dataset, cache)
			return
		}
		csize, ok := cacheSize(d.epoch * epochLength)
		if !ok {
			d.err = fmt.Errorf("%w: epoch %d", ErrEpochOutOfRange, d.epoch)
			return
		}
		dsize, ok := datasetSize(d.epoch * epochLength)
		if !ok {
			d.err = fmt.Errorf("%w: epoch %d", ErrEpochOutOfRange, d.epoch)
			return
		}
		if dsize%mixBytes != 0 || dsize%hashBytes != 0 {
			d.err = fmt.Errorf("%w: dataset size %d", ErrSizeInvariant, dsize)
			return
		}
		cache := make([]uint32, csize/4)
		generateCache(cache, int(d.epoch), d.seed)

		if dir == "" {
			d.dataset = make([]uint32, dsize/4)
			generateDataset(d.dataset, cache)
			return
		}
		path := dagPath(dir, "full", d.seed)
		logger := elog.New("epoch", d.epoch)

		result, handle, err := prepare(path, dsize, false)
		switch result {
		case prepareMemoMatch:
			d.handle, d.dataset = handle, handle.body
			logger.Debug("loaded DAG from disk")
			return
		case prepareMemoMismatch:
			// prepare already created and mapped a fresh file for us;
			// materialize directly into its handle below rather than
			// preparing (and mapping) a second one.
		case prepareFail:
			logger.Error("failed to read DAG file", "err", err)
		default: // prepareMemoSizeMismatch
			result, handle, err = prepare(path, dsize, true)
			if err == nil && result != prepareMemoMismatch {
				// spec.md §9: a forced recreate that reports anything
				// other than "fresh file" is fatal, not retried again.
				err = fmt.Errorf("%w: forced recreate of %s did not yield a fresh file", ErrFileCorrupt, path)
			}
		}
		if err != nil {
			// spec.md §5: the DAG MUST be mmap-backed, not heap-allocated,
			// so a disk/mmap failure here is surfaced rather than silently
			// degraded to an in-process allocation (spec.md §7).
			if errors.Is(err, ErrFileCorrupt) {
				d.err = err
			} else {
				d.err = fmt.Errorf("%w: %v", ErrAllocation, err)
			}
			logger.Error("failed to prepare DAG file", "err", d.err)
			return
		}
		ok = generateDatasetWithProgress(handle.body, cache, progress)
		if !ok {
			handle.release()
			d.err = ErrCancelled
			return
		}
		if err := handle.writeMagic(); err != nil {
			d.err = err
			handle.release()
			return
		}
		d.handle, d.dataset = handle, handle.body
		purgeStale(dir, "full", d.epoch, onDisk)
	})
	return d.err
}

func (d *datasetEntry) release() {
	if d.handle != nil {
		d.handle.release()
		d.handle = nil
	}
}

// purgeStale removes on-disk cache/DAG files for epochs onDisk or more
// behind the current one, so the current epoch's file and the onDisk-1
// before it are kept, SPEC_FULL.md §4.2, mirroring the corpus forks'
// eviction of old dumps.
func purgeStale(dir, prefix string, epoch uint64, onDisk int) {
	if onDisk <= 0 {
		return
	}
	for e := int64(epoch) - int64(onDisk); e >= 0; e-- {
		seed := seedHash(uint64(e) * epochLength)
		removeIfExists(dagPath(dir, prefix, seed))
	}
}

// Ethash is the PoW core's client: it owns bounded in-memory pools of
// recent-epoch caches and datasets, generating or loading them on demand.
// It corresponds to spec.md's Light+Full client pair combined behind one
// type, matching the teacher's Ethash struct shape.
type Ethash struct {
	config Config

	caches   *lru.LRU // epoch uint64 -> *cacheEntry
	datasets *lru.LRU // epoch uint64 -> *datasetEntry

	lock sync.Mutex
}

// New creates a full-sized PoW core with the given lifecycle configuration.
func New(config Config) *Ethash {
	if config.CachesInMem <= 0 {
		config.CachesInMem = 1
	}
	caches, _ := lru.NewLRU(config.CachesInMem, func(_ interface{}, v interface{}) {
		v.(*cacheEntry).release()
	})
	datasetLimit := config.DatasetsInMem
	if datasetLimit <= 0 {
		datasetLimit = 1
	}
	datasets, _ := lru.NewLRU(datasetLimit, func(_ interface{}, v interface{}) {
		v.(*datasetEntry).release()
	})
	return &Ethash{config: config, caches: caches, datasets: datasets}
}

// NewTester creates a tiny PoW core (ModeTest) for unit tests, mirroring
// the teacher's NewTester helper used throughout ethash_test.go.
func NewTester() *Ethash {
	return New(Config{CachesInMem: 1, DatasetsInMem: 1, PowMode: ModeTest})
}

// Close releases every cache and dataset currently resident. Safe to call
// even if some entries were never generated.
func (e *Ethash) Close() error {
	e.lock.Lock()
	defer e.lock.Unlock()
	for _, k := range e.caches.Keys() {
		if v, ok := e.caches.Peek(k); ok {
			v.(*cacheEntry).release()
		}
	}
	for _, k := range e.datasets.Keys() {
		if v, ok := e.datasets.Peek(k); ok {
			v.(*datasetEntry).release()
		}
	}
	return nil
}

// cache retrieves (generating or loading if necessary) the verification
// cache for block's epoch, and opportunistically pre-warms the next
// epoch's cache in the background (SPEC_FULL.md §4.1) so crossing an
// epoch boundary never pays the full generation cost synchronously.
func (e *Ethash) cache(block uint64) (*cacheEntry, error) {
	epoch := block / epochLength

	e.lock.Lock()
	var entry *cacheEntry
	if v, ok := e.caches.Get(epoch); ok {
		entry = v.(*cacheEntry)
	} else {
		entry = &cacheEntry{epoch: epoch, seed: seedHash(epoch * epochLength)}
		e.caches.Add(epoch, entry)
	}
	_, nextExists := e.caches.Peek(epoch + 1)
	e.lock.Unlock()

	if err := entry.generate(e.config.CacheDir, e.config.CachesOnDisk, e.config.PowMode); err != nil {
		return nil, err
	}
	if !nextExists {
		next := &cacheEntry{epoch: epoch + 1, seed: seedHash((epoch + 1) * epochLength)}
		e.lock.Lock()
		e.caches.Add(epoch+1, next)
		e.lock.Unlock()
		go next.generate(e.config.CacheDir, e.config.CachesOnDisk, e.config.PowMode)
	}
	return entry, nil
}

// dataset retrieves (generating or loading if necessary) the mining
// dataset for block's epoch, with the same epoch+1 pre-warm as cache.
func (e *Ethash) dataset(block uint64, progress ProgressFunc) (*datasetEntry, error) {
	epoch := block / epochLength

	e.lock.Lock()
	var entry *datasetEntry
	if v, ok := e.datasets.Get(epoch); ok {
		entry = v.(*datasetEntry)
	} else {
		entry = &datasetEntry{epoch: epoch, seed: seedHash(epoch * epochLength)}
		e.datasets.Add(epoch, entry)
	}
	_, nextExists := e.datasets.Peek(epoch + 1)
	e.lock.Unlock()

	if err := entry.generate(e.config.DatasetDir, e.config.DatasetsOnDisk, e.config.PowMode, progress); err != nil {
		return nil, err
	}
	if !nextExists {
		next := &datasetEntry{epoch: epoch + 1, seed: seedHash((epoch + 1) * epochLength)}
		e.lock.Lock()
		e.datasets.Add(epoch+1, next)
		e.lock.Unlock()
		go next.generate(e.config.DatasetDir, e.config.DatasetsOnDisk, e.config.PowMode, nil)
	}
	return entry, nil
}

// Light owns a single epoch's cache and computes hashimoto on demand
// (spec.md §4.J): low memory, slower per-nonce, thread-safe for
// concurrent Compute calls since the cache is read-only after generate().
type Light struct {
	block uint64
	mode  Mode
	cache *cacheEntry
}

// NewLight creates a Light client for block's epoch, generating (or
// loading) the cache synchronously. The cache is independent of any Full
// client built from it afterwards (spec.md §3 Lifecycle: "not consumed by
// Full-client construction").
func NewLight(config Config, block uint64) (*Light, error) {
	epoch := block / epochLength
	seed := seedHash(epoch * epochLength)
	entry := &cacheEntry{epoch: epoch, seed: seed}
	if err := entry.generate(config.CacheDir, config.CachesOnDisk, config.PowMode); err != nil {
		return nil, err
	}
	return &Light{block: block, mode: config.PowMode, cache: entry}, nil
}

// Compute runs the hashimoto mixer against this Light client's cache,
// spec.md §4.I option (b). header must be exactly 32 bytes.
func (l *Light) Compute(header []byte, nonce uint64) (mix [32]byte, result [32]byte, err error) {
	var (
		size uint64
		ok   = true
	)
	if l.mode == ModeTest {
		size = testDatasetBytes
	} else {
		size, ok = datasetSize(l.block)
	}
	if !ok {
		return mix, result, fmt.Errorf("%w: block %d", ErrEpochOutOfRange, l.block)
	}
	if size%mixBytes != 0 {
		return mix, result, fmt.Errorf("%w: dataset size %d", ErrHashPrecondition, size)
	}
	digest, res := hashimotoLight(size, l.cache.cache, header, nonce)
	copy(mix[:], digest)
	copy(result[:], res)
	return mix, result, nil
}

// Release unmaps and closes this Light client's cache file if the cache
// is disk-backed; an in-memory cache is left to the garbage collector.
// The cache is not shared with any Ethash pool.
func (l *Light) Release() { l.cache.release() }

// Full owns a Light client's cache plus an mmap-backed DAG and computes
// hashimoto fast, spec.md §4.K.
type Full struct {
	light   *Light
	dataset *datasetEntry
}

// NewFull builds a Full client from an existing Light client, materialising
// (or loading) the DAG into dir via the file/mmap collaborator described
// in spec.md §6. When dir is set and the mode is not ModeTest, progress,
// if non-nil, is invoked at each 1% boundary; a false return aborts
// construction with ErrCancelled and leaves no magic-tagged file behind
// (spec.md §4.H, testable property 6). With an empty dir or under
// ModeTest the DAG is generated in memory and progress is not called.
func NewFull(light *Light, dir string, progress ProgressFunc) (*Full, error) {
	epoch := light.block / epochLength
	seed := seedHash(epoch * epochLength)
	entry := &datasetEntry{epoch: epoch, seed: seed}
	onDisk := 0
	if dir != "" {
		onDisk = 1
	}
	if err := entry.generate(dir, onDisk, light.mode, progress); err != nil {
		return nil, err
	}
	return &Full{light: light, dataset: entry}, nil
}

// Compute runs the hashimoto mixer against this Full client's materialised
// DAG, spec.md §4.I option (a).
func (f *Full) Compute(header []byte, nonce uint64) (mix [32]byte, result [32]byte, err error) {
	digest, res := hashimotoFull(f.dataset.dataset, header, nonce)
	copy(mix[:], digest)
	copy(result[:], res)
	return mix, result, nil
}

// Release unmaps and closes the DAG file. Does not delete the file
// (spec.md §3 Lifecycle).
func (f *Full) Release() { f.dataset.release() }

// SeedHash returns the seed used to derive the verification cache and
// mining dataset for block, spec.md §4.E.
func SeedHash(block uint64) [32]byte {
	var out [32]byte
	copy(out[:], seedHash(block))
	return out
}

// Boundary converts a difficulty into the target = 2^256 / difficulty
// boundary that QuickCheckDifficulty and a verifier's direct result
// comparison both compare a result digest against. The host blockchain
// remains the authority on difficulty itself (spec.md §1, out of scope);
// this is only the arithmetic every caller otherwise duplicates (compare
// sealer_test.go's identical `new(big.Int).Div(new(big.Int).Lsh(big.NewInt(1), 256), header.Difficulty)`).
func Boundary(difficulty *big.Int) *big.Int {
	return new(big.Int).Div(two256, difficulty)
}

// removeIfExists deletes path, ignoring a not-exists error: used when
// purging stale on-disk caches/DAGs where the file may already be gone.
func removeIfExists(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		elog.New().Warn("failed to purge stale epoch file", "path", path, "err", err)
	}
}
