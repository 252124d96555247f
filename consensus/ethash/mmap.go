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
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"unsafe"

	"github.com/edsrzf/mmap-go"
)

// dagMagic is the 8-byte little-endian tag spec.md §3 invariant 5 and §6
// require at the start of every persisted DAG file: 0xFEE1DEADBADDCAFE,
// split into two little-endian uint32 words the way every Go ethash fork
// in the corpus (e.g. entrustash's dumpMagic) stores it.
var dagMagic = [2]uint32{0xbaddcafe, 0xfee1dead}

// prepareResult is the file/mmap collaborator's classification of an
// on-disk DAG candidate, spec.md §6.
type prepareResult int

const (
	prepareFail prepareResult = iota
	prepareMemoMatch
	prepareMemoSizeMismatch
	prepareMemoMismatch
)

// algorithmRevision is embedded in the DAG/cache file name so that a
// future format change never silently reuses a stale file.
const algorithmRevision = 23

// dagPath returns the filename the collaborator uses for a given DAG or
// cache, keyed by seed hash (spec.md §6: "filename encodes the seed
// hash...not normative"). This repo follows the teacher/corpus's literal
// scheme (SPEC_FULL.md §4.2): a revision number, the seed hash, and a
// ".be" suffix on big-endian hosts, so a file built on one host's byte
// order is never mistaken for another's.
func dagPath(dir string, prefix string, seed []byte) string {
	var endian string
	if !isLittleEndian() {
		endian = ".be"
	}
	return filepath.Join(dir, fmt.Sprintf("%s-R%d-%x%s", prefix, algorithmRevision, seed[:8], endian))
}

// mmapHandle bundles the OS file and its mapping as the single resource
// the Full client owns (spec.md DESIGN NOTES: "the Full client owns
// (file, mmap) as a single resource bundle whose destructor unmaps then
// closes"). body is the []uint32 view starting after the 8-byte magic.
type mmapHandle struct {
	file *os.File
	mem  mmap.MMap
	body []uint32
}

// release unmaps then closes, in that order, regardless of which step
// failed first — mirrors munmap-then-fclose in the original C
// (etschash_full_delete) and every Go fork's release()/delete().
func (h *mmapHandle) release() error {
	var err error
	if h.mem != nil {
		err = h.mem.Unmap()
		h.mem = nil
	}
	if h.file != nil {
		if cErr := h.file.Close(); err == nil {
			err = cErr
		}
		h.file = nil
	}
	return err
}

// openMapped maps an existing file read-write and validates the magic.
func openMapped(path string) (*mmapHandle, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	mem, buf, err := mapFile(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	for i, want := range dagMagic {
		if buf[i] != want {
			mem.Unmap()
			f.Close()
			return nil, fmt.Errorf("%w: %s", ErrFileCorrupt, path)
		}
	}
	return &mmapHandle{file: f, mem: mem, body: buf[len(dagMagic):]}, nil
}

// mapFile memory maps an already-open file descriptor read-write and
// reinterprets the mapping as a []uint32 (spec.md §3: nodes addressable
// as little-endian 32-bit words).
func mapFile(f *os.File) (mmap.MMap, []uint32, error) {
	mem, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		return nil, nil, err
	}
	header := *(*reflect.SliceHeader)(unsafe.Pointer(&mem))
	header.Len /= 4
	header.Cap /= 4
	return mem, *(*[]uint32)(unsafe.Pointer(&header)), nil
}

// createMapped creates a fresh file of exactly wantSize+magic bytes (the
// magic region zeroed, deliberately not the real tag — spec.md §9: the
// magic is written only after the body is populated), atomically renames
// it into place, and maps it read-write. Built via a temp-file-then-rename
// so a crash mid-Truncate never leaves `path` itself half-sized.
func createMapped(path string, wantSize uint64) (*mmapHandle, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	temp := fmt.Sprintf("%s.%d", path, rand.Int())
	f, err := os.Create(temp)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(len(dagMagic))*4 + int64(wantSize)); err != nil {
		f.Close()
		os.Remove(temp)
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(temp)
		return nil, err
	}
	if err := os.Rename(temp, path); err != nil {
		os.Remove(temp)
		return nil, err
	}
	return openMappedNoMagicCheck(path)
}

// openMappedNoMagicCheck maps a file read-write without validating the
// magic, used immediately after createMapped: the magic has deliberately
// not been written yet.
func openMappedNoMagicCheck(path string) (*mmapHandle, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	mem, buf, err := mapFile(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &mmapHandle{file: f, mem: mem, body: buf[len(dagMagic):]}, nil
}

// writeMagic flushes the completion magic into the mapped header. This is
// the single most load-bearing ordering constraint in the package
// (spec.md §4.K step 5, §9, testable property 6): callers must invoke it
// only after the body (h.body) has been fully populated, never before,
// never batched with the body write.
func (h *mmapHandle) writeMagic() error {
	header := *(*reflect.SliceHeader)(unsafe.Pointer(&h.mem))
	header.Len /= 4
	header.Cap /= 4
	words := *(*[]uint32)(unsafe.Pointer(&header))
	words[0], words[1] = dagMagic[0], dagMagic[1]
	return h.mem.Flush()
}

// prepare classifies an on-disk DAG/cache candidate at path against the
// wanted size, per spec.md §6's file/mmap collaborator contract:
//
//   - prepareMemoMatch: file exists, right size, correct magic. Mapped
//     and returned ready to read.
//   - prepareMemoSizeMismatch: file exists but is the wrong size (or has
//     a corrupt magic at the right size). Not touched; caller decides
//     whether to force recreation.
//   - prepareMemoMismatch: no file existed, or force recreated one.
//     Mapped and returned with a zeroed magic, ready for the caller to
//     populate the body and then call writeMagic.
//   - prepareFail: an I/O error prevented any of the above.
func prepare(path string, wantSize uint64, force bool) (prepareResult, *mmapHandle, error) {
	info, statErr := os.Stat(path)
	wantFileSize := int64(len(dagMagic))*4 + int64(wantSize)

	switch {
	case statErr != nil && !os.IsNotExist(statErr):
		return prepareFail, nil, statErr

	case statErr != nil: // does not exist
		h, err := createMapped(path, wantSize)
		if err != nil {
			return prepareFail, nil, err
		}
		return prepareMemoMismatch, h, nil

	case info.Size() != wantFileSize:
		if !force {
			return prepareMemoSizeMismatch, nil, nil
		}
		os.Remove(path)
		h, err := createMapped(path, wantSize)
		if err != nil {
			return prepareFail, nil, err
		}
		return prepareMemoMismatch, h, nil

	default:
		h, err := openMapped(path)
		if err == nil {
			return prepareMemoMatch, h, nil
		}
		if !force {
			return prepareMemoSizeMismatch, nil, nil
		}
		os.Remove(path)
		h2, cErr := createMapped(path, wantSize)
		if cErr != nil {
			return prepareFail, nil, cErr
		}
		return prepareMemoMismatch, h2, nil
	}
}
