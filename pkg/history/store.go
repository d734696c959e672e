//
//  Copyright 2023 PayPal Inc.
//
//  Licensed to the Apache Software Foundation (ASF) under one or more
//  contributor license agreements.  See the NOTICE file distributed with
//  this work for additional information regarding copyright ownership.
//  The ASF licenses this file to You under the Apache License, Version 2.0
//  (the "License"); you may not use this file except in compliance with
//  the License.  You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.
//

package history

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// RecordSize is the on-disk record: 8 B big-endian time_us then 8 B
// big-endian value bits.
const RecordSize = 16

// tagWriter appends fixed-size records for one tag. Records accumulate
// in the current chunk and hit disk a chunk at a time; a file rolls
// once it holds chunksPerFile full chunks.
type tagWriter struct {
	dir           string
	name          string
	chunkRecords  int
	chunksPerFile int

	f       *os.File
	inFile  int // records written to the open file
	chunk   []byte
	lastUS  uint64
	hasLast bool
}

func newTagWriter(dir, name string, chunkRecords, chunksPerFile int) *tagWriter {
	return &tagWriter{
		dir:           dir,
		name:          name,
		chunkRecords:  chunkRecords,
		chunksPerFile: chunksPerFile,
		chunk:         make([]byte, 0, chunkRecords*RecordSize),
	}
}

func (w *tagWriter) fileName(firstUS uint64) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s_%d.dat", w.name, firstUS))
}

// Append records one sample. Out-of-order samples are dropped so every
// file stays time-sorted.
func (w *tagWriter) Append(timeUS uint64, bits uint64) error {
	if w.hasLast && timeUS < w.lastUS {
		return nil
	}
	w.lastUS, w.hasLast = timeUS, true

	if w.f == nil {
		f, err := os.OpenFile(w.fileName(timeUS), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		w.f = f
		w.inFile = 0
	}
	var rec [RecordSize]byte
	binary.BigEndian.PutUint64(rec[0:8], timeUS)
	binary.BigEndian.PutUint64(rec[8:16], bits)
	w.chunk = append(w.chunk, rec[:]...)

	if len(w.chunk) >= w.chunkRecords*RecordSize {
		if err := w.flushChunk(); err != nil {
			return err
		}
		if w.inFile >= w.chunkRecords*w.chunksPerFile {
			err := w.f.Close()
			w.f = nil
			return err
		}
	}
	return nil
}

func (w *tagWriter) flushChunk() error {
	if len(w.chunk) == 0 {
		return nil
	}
	n, err := w.f.Write(w.chunk)
	if err != nil {
		return err
	}
	w.inFile += n / RecordSize
	w.chunk = w.chunk[:0]
	return nil
}

// Flush writes the partial chunk and syncs, keeping the file open.
func (w *tagWriter) Flush() error {
	if w.f == nil {
		return nil
	}
	if err := w.flushChunk(); err != nil {
		return err
	}
	return w.f.Sync()
}

func (w *tagWriter) Close() error {
	if w.f == nil {
		return nil
	}
	err := w.Flush()
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	w.f = nil
	return err
}

// pendingInRange filters the in-memory chunk, for reads that overlap
// records not yet flushed.
func (w *tagWriter) pendingInRange(startUS, endUS uint64) []byte {
	var out []byte
	for off := 0; off+RecordSize <= len(w.chunk); off += RecordSize {
		tUS := binary.BigEndian.Uint64(w.chunk[off : off+8])
		if tUS >= startUS && tUS <= endUS {
			out = append(out, w.chunk[off:off+RecordSize]...)
		}
	}
	return out
}

// tagFiles lists the finished and current files of one tag, sorted by
// their first record time.
func tagFiles(dir, name string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, name+"_*.dat"))
	if err != nil {
		return nil, err
	}
	type entry struct {
		path    string
		firstUS uint64
	}
	entries := make([]entry, 0, len(matches))
	prefix := name + "_"
	for _, m := range matches {
		base := strings.TrimSuffix(filepath.Base(m), ".dat")
		if !strings.HasPrefix(base, prefix) {
			continue
		}
		us, err := strconv.ParseUint(base[len(prefix):], 10, 64)
		if err != nil {
			continue
		}
		entries = append(entries, entry{m, us})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].firstUS < entries[j].firstUS })
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.path
	}
	return out, nil
}

// readRange returns the on-disk records of name with
// startUS <= time_us <= endUS, in time order.
func readRange(dir, name string, startUS, endUS uint64) ([]byte, error) {
	files, err := tagFiles(dir, name)
	if err != nil {
		return nil, err
	}
	var out []byte
	for _, path := range files {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if n := len(b) / RecordSize * RecordSize; n != len(b) {
			b = b[:n] // ignore a torn tail record
		}
		if len(b) == 0 {
			continue
		}
		first := binary.BigEndian.Uint64(b[0:8])
		last := binary.BigEndian.Uint64(b[len(b)-RecordSize : len(b)-8])
		if last < startUS || first > endUS {
			continue
		}
		for off := 0; off+RecordSize <= len(b); off += RecordSize {
			tUS := binary.BigEndian.Uint64(b[off : off+8])
			if tUS > endUS {
				break
			}
			if tUS >= startUS {
				out = append(out, b[off:off+RecordSize]...)
			}
		}
	}
	return out, nil
}
