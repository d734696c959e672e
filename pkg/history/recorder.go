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

// Package history persists numeric tag time-series to per-tag binary
// files and answers range queries over the bus request/response tag.
package history

import (
	"encoding/binary"
	"math"
	"strings"
	"sync"

	"github.com/golang/glog"
	"github.com/golang/snappy"

	"tagbus/pkg/proto"
	"tagbus/pkg/tag"
)

// RequestTagName is the bytes tag the recorder authors; requesters
// address range queries to it.
const RequestTagName = "__history__"

// Response pack types; the high bit flags snappy-compressed data.
const (
	PackNone       uint16 = 0
	PackInt        uint16 = 1
	PackFloat      uint16 = 2
	PackCompressed uint16 = 0x8000
)

type Config struct {
	Dir           string
	ChunkRecords  int
	ChunksPerFile int
}

var DefaultConfig = Config{
	ChunkRecords:  1024,
	ChunksPerFile: 64,
}

// TagIDLookup resolves a tag name to its server-assigned id for the
// response header. The bus client satisfies it.
type TagIDLookup interface {
	TagID(name string) uint16
}

// Recorder subscribes to every numeric tag on a registry, appends each
// change to the tag's current file, and serves range requests.
type Recorder struct {
	cfg Config
	bus *tag.Bus
	ids TagIDLookup

	mu      sync.Mutex
	writers map[string]*tagWriter
	kinds   map[string]proto.ValueKind
	reqTag  *tag.Tag
	closed  bool
}

// Request is the JSON shape of one range query. Millisecond variants
// are accepted and scaled.
type Request struct {
	TagName  string `json:"tagname"`
	StartUS  uint64 `json:"start_us"`
	EndUS    uint64 `json:"end_us"`
	StartMS  uint64 `json:"start_ms"`
	EndMS    uint64 `json:"end_ms"`
	RtaID    uint16 `json:"__rta_id__"`
	Compress bool   `json:"compress"`
}

func New(cfg *Config, bus *tag.Bus, ids TagIDLookup) *Recorder {
	c := DefaultConfig
	if cfg != nil {
		c = *cfg
		if c.ChunkRecords <= 0 {
			c.ChunkRecords = DefaultConfig.ChunkRecords
		}
		if c.ChunksPerFile <= 0 {
			c.ChunksPerFile = DefaultConfig.ChunksPerFile
		}
	}
	return &Recorder{
		cfg:     c,
		bus:     bus,
		ids:     ids,
		writers: make(map[string]*tagWriter),
		kinds:   make(map[string]proto.ValueKind),
	}
}

// Start claims authorship of the request tag and begins recording
// every current and future numeric tag on the registry.
func (r *Recorder) Start() error {
	reqTag, err := r.bus.Tag(RequestTagName, proto.KindBytes)
	if err != nil {
		return err
	}
	if err := reqTag.SetRTAHandler(r.handleRequest); err != nil {
		return err
	}
	r.mu.Lock()
	r.reqTag = reqTag
	r.mu.Unlock()
	// publishing any value marks this connection as the tag's author
	if err := reqTag.Set(make([]byte, 6)); err != nil {
		return err
	}
	r.bus.OnCreate(r.adopt)
	return nil
}

// Stop flushes and closes every open file.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for name, w := range r.writers {
		if err := w.Close(); err != nil {
			glog.Errorf("history: closing %s: %v", name, err)
		}
	}
}

// Flush writes partial chunks without closing, so readers see the
// latest samples.
func (r *Recorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, w := range r.writers {
		if err := w.Flush(); err != nil {
			glog.Errorf("history: flushing %s: %v", name, err)
		}
	}
}

func (r *Recorder) adopt(tg *tag.Tag) {
	if strings.HasPrefix(tg.Name(), "__") {
		return
	}
	kind := tg.Kind()
	if kind != proto.KindInt && kind != proto.KindFloat {
		return
	}
	r.mu.Lock()
	if _, dup := r.writers[tg.Name()]; dup || r.closed {
		r.mu.Unlock()
		return
	}
	r.writers[tg.Name()] = newTagWriter(r.cfg.Dir, tg.Name(), r.cfg.ChunkRecords, r.cfg.ChunksPerFile)
	r.kinds[tg.Name()] = kind
	r.mu.Unlock()
	glog.V(1).Infof("history: recording %s", tg.Name())
	tg.AddCallback(r.record, 0)
}

func (r *Recorder) record(tg *tag.Tag) {
	v := tg.Value()
	var bits uint64
	switch v.Kind {
	case proto.KindInt:
		bits = uint64(v.Int)
	case proto.KindFloat:
		bits = math.Float64bits(v.Float)
	default:
		return
	}
	r.mu.Lock()
	w := r.writers[tg.Name()]
	var err error
	if w != nil && !r.closed {
		err = w.Append(uint64(tg.TimeUS()), bits)
	}
	r.mu.Unlock()
	if err != nil {
		glog.Errorf("history: appending %s: %v", tg.Name(), err)
	}
}

func (r *Recorder) handleRequest(v proto.Value) {
	var req Request
	if err := v.Document(&req); err != nil {
		glog.Errorf("history: bad request payload: %v", err)
		r.respond(0, 0, PackNone, nil)
		return
	}
	if req.StartUS == 0 && req.StartMS != 0 {
		req.StartUS = req.StartMS * 1000
	}
	if req.EndUS == 0 && req.EndMS != 0 {
		req.EndUS = req.EndMS * 1000
	}
	if req.EndUS == 0 {
		req.EndUS = math.MaxUint64
	}

	var tagID uint16
	if r.ids != nil {
		tagID = r.ids.TagID(req.TagName)
	}

	r.mu.Lock()
	kind, known := r.kinds[req.TagName]
	w := r.writers[req.TagName]
	var pending []byte
	if w != nil {
		pending = w.pendingInRange(req.StartUS, req.EndUS)
	}
	r.mu.Unlock()

	if !known {
		glog.Errorf("history: request for unknown tag %q", req.TagName)
		r.respond(req.RtaID, tagID, PackNone, nil)
		return
	}

	data, err := readRange(r.cfg.Dir, req.TagName, req.StartUS, req.EndUS)
	if err != nil {
		glog.Errorf("history: reading %s: %v", req.TagName, err)
		r.respond(req.RtaID, tagID, PackNone, nil)
		return
	}
	data = append(data, pending...)

	packType := PackInt
	if kind == proto.KindFloat {
		packType = PackFloat
	}
	if req.Compress {
		data = snappy.Encode(nil, data)
		packType |= PackCompressed
	}
	r.respond(req.RtaID, tagID, packType, data)
}

// respond publishes the reply on the request tag: 6-byte big-endian
// header (rta_id, tag_id, packtype) then the record data. A zero
// rta_id broadcasts.
func (r *Recorder) respond(rtaID, tagID, packType uint16, data []byte) {
	blob := make([]byte, 6+len(data))
	binary.BigEndian.PutUint16(blob[0:2], rtaID)
	binary.BigEndian.PutUint16(blob[2:4], tagID)
	binary.BigEndian.PutUint16(blob[4:6], packType)
	copy(blob[6:], data)

	r.mu.Lock()
	reqTag := r.reqTag
	r.mu.Unlock()
	if reqTag == nil {
		return
	}
	if err := reqTag.Set(blob); err != nil {
		glog.Errorf("history: publishing response: %v", err)
	}
}

// DecodeResponse splits a reply blob, decompressing when the header
// flags snappy.
func DecodeResponse(blob []byte) (rtaID, tagID, packType uint16, data []byte, err error) {
	if len(blob) < 6 {
		return 0, 0, 0, nil, proto.ErrValueTruncated
	}
	rtaID = binary.BigEndian.Uint16(blob[0:2])
	tagID = binary.BigEndian.Uint16(blob[2:4])
	packType = binary.BigEndian.Uint16(blob[4:6])
	data = blob[6:]
	if packType&PackCompressed != 0 {
		data, err = snappy.Decode(nil, data)
		if err != nil {
			return 0, 0, 0, nil, err
		}
		packType &^= PackCompressed
	}
	return rtaID, tagID, packType, data, nil
}
