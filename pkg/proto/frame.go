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

package proto

import (
	goio "io"
)

// FrameReader reads whole frames off a byte stream. The payload of an
// inbound frame may not exceed tus-FrameHeaderSize: peers fragment
// against min(their TUS, ours), so anything larger is a protocol
// violation.
type FrameReader struct {
	r   goio.Reader
	max uint32
	hdr [FrameHeaderSize]byte
}

func NewFrameReader(r goio.Reader, tus int) *FrameReader {
	if tus < MinTUS {
		tus = MinTUS
	}
	return &FrameReader{r: r, max: uint32(tus - FrameHeaderSize)}
}

func (fr *FrameReader) ReadFrame() (*Frame, error) {
	if _, err := goio.ReadFull(fr.r, fr.hdr[:]); err != nil {
		return nil, err
	}
	f := &Frame{}
	if err := f.FrameHeader.Decode(fr.hdr[:]); err != nil {
		return nil, err
	}
	if f.Length > fr.max {
		return nil, ErrFrameTooLarge
	}
	if f.Length > 0 {
		f.Payload = make([]byte, f.Length)
		if _, err := goio.ReadFull(fr.r, f.Payload); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// FrameWriter writes frames, fragmenting any message whose payload
// exceeds the transmit unit. Not goroutine safe; each connection owns
// one writer goroutine.
type FrameWriter struct {
	w   goio.Writer
	tus int
	hdr [FrameHeaderSize]byte
}

func NewFrameWriter(w goio.Writer, tus int) *FrameWriter {
	if tus < MinTUS {
		tus = MinTUS
	}
	return &FrameWriter{w: w, tus: tus}
}

// SetTUS lowers the transmit unit to the hello-negotiated
// min(ours, peers).
func (fw *FrameWriter) SetTUS(tus int) {
	if tus < MinTUS {
		tus = MinTUS
	}
	fw.tus = tus
}

func (fw *FrameWriter) TUS() int {
	return fw.tus
}

func (fw *FrameWriter) WriteFrame(f *Frame) error {
	if len(f.Payload) > fw.tus-FrameHeaderSize {
		return ErrFrameTooLarge
	}
	f.Length = uint32(len(f.Payload))
	if err := f.FrameHeader.Encode(fw.hdr[:]); err != nil {
		return err
	}
	if _, err := fw.w.Write(fw.hdr[:]); err != nil {
		return err
	}
	if len(f.Payload) > 0 {
		if _, err := fw.w.Write(f.Payload); err != nil {
			return err
		}
	}
	return nil
}

// WriteMessage emits payload as one frame, or as a CONTINUATION...LAST
// fragment run sharing command, tag id, time_us and bus id.
func (fw *FrameWriter) WriteMessage(cmd Command, tagID uint16, timeUS int64, busID uint16, payload []byte) error {
	chunk := fw.tus - FrameHeaderSize
	f := Frame{FrameHeader: FrameHeader{Cmd: cmd, TagID: tagID, TimeUS: timeUS, BusID: busID}}
	if len(payload) <= chunk {
		f.Payload = payload
		return fw.WriteFrame(&f)
	}
	for off := 0; off < len(payload); off += chunk {
		end := off + chunk
		if end >= len(payload) {
			end = len(payload)
			f.Flags = FlagLast
		} else {
			f.Flags = FlagContinuation
		}
		f.Payload = payload[off:end]
		if err := fw.WriteFrame(&f); err != nil {
			return err
		}
	}
	return nil
}
