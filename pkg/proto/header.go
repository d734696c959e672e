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
	"fmt"
)

type FrameHeader struct {
	Cmd    Command
	TagID  uint16
	Flags  FrameFlag
	Length uint32
	TimeUS int64
	BusID  uint16
}

// Frame is one wire unit: a header and at most TUS-FrameHeaderSize
// payload bytes.
type Frame struct {
	FrameHeader
	Payload []byte
}

func (h *FrameHeader) Encode(buf []byte) error {
	if len(buf) < kFrameHeaderSize {
		return ErrBufferTooShort
	}
	buf[0] = uint8(h.Cmd)
	EncByteOrder.PutUint16(buf[1:3], h.TagID)
	buf[3] = uint8(h.Flags)
	EncByteOrder.PutUint32(buf[4:8], h.Length)
	EncByteOrder.PutUint64(buf[8:16], uint64(h.TimeUS))
	EncByteOrder.PutUint16(buf[16:18], h.BusID)
	return nil
}

func (h *FrameHeader) Decode(buf []byte) error {
	if len(buf) < kFrameHeaderSize {
		return ErrBufferTooShort
	}
	h.Cmd = Command(buf[0])
	if !h.Cmd.IsValid() {
		return ErrInvalidCommand
	}
	h.TagID = EncByteOrder.Uint16(buf[1:3])
	h.Flags = FrameFlag(buf[3])
	h.Length = EncByteOrder.Uint32(buf[4:8])
	h.TimeUS = int64(EncByteOrder.Uint64(buf[8:16]))
	h.BusID = EncByteOrder.Uint16(buf[16:18])
	return nil
}

func (f FrameFlag) IsContinuation() bool {
	return f&FlagContinuation != 0
}

func (f FrameFlag) IsLast() bool {
	return f&FlagLast != 0
}

func (h *FrameHeader) String() string {
	return fmt.Sprintf("%v tag=%d flags=%02x len=%d t=%d bus=%d",
		h.Cmd, h.TagID, uint8(h.Flags), h.Length, h.TimeUS, h.BusID)
}
