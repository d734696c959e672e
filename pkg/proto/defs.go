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
	"encoding/binary"
	"fmt"
)

type (
	Command   uint8
	FrameFlag uint8
	ValueKind uint8
)

const (
	CmdID   = Command(0x01)
	CmdSet  = Command(0x02)
	CmdGet  = Command(0x03)
	CmdRTA  = Command(0x04)
	CmdSub  = Command(0x05)
	CmdErr  = Command(0x06)
	CmdList = Command(0x07)
)

const (
	FlagContinuation = FrameFlag(1 << 0)
	FlagLast         = FrameFlag(1 << 1)
)

const (
	KindInt   = ValueKind(0)
	KindFloat = ValueKind(1)
	KindText  = ValueKind(2)
	KindBytes = ValueKind(3)
	KindJSON  = ValueKind(4) // mapping or sequence, canonical JSON body

	// KindAny is not a wire kind. A tag declared with it accepts any
	// payload kind; the operator tools use it for tags whose type they
	// cannot know up front.
	KindAny = ValueKind(0xFE)
)

const (
	kFrameHeaderSize = 18
	kCurrentProto    = 1

	// DefaultTUS is the transmit unit applied until the hello exchange
	// settles on min(ours, peers).
	DefaultTUS = 55000

	// MinTUS rejects hello peers whose transmit unit could not even
	// carry a header plus a scalar value.
	MinTUS = 64

	// MaxTagName bounds ID payloads.
	MaxTagName = 256

	// BusIDLocal marks a value that never crossed the bus.
	BusIDLocal = uint16(0)

	// BusIDServer is the authoring identity of tags owned by the bus
	// process itself. Connection ids are allocated from 1 and never
	// reach it.
	BusIDServer = uint16(0xFFFF)
)

// BusTagName is the tag the server authors at startup; clients GET it
// as their read-silence keepalive probe.
const BusTagName = "__bus__"

// FrameHeaderSize is the fixed frame header length in bytes.
const FrameHeaderSize = kFrameHeaderSize

var EncByteOrder = binary.BigEndian

type ProtocolError struct {
	what string
}

var (
	ErrBufferTooShort   = &ProtocolError{"input buffer too short"}
	ErrInvalidCommand   = &ProtocolError{"invalid command"}
	ErrInvalidValueKind = &ProtocolError{"invalid value kind"}
	ErrValueTruncated   = &ProtocolError{"typed value truncated"}
	ErrValueTrailing    = &ProtocolError{"typed value has trailing bytes"}
	ErrFrameTooLarge    = &ProtocolError{"frame exceeds transmit unit"}
	ErrMessageTooLarge  = &ProtocolError{"reassembled message too large"}
	ErrFragmentMismatch = &ProtocolError{"fragment does not continue pending message"}
	ErrInvalidTagName   = &ProtocolError{"invalid tag name"}
	ErrInvalidHello     = &ProtocolError{"invalid hello"}
)

func NewProtocolError(err error) *ProtocolError {
	return &ProtocolError{what: err.Error()}
}

func (e *ProtocolError) Error() string {
	return "ProtocolError: " + e.what
}

var commandNames = map[Command]string{
	CmdID:   "ID",
	CmdSet:  "SET",
	CmdGet:  "GET",
	CmdRTA:  "RTA",
	CmdSub:  "SUB",
	CmdErr:  "ERR",
	CmdList: "LIST",
}

func (c Command) String() string {
	if s, ok := commandNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Command(0x%02X)", uint8(c))
}

func (c Command) IsValid() bool {
	_, ok := commandNames[c]
	return ok
}

var kindNames = map[ValueKind]string{
	KindInt:   "int",
	KindFloat: "float",
	KindText:  "text",
	KindBytes: "bytes",
	KindJSON:  "json",
}

func (k ValueKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ValueKind(%d)", uint8(k))
}

// ValidTagName accepts non-empty printable-ASCII names up to
// MaxTagName bytes. Space is excluded so LIST replies can join names
// with it.
func ValidTagName(name string) bool {
	if len(name) == 0 || len(name) > MaxTagName {
		return false
	}
	for i := 0; i < len(name); i++ {
		if name[i] <= ' ' || name[i] > '~' {
			return false
		}
	}
	return true
}
