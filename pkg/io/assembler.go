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

package io

import (
	"tagbus/pkg/proto"
)

type asmKey struct {
	cmd   proto.Command
	tagID uint16
}

type pendingMsg struct {
	hdr proto.FrameHeader
	buf []byte
}

// Assembler rebuilds fragmented messages from a single connection.
// Reassembly is keyed by (command, tag id); fragments must share
// time_us and bus id with the run they continue.
type Assembler struct {
	max     int
	pending map[asmKey]*pendingMsg
}

func NewAssembler(maxMessage int) *Assembler {
	return &Assembler{max: maxMessage, pending: make(map[asmKey]*pendingMsg)}
}

// Add consumes one frame and returns the completed message, or nil
// while fragments are still outstanding. Completed messages carry no
// flags.
func (a *Assembler) Add(f *proto.Frame) (*proto.Frame, error) {
	if f.Flags == 0 {
		return f, nil
	}
	key := asmKey{cmd: f.Cmd, tagID: f.TagID}
	p := a.pending[key]
	if p == nil {
		if f.Flags.IsLast() {
			return nil, proto.ErrFragmentMismatch
		}
		p = &pendingMsg{hdr: f.FrameHeader}
		a.pending[key] = p
	} else if f.TimeUS != p.hdr.TimeUS || f.BusID != p.hdr.BusID {
		delete(a.pending, key)
		return nil, proto.ErrFragmentMismatch
	}
	if len(p.buf)+len(f.Payload) > a.max {
		delete(a.pending, key)
		return nil, proto.ErrMessageTooLarge
	}
	p.buf = append(p.buf, f.Payload...)
	if !f.Flags.IsLast() {
		return nil, nil
	}
	delete(a.pending, key)
	whole := &proto.Frame{FrameHeader: p.hdr, Payload: p.buf}
	whole.Flags = 0
	whole.Length = uint32(len(p.buf))
	return whole, nil
}

// Pending reports in-flight reassemblies, for the monitor page.
func (a *Assembler) Pending() int {
	return len(a.pending)
}
