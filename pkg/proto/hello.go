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
	"encoding/json"
)

// Hello is the first message in each direction. The server speaks
// first, carrying the assigned connection id in the frame's bus id
// field; the client answers with its module name and a per-process
// instance uuid for log correlation.
type Hello struct {
	Proto    int    `json:"proto"`
	TUS      int    `json:"tus"`
	Module   string `json:"module,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// Frame encodes the hello as an ID frame with tag id 0 and a kind-4
// JSON payload.
func (h *Hello) Frame(busID uint16) (*Frame, error) {
	if h.Proto == 0 {
		h.Proto = kCurrentProto
	}
	raw, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	v := RawJSONValue(raw)
	return &Frame{
		FrameHeader: FrameHeader{Cmd: CmdID, BusID: busID},
		Payload:     v.Encode(),
	}, nil
}

// DecodeHello validates and parses a peer's first frame.
func DecodeHello(f *Frame) (h Hello, err error) {
	if f.Cmd != CmdID || f.TagID != 0 || f.Flags != 0 {
		return h, ErrInvalidHello
	}
	v, err := DecodeValue(f.Payload)
	if err != nil || v.Kind != KindJSON {
		return h, ErrInvalidHello
	}
	if json.Unmarshal(v.JSON, &h) != nil {
		return h, ErrInvalidHello
	}
	if h.Proto != kCurrentProto || h.TUS < MinTUS {
		return h, ErrInvalidHello
	}
	return h, nil
}
