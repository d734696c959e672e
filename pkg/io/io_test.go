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
	"bytes"
	"math/rand"
	"net"
	"testing"
	"time"

	"tagbus/pkg/proto"
)

func fragment(t *testing.T, tus int, cmd proto.Command, tagID uint16, payload []byte) []*proto.Frame {
	t.Helper()
	var buf bytes.Buffer
	fw := proto.NewFrameWriter(&buf, tus)
	if err := fw.WriteMessage(cmd, tagID, 99, 3, payload); err != nil {
		t.Fatal(err)
	}
	fr := proto.NewFrameReader(&buf, tus)
	var frames []*proto.Frame
	for buf.Len() > 0 {
		f, err := fr.ReadFrame()
		if err != nil {
			t.Fatal(err)
		}
		frames = append(frames, f)
	}
	return frames
}

func TestAssemblerRoundTrip(t *testing.T) {
	payload := make([]byte, 10*1024)
	rand.New(rand.NewSource(7)).Read(payload)
	frames := fragment(t, 128, proto.CmdSet, 5, payload)
	if len(frames) < 2 {
		t.Fatalf("expected fragmentation, got %d frame(s)", len(frames))
	}
	a := NewAssembler(1 << 20)
	var whole *proto.Frame
	for i, f := range frames {
		m, err := a.Add(f)
		if err != nil {
			t.Fatal(err)
		}
		if m != nil && i != len(frames)-1 {
			t.Fatalf("completed early at frame %d", i)
		}
		whole = m
	}
	if whole == nil {
		t.Fatal("no completed message")
	}
	if whole.Flags != 0 || whole.TagID != 5 || whole.TimeUS != 99 || whole.BusID != 3 {
		t.Errorf("header: %v", &whole.FrameHeader)
	}
	if !bytes.Equal(whole.Payload, payload) {
		t.Error("reassembled payload differs")
	}
	if a.Pending() != 0 {
		t.Errorf("pending = %d", a.Pending())
	}
}

func TestAssemblerSingleFramePassesThrough(t *testing.T) {
	a := NewAssembler(1 << 20)
	f := &proto.Frame{FrameHeader: proto.FrameHeader{Cmd: proto.CmdGet, TagID: 1}}
	m, err := a.Add(f)
	if err != nil || m != f {
		t.Errorf("m=%v err=%v", m, err)
	}
}

func TestAssemblerLastWithoutRun(t *testing.T) {
	a := NewAssembler(1 << 20)
	f := &proto.Frame{FrameHeader: proto.FrameHeader{Cmd: proto.CmdSet, TagID: 2, Flags: proto.FlagLast}}
	if _, err := a.Add(f); err != proto.ErrFragmentMismatch {
		t.Errorf("err = %v", err)
	}
}

func TestAssemblerHeaderMismatch(t *testing.T) {
	a := NewAssembler(1 << 20)
	first := &proto.Frame{
		FrameHeader: proto.FrameHeader{Cmd: proto.CmdSet, TagID: 2, Flags: proto.FlagContinuation, TimeUS: 10},
		Payload:     []byte{1},
	}
	if _, err := a.Add(first); err != nil {
		t.Fatal(err)
	}
	wrong := &proto.Frame{
		FrameHeader: proto.FrameHeader{Cmd: proto.CmdSet, TagID: 2, Flags: proto.FlagLast, TimeUS: 11},
		Payload:     []byte{2},
	}
	if _, err := a.Add(wrong); err != proto.ErrFragmentMismatch {
		t.Errorf("err = %v", err)
	}
}

func TestAssemblerOversize(t *testing.T) {
	a := NewAssembler(8)
	frames := fragment(t, 64+proto.FrameHeaderSize, proto.CmdSet, 1, make([]byte, 200))
	var lastErr error
	for _, f := range frames {
		if _, lastErr = a.Add(f); lastErr != nil {
			break
		}
	}
	if lastErr != proto.ErrMessageTooLarge {
		t.Errorf("err = %v", lastErr)
	}
}

type collectSink struct {
	chMsg    chan *proto.Frame
	chClosed chan error
}

func newCollectSink() *collectSink {
	return &collectSink{chMsg: make(chan *proto.Frame, 64), chClosed: make(chan error, 1)}
}

func (s *collectSink) OnMessage(fc *FrameConn, m *proto.Frame) {
	s.chMsg <- m
}

func (s *collectSink) OnClosed(fc *FrameConn, err error) {
	s.chClosed <- err
}

func pipePair(t *testing.T, cfg ConnConfig) (*FrameConn, *FrameConn, *collectSink, *collectSink) {
	t.Helper()
	pc, ps := net.Pipe()
	a := NewFrameConn(pc, &cfg)
	b := NewFrameConn(ps, &cfg)
	sa, sb := newCollectSink(), newCollectSink()
	a.Start(sa)
	b.Start(sb)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b, sa, sb
}

func TestFrameConnSendReceive(t *testing.T) {
	a, _, _, sb := pipePair(t, ConnConfig{TUS: 512})
	v := proto.IntValue(42)
	if err := a.Send(proto.CmdSet, 3, 1000, 1, v.Encode(), true); err != nil {
		t.Fatal(err)
	}
	select {
	case m := <-sb.chMsg:
		if m.Cmd != proto.CmdSet || m.TagID != 3 || m.TimeUS != 1000 || m.BusID != 1 {
			t.Errorf("header: %v", &m.FrameHeader)
		}
		got, err := proto.DecodeValue(m.Payload)
		if err != nil || got.Int != 42 {
			t.Errorf("value: %v %v", got, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestFrameConnFragmentedMessage(t *testing.T) {
	payload := make([]byte, 100*1024)
	rand.New(rand.NewSource(3)).Read(payload)
	a, _, _, sb := pipePair(t, ConnConfig{TUS: 300})
	v := proto.BytesValue(payload)
	if err := a.Send(proto.CmdSet, 8, 5, 2, v.Encode(), false); err != nil {
		t.Fatal(err)
	}
	select {
	case m := <-sb.chMsg:
		got, err := proto.DecodeValue(m.Payload)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got.Bytes, payload) {
			t.Error("large payload corrupted in transit")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for fragmented message")
	}
}

func TestFrameConnCloseNotifies(t *testing.T) {
	a, _, _, sb := pipePair(t, ConnConfig{TUS: 512})
	a.Close()
	select {
	case <-sb.chClosed:
	case <-time.After(2 * time.Second):
		t.Fatal("peer close not observed")
	}
}
