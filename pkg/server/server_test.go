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

package server_test

import (
	"net"
	"strings"
	"testing"
	"time"

	"tagbus/pkg/io"
	"tagbus/pkg/proto"
	"tagbus/pkg/server"
)

func startServer(t *testing.T) *server.Server {
	t.Helper()
	cfg := server.DefaultConfig
	cfg.ListenAddr = "127.0.0.1:0"
	s := server.NewServer(&cfg)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Stop)
	return s
}

// rawPeer speaks the frame protocol directly, without the client
// library, so server semantics can be probed message by message.
type rawPeer struct {
	fc     *io.FrameConn
	connID uint16
	chMsg  chan *proto.Frame
}

func (p *rawPeer) OnMessage(fc *io.FrameConn, m *proto.Frame) {
	p.chMsg <- m
}

func (p *rawPeer) OnClosed(fc *io.FrameConn, err error) {}

func dialRaw(t *testing.T, addr, module string) *rawPeer {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	cfg := io.DefaultConnConfig
	fc := io.NewFrameConn(conn, &cfg)
	f, err := fc.ReadFrameNow()
	if err != nil {
		t.Fatal(err)
	}
	serverHello, err := proto.DecodeHello(f)
	if err != nil {
		t.Fatal(err)
	}
	hello := proto.Hello{TUS: cfg.TUS, Module: module}
	hf, _ := hello.Frame(0)
	if err := fc.WriteFrameNow(hf); err != nil {
		t.Fatal(err)
	}
	fc.SetPeerTUS(serverHello.TUS)
	p := &rawPeer{fc: fc, connID: f.BusID, chMsg: make(chan *proto.Frame, 128)}
	fc.Start(p)
	t.Cleanup(fc.Close)
	return p
}

func (p *rawPeer) send(t *testing.T, cmd proto.Command, tagID uint16, timeUS int64, busID uint16, payload []byte) {
	t.Helper()
	if err := p.fc.Send(cmd, tagID, timeUS, busID, payload, false); err != nil {
		t.Fatal(err)
	}
}

// expect waits for the next frame with the wanted command, skipping
// broadcast ID frames for other tests' tags is not needed since each
// test runs its own server.
func (p *rawPeer) expect(t *testing.T, cmd proto.Command) *proto.Frame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m := <-p.chMsg:
			if m.Cmd == cmd {
				return m
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", cmd)
		}
	}
}

func (p *rawPeer) expectQuiet(t *testing.T, cmd proto.Command, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case m := <-p.chMsg:
			if m.Cmd == cmd {
				t.Fatalf("unexpected %s: %v", cmd, &m.FrameHeader)
			}
		case <-deadline:
			return
		}
	}
}

// registerTag runs the ID round-trip and returns the assigned id.
func (p *rawPeer) registerTag(t *testing.T, name string) uint16 {
	t.Helper()
	p.send(t, proto.CmdID, 0, 0, 0, []byte(name))
	for {
		m := p.expect(t, proto.CmdID)
		if string(m.Payload) == name {
			return m.TagID
		}
	}
}

func TestIDAssignmentAndBroadcast(t *testing.T) {
	s := startServer(t)
	a := dialRaw(t, s.Addr(), "a")
	b := dialRaw(t, s.Addr(), "b")
	if a.connID == 0 || a.connID == b.connID {
		t.Fatalf("connection ids: a=%d b=%d", a.connID, b.connID)
	}

	idVal := a.registerTag(t, "IntVal")
	if idVal == 0 {
		t.Fatal("tag id 0 assigned")
	}
	// b learns the mapping without asking
	m := b.expect(t, proto.CmdID)
	if m.TagID != idVal || string(m.Payload) != "IntVal" {
		t.Errorf("broadcast to b: id=%d name=%q", m.TagID, m.Payload)
	}
	// re-registration returns the same id
	if again := b.registerTag(t, "IntVal"); again != idVal {
		t.Errorf("re-registration: %d, want %d", again, idVal)
	}
	// a second tag gets a distinct id
	if other := a.registerTag(t, "FloatVal"); other == idVal || other == 0 {
		t.Errorf("second tag id %d", other)
	}
}

// A peer that has completed the hello exchange must receive every ID
// broadcast from that point on; the attach may not lag the handshake.
func TestFreshPeerSeesImmediateBroadcast(t *testing.T) {
	s := startServer(t)
	a := dialRaw(t, s.Addr(), "a")
	names := []string{"t_one", "t_two", "t_three", "t_four", "t_five"}
	for _, name := range names {
		p := dialRaw(t, s.Addr(), "late-"+name)
		id := a.registerTag(t, name)
		m := p.expect(t, proto.CmdID)
		if m.TagID != id || string(m.Payload) != name {
			t.Fatalf("fresh peer missed broadcast: id=%d name=%q", m.TagID, m.Payload)
		}
		p.fc.Close()
	}
}

func TestInvalidTagNameErr(t *testing.T) {
	s := startServer(t)
	a := dialRaw(t, s.Addr(), "a")
	a.send(t, proto.CmdID, 0, 0, 0, []byte("has space"))
	a.expect(t, proto.CmdErr)
}

func TestSetFanoutAndLoopSuppression(t *testing.T) {
	s := startServer(t)
	a := dialRaw(t, s.Addr(), "a")
	b := dialRaw(t, s.Addr(), "b")

	id := a.registerTag(t, "IntVal")
	a.send(t, proto.CmdSub, id, 0, 0, nil)
	a.expect(t, proto.CmdSet) // empty current-value reply
	b.expect(t, proto.CmdID)
	b.send(t, proto.CmdSub, id, 0, 0, nil)
	b.expect(t, proto.CmdSet)

	v := proto.IntValue(7)
	a.send(t, proto.CmdSet, id, 1000000, 0, v.Encode())

	m := b.expect(t, proto.CmdSet)
	if m.TagID != id || m.TimeUS != 1000000 || m.BusID != a.connID {
		t.Errorf("fanout header: %v", &m.FrameHeader)
	}
	got, err := proto.DecodeValue(m.Payload)
	if err != nil || got.Int != 7 {
		t.Errorf("fanout value: %v %v", got, err)
	}
	// the author never receives its own SET echo
	a.expectQuiet(t, proto.CmdSet, 200*time.Millisecond)
}

func TestStaleWriteDropped(t *testing.T) {
	s := startServer(t)
	a := dialRaw(t, s.Addr(), "a")
	b := dialRaw(t, s.Addr(), "b")

	id := a.registerTag(t, "IntVal")
	b.expect(t, proto.CmdID)
	b.send(t, proto.CmdSub, id, 0, 0, nil)
	b.expect(t, proto.CmdSet)

	v7 := proto.IntValue(7)
	a.send(t, proto.CmdSet, id, 1000000, 0, v7.Encode())
	m := b.expect(t, proto.CmdSet)
	if m.TimeUS != 1000000 {
		t.Fatalf("first set: %v", &m.FrameHeader)
	}

	// earlier timestamp: silently dropped, no fanout
	v9 := proto.IntValue(9)
	a.send(t, proto.CmdSet, id, 500000, 0, v9.Encode())
	b.expectQuiet(t, proto.CmdSet, 200*time.Millisecond)

	// stored value still 7 at t=1000000
	a.send(t, proto.CmdGet, id, 0, 0, nil)
	m = a.expect(t, proto.CmdSet)
	got, _ := proto.DecodeValue(m.Payload)
	if got.Int != 7 || m.TimeUS != 1000000 || m.BusID != a.connID {
		t.Errorf("stored after stale: %v t=%d bus=%d", got, m.TimeUS, m.BusID)
	}
}

func TestLateSubscriberGetsCurrentValue(t *testing.T) {
	s := startServer(t)
	a := dialRaw(t, s.Addr(), "a")
	id := a.registerTag(t, "IntVal")
	v := proto.IntValue(7)
	a.send(t, proto.CmdSet, id, 1000000, 0, v.Encode())

	c := dialRaw(t, s.Addr(), "c")
	c.send(t, proto.CmdSub, id, 0, 0, nil)
	m := c.expect(t, proto.CmdSet)
	got, _ := proto.DecodeValue(m.Payload)
	if got.Int != 7 || m.TimeUS != 1000000 || m.BusID != a.connID {
		t.Errorf("late subscriber: %v %v", got, &m.FrameHeader)
	}
}

func TestUnknownTagIDDrawsErr(t *testing.T) {
	s := startServer(t)
	a := dialRaw(t, s.Addr(), "a")
	v := proto.IntValue(1)
	a.send(t, proto.CmdSet, 999, 1, 0, v.Encode())
	m := a.expect(t, proto.CmdErr)
	if m.TagID != 999 {
		t.Errorf("err tag id %d", m.TagID)
	}
	a.send(t, proto.CmdSub, 998, 0, 0, nil)
	a.expect(t, proto.CmdErr)
	a.send(t, proto.CmdGet, 997, 0, 0, nil)
	a.expect(t, proto.CmdErr)
}

func TestRTARoutedToAuthor(t *testing.T) {
	s := startServer(t)
	author := dialRaw(t, s.Addr(), "historian")
	other := dialRaw(t, s.Addr(), "bystander")
	requester := dialRaw(t, s.Addr(), "gateway")

	id := author.registerTag(t, "__history__")
	other.expect(t, proto.CmdID)
	other.send(t, proto.CmdSub, id, 0, 0, nil)
	other.expect(t, proto.CmdSet)

	// authorship follows the most recent non-stale SET
	seed := proto.BytesValue(make([]byte, 6))
	author.send(t, proto.CmdSet, id, 1, 0, seed.Encode())

	req := proto.RawJSONValue([]byte(`{"start":0,"end":10,"__rta_id__":42}`))
	requester.send(t, proto.CmdRTA, id, 2, 0, req.Encode())

	m := author.expect(t, proto.CmdRTA)
	if m.TagID != id || m.BusID != requester.connID {
		t.Errorf("rta at author: %v", &m.FrameHeader)
	}
	got, _ := proto.DecodeValue(m.Payload)
	if !got.Equal(&req) {
		t.Errorf("rta payload: %v", got)
	}
	// and to no one else
	other.expectQuiet(t, proto.CmdRTA, 200*time.Millisecond)
}

func TestRTAWithoutAuthorErrs(t *testing.T) {
	s := startServer(t)
	a := dialRaw(t, s.Addr(), "a")
	id := a.registerTag(t, "Orphan")
	v := proto.IntValue(0)
	a.send(t, proto.CmdRTA, id, 1, 0, v.Encode())
	m := a.expect(t, proto.CmdErr)
	if m.TagID != id {
		t.Errorf("err tag id %d, want %d", m.TagID, id)
	}
}

func TestRTAAuthorshipLostOnDisconnect(t *testing.T) {
	s := startServer(t)
	author := dialRaw(t, s.Addr(), "historian")
	requester := dialRaw(t, s.Addr(), "gateway")

	id := author.registerTag(t, "__history__")
	requester.expect(t, proto.CmdID)
	seed := proto.BytesValue([]byte{1})
	author.send(t, proto.CmdSet, id, 1, 0, seed.Encode())
	time.Sleep(50 * time.Millisecond)
	author.fc.Close()
	time.Sleep(100 * time.Millisecond)

	v := proto.IntValue(0)
	requester.send(t, proto.CmdRTA, id, 2, 0, v.Encode())
	requester.expect(t, proto.CmdErr)

	// the last value survives the author
	requester.send(t, proto.CmdGet, id, 0, 0, nil)
	m := requester.expect(t, proto.CmdSet)
	got, _ := proto.DecodeValue(m.Payload)
	if got.Kind != proto.KindBytes || len(got.Bytes) != 1 {
		t.Errorf("value after author loss: %v", got)
	}
}

func TestBusTagKeepalive(t *testing.T) {
	s := startServer(t)
	a := dialRaw(t, s.Addr(), "a")
	id := a.registerTag(t, proto.BusTagName)
	a.send(t, proto.CmdGet, id, 0, 0, nil)
	m := a.expect(t, proto.CmdSet)
	if m.BusID != proto.BusIDServer {
		t.Errorf("__bus__ author %d", m.BusID)
	}
	v, err := proto.DecodeValue(m.Payload)
	if err != nil || v.Kind != proto.KindJSON {
		t.Fatalf("__bus__ value: %v %v", v, err)
	}
	var doc map[string]interface{}
	if err := v.Document(&doc); err != nil {
		t.Fatal(err)
	}
	if _, ok := doc["started_us"]; !ok {
		t.Errorf("__bus__ doc: %v", doc)
	}
}

func TestListPatterns(t *testing.T) {
	s := startServer(t)
	a := dialRaw(t, s.Addr(), "a")
	for _, name := range []string{"plant_fit101", "plant_lit101", "pump_run"} {
		a.registerTag(t, name)
	}
	v := proto.IntValue(1)
	a.send(t, proto.CmdSet, a.registerTag(t, "pump_run"), 1000, 0, v.Encode())

	list := func(pattern string, sinceUS int64) []string {
		a.send(t, proto.CmdList, 0, sinceUS, 0, []byte(pattern))
		m := a.expect(t, proto.CmdList)
		if m.TimeUS != sinceUS {
			t.Errorf("list reply time %d, want %d", m.TimeUS, sinceUS)
		}
		if len(m.Payload) == 0 {
			return nil
		}
		return strings.Fields(string(m.Payload))
	}

	if got := list("^plant_", 0); len(got) != 2 {
		t.Errorf("prefix: %v", got)
	}
	if got := list("101$", 0); len(got) != 2 {
		t.Errorf("suffix: %v", got)
	}
	if got := list("fit", 0); len(got) != 1 || got[0] != "plant_fit101" {
		t.Errorf("substring: %v", got)
	}
	// empty pattern selects tags set since the given time: pump_run
	// and the server's own __bus__ tag
	got := list("", 500)
	found := false
	for _, n := range got {
		if n == "pump_run" {
			found = true
		} else if n != proto.BusTagName {
			t.Errorf("unexpected recent tag %q", n)
		}
	}
	if !found {
		t.Errorf("recent: %v", got)
	}
}

func TestCountersAdvance(t *testing.T) {
	s := startServer(t)
	a := dialRaw(t, s.Addr(), "a")
	id := a.registerTag(t, "IntVal")
	v := proto.IntValue(1)
	a.send(t, proto.CmdSet, id, 10, 0, v.Encode())
	a.send(t, proto.CmdGet, id, 0, 0, nil)
	a.expect(t, proto.CmdSet)
	c := s.CountersRef()
	if c.Accepted.Get() != 1 || c.Sets.Get() != 1 || c.Gets.Get() != 1 {
		t.Errorf("counters: accepted=%d sets=%d gets=%d",
			c.Accepted.Get(), c.Sets.Get(), c.Gets.Get())
	}
	if c.Tags.Get() != 2 { // __bus__ plus IntVal
		t.Errorf("tags = %d", c.Tags.Get())
	}
}
