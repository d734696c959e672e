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

package client_test

import (
	"bytes"
	"math/rand"
	"testing"
	"time"

	"tagbus/pkg/client"
	"tagbus/pkg/proto"
	"tagbus/pkg/server"
	"tagbus/pkg/tag"
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

func startClient(t *testing.T, addr, module string) *client.Client {
	t.Helper()
	cfg := client.DefaultConfig
	cfg.ServerAddr = addr
	cfg.Module = module
	c := client.New(&cfg, tag.NewBus())
	c.Start()
	t.Cleanup(c.Stop)
	if !c.WaitConnected(5 * time.Second) {
		t.Fatalf("%s did not connect", module)
	}
	return c
}

type change struct {
	v     proto.Value
	tUS   int64
	busID uint16
}

// watch registers a callback streaming every change on the tag.
func watch(tg *tag.Tag) chan change {
	ch := make(chan change, 64)
	tg.AddCallback(func(t *tag.Tag) {
		ch <- change{v: t.Value(), tUS: t.TimeUS(), busID: t.BusID()}
	}, 0)
	return ch
}

func nextChange(t *testing.T, ch chan change) change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a tag change")
		return change{}
	}
}

// waitValue polls until the tag satisfies ok, for seeds that may land
// before a callback can be registered.
func waitValue(t *testing.T, tg *tag.Tag, ok func(proto.Value) bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if ok(tg.Value()) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("tag %s never reached the expected value (now %v)", tg.Name(), tg.Value())
}

func waitTagID(t *testing.T, c *client.Client, name string) uint16 {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if id := c.TagID(name); id != 0 {
			return id
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no id assigned for %s", name)
	return 0
}

func TestFanoutBetweenClients(t *testing.T) {
	s := startServer(t)
	a := startClient(t, s.Addr(), "writer")
	b := startClient(t, s.Addr(), "reader")

	aVal, err := a.Bus().Tag("IntVal", proto.KindInt)
	if err != nil {
		t.Fatal(err)
	}
	aEcho := watch(aVal)
	waitTagID(t, a, "IntVal")
	if err := aVal.SetAt(7, 1000000); err != nil {
		t.Fatal(err)
	}
	// a sees its own local change once
	if c := nextChange(t, aEcho); c.busID != 0 || c.v.Int != 7 {
		t.Fatalf("local change: %+v", c)
	}

	// late subscriber: b learns the current value on SUB
	bVal, err := b.Bus().Tag("IntVal", proto.KindInt)
	if err != nil {
		t.Fatal(err)
	}
	bSeen := watch(bVal)
	waitValue(t, bVal, func(v proto.Value) bool { return v.Int == 7 })
	if bVal.TimeUS() != 1000000 || bVal.BusID() != a.ConnID() {
		t.Errorf("late subscriber: t=%d bus=%d, want 1000000 from %d",
			bVal.TimeUS(), bVal.BusID(), a.ConnID())
	}

	// live fan-out
	if err := aVal.SetAt(8, 2000000); err != nil {
		t.Fatal(err)
	}
	for {
		c := nextChange(t, bSeen)
		if c.v.Int == 8 {
			if c.busID != a.ConnID() {
				t.Errorf("fanout change: %+v", c)
			}
			break
		}
	}

	// loop suppression: a never hears its own write back
	if c := nextChange(t, aEcho); c.busID != 0 {
		t.Errorf("author received an echo: %+v", c)
	}
	select {
	case c := <-aEcho:
		t.Errorf("unexpected extra change at author: %+v", c)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWriterOnBothSides(t *testing.T) {
	s := startServer(t)
	a := startClient(t, s.Addr(), "a")
	b := startClient(t, s.Addr(), "b")

	aVal, _ := a.Bus().Tag("Shared", proto.KindInt)
	bVal, _ := b.Bus().Tag("Shared", proto.KindInt)
	aSeen := watch(aVal)
	bSeen := watch(bVal)
	waitTagID(t, a, "Shared")
	waitTagID(t, b, "Shared")
	time.Sleep(100 * time.Millisecond) // let both SUBs land

	aVal.SetAt(1, 1000)
	nextChange(t, aSeen) // local
	if c := nextChange(t, bSeen); c.v.Int != 1 || c.busID != a.ConnID() {
		t.Fatalf("b: %+v", c)
	}
	bVal.SetAt(2, 2000)
	nextChange(t, bSeen) // local
	if c := nextChange(t, aSeen); c.v.Int != 2 || c.busID != b.ConnID() {
		t.Fatalf("a: %+v", c)
	}
}

func TestReconnectReregisters(t *testing.T) {
	s := startServer(t)
	addr := s.Addr()
	a := startClient(t, addr, "writer")
	b := startClient(t, addr, "reader")

	aVal, _ := a.Bus().Tag("IntVal", proto.KindInt)
	bVal, _ := b.Bus().Tag("IntVal", proto.KindInt)
	bSeen := watch(bVal)
	waitTagID(t, a, "IntVal")
	aVal.SetAt(7, 1000000)
	if c := nextChange(t, bSeen); c.v.Int != 7 {
		t.Fatalf("before restart: %+v", c)
	}

	s.Stop()

	// same listen address, fresh bus process
	cfg := server.DefaultConfig
	cfg.ListenAddr = addr
	s2 := server.NewServer(&cfg)
	if err := s2.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s2.Stop)

	// both clients reconnect and re-register; a's value reseeds the
	// store, so b may see 7 again before the new write
	deadline := time.Now().Add(10 * time.Second)
	for a.ConnID() == 0 || b.ConnID() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("clients did not reconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond) // let re-registration finish

	aVal.SetAt(11, 2000000)
	for {
		c := nextChange(t, bSeen)
		if c.v.Int == 11 {
			if c.tUS != 2000000 || c.busID != a.ConnID() {
				t.Errorf("after restart: %+v", c)
			}
			break
		}
		if c.v.Int != 7 {
			t.Fatalf("unexpected value after restart: %+v", c)
		}
	}
}

func TestRTARoundTrip(t *testing.T) {
	s := startServer(t)
	historian := startClient(t, s.Addr(), "historian")
	gateway := startClient(t, s.Addr(), "gateway")

	// the historian authors __history__ and answers requests with a
	// cookie-prefixed blob
	hTag, _ := historian.Bus().Tag("__history__", proto.KindBytes)
	err := hTag.SetRTAHandler(func(v proto.Value) {
		var req struct {
			Start int    `json:"start"`
			End   int    `json:"end"`
			RtaID uint16 `json:"__rta_id__"`
		}
		if err := v.Document(&req); err != nil {
			t.Errorf("bad rta request: %v", err)
			return
		}
		blob := make([]byte, 2+8)
		blob[0] = byte(req.RtaID >> 8)
		blob[1] = byte(req.RtaID)
		hTag.Set(blob)
	})
	if err != nil {
		t.Fatal(err)
	}
	waitTagID(t, historian, "__history__")
	// claim authorship
	if err := hTag.Set(make([]byte, 6)); err != nil {
		t.Fatal(err)
	}

	gTag, _ := gateway.Bus().Tag("__history__", proto.KindBytes)
	gSeen := watch(gTag)
	// wait for the subscription seed (the 6-byte authorship claim)
	waitValue(t, gTag, func(v proto.Value) bool {
		return v.Kind == proto.KindBytes && len(v.Bytes) == 6
	})

	cookie, err := gateway.RTARequest("__history__", map[string]interface{}{
		"start": 0, "end": 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	for {
		c := nextChange(t, gSeen)
		if len(c.v.Bytes) != 10 {
			continue
		}
		got := uint16(c.v.Bytes[0])<<8 | uint16(c.v.Bytes[1])
		if got != cookie {
			t.Errorf("response cookie %d, want %d", got, cookie)
		}
		return
	}
}

func TestLargePayloadFragmentation(t *testing.T) {
	s := startServer(t)
	a := startClient(t, s.Addr(), "writer")
	b := startClient(t, s.Addr(), "reader")

	blob := make([]byte, 2*1024*1024)
	rand.New(rand.NewSource(99)).Read(blob)

	aTag, _ := a.Bus().Tag("__history__", proto.KindBytes)
	bTag, _ := b.Bus().Tag("__history__", proto.KindBytes)
	bSeen := watch(bTag)
	waitTagID(t, a, "__history__")
	waitTagID(t, b, "__history__")
	time.Sleep(100 * time.Millisecond) // let b's SUB land

	if err := aTag.Set(blob); err != nil {
		t.Fatal(err)
	}
	c := nextChange(t, bSeen)
	if !bytes.Equal(c.v.Bytes, blob) {
		t.Errorf("2 MiB payload corrupted: got %d bytes", len(c.v.Bytes))
	}
}

func TestListFromClient(t *testing.T) {
	s := startServer(t)
	a := startClient(t, s.Addr(), "a")
	a.Bus().Tag("plant_fit101", proto.KindFloat)
	a.Bus().Tag("plant_lit101", proto.KindFloat)
	waitTagID(t, a, "plant_fit101")
	waitTagID(t, a, "plant_lit101")

	names, err := a.List("^plant_", 0, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 {
		t.Errorf("names = %v", names)
	}
}
