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

package client

import (
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	uuid "github.com/satori/go.uuid"

	"tagbus/pkg/io"
	"tagbus/pkg/proto"
	"tagbus/pkg/tag"
	"tagbus/pkg/util"
)

var (
	ErrClosed       = errors.New("client: closed")
	ErrNotConnected = errors.New("client: not connected")
	ErrTagUnknown   = errors.New("client: tag id not assigned yet")
	ErrListPending  = errors.New("client: another LIST is outstanding")
)

// Client extends a process-local tag registry over the bus. It owns
// one TCP connection, registers every tag in its registry, publishes
// locally authored changes and materialises remote ones. One dispatch
// goroutine applies all inbound updates, so tag callbacks for bus
// changes run inline and in arrival order.
type Client struct {
	cfg      Config
	bus      *tag.Bus
	instance string

	mu       sync.Mutex
	fc       *io.FrameConn
	connID   uint16
	ids      map[string]uint16
	tagsByID map[uint16]*tag.Tag
	idSent   map[string]bool
	subSent  map[uint16]bool
	busTagID uint16

	listMu sync.Mutex
	listCh chan []string

	rtaCookie uint32
	chDone    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// New binds a client to a registry. Call Start to connect.
func New(cfg *Config, bus *tag.Bus) *Client {
	conf := *cfg
	conf.SetDefaultIfNotDefined()
	c := &Client{
		cfg:      conf,
		bus:      bus,
		instance: uuid.NewV1().String(),
		ids:      make(map[string]uint16),
		tagsByID: make(map[uint16]*tag.Tag),
		chDone:   make(chan struct{}),
	}
	return c
}

func (c *Client) Bus() *tag.Bus {
	return c.bus
}

// Start installs the publish hooks and runs the connect/reconnect
// loop until Stop.
func (c *Client) Start() {
	c.bus.OnCreate(c.adopt)
	c.wg.Add(1)
	go c.run()
}

func (c *Client) Stop() {
	c.stopOnce.Do(func() { close(c.chDone) })
	c.mu.Lock()
	if c.fc != nil {
		c.fc.Close()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// ConnID is the server-assigned connection identity, 0 while
// disconnected.
func (c *Client) ConnID() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fc == nil {
		return 0
	}
	return c.connID
}

// WaitConnected blocks until the hello exchange has completed or the
// deadline passes.
func (c *Client) WaitConnected(d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if c.ConnID() != 0 {
			return true
		}
		select {
		case <-c.chDone:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
	return false
}

// TagID reports the bus id assigned to a name, 0 while unassigned.
func (c *Client) TagID(name string) uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ids[name]
}

// adopt wires a registry tag to the bus: publish hook now, ID
// round-trip when a connection is up. Safe to call repeatedly.
func (c *Client) adopt(t *tag.Tag) {
	t.SetPublishHook(c.publish)
	c.mu.Lock()
	fc := c.fc
	sent := c.idSent != nil && c.idSent[t.Name()]
	if c.idSent != nil {
		c.idSent[t.Name()] = true
	}
	c.mu.Unlock()
	if fc != nil && !sent {
		c.send(fc, proto.CmdID, 0, 0, 0, []byte(t.Name()), false)
	}
}

// publish runs as the tag's publish hook, on the goroutine that set
// the value, for locally authored changes only.
func (c *Client) publish(t *tag.Tag) {
	c.mu.Lock()
	fc := c.fc
	c.mu.Unlock()
	id := t.ID()
	if fc == nil || id == 0 {
		// seeded on the ID reply or at reconnect
		return
	}
	v := t.Value()
	c.send(fc, proto.CmdSet, id, t.TimeUS(), proto.BusIDLocal, v.Encode(), true)
}

func (c *Client) send(fc *io.FrameConn, cmd proto.Command, tagID uint16, timeUS int64, busID uint16, payload []byte, coalesce bool) {
	if err := fc.Send(cmd, tagID, timeUS, busID, payload, coalesce); err != nil {
		glog.V(1).Infof("%s %d not queued: %v", cmd, tagID, err)
	}
}

// RTA sends a request-to-author for a tag. The server routes it to
// whichever connection last authored the tag.
func (c *Client) RTA(name string, v proto.Value) error {
	c.mu.Lock()
	fc := c.fc
	id := c.ids[name]
	c.mu.Unlock()
	if fc == nil {
		return ErrNotConnected
	}
	if id == 0 {
		return ErrTagUnknown
	}
	return fc.Send(proto.CmdRTA, id, util.NowUS(), proto.BusIDLocal, v.Encode(), false)
}

// RTARequest stamps doc with a fresh __rta_id__ cookie and sends it,
// returning the cookie so the caller can match the response.
func (c *Client) RTARequest(name string, doc map[string]interface{}) (uint16, error) {
	cookie := c.nextCookie()
	doc["__rta_id__"] = cookie
	v, err := proto.JSONValue(doc)
	if err != nil {
		return 0, err
	}
	if err := c.RTA(name, v); err != nil {
		return 0, err
	}
	return cookie, nil
}

// nextCookie yields 1..65535, skipping 0 (0 means broadcast).
func (c *Client) nextCookie() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rtaCookie++
	if uint16(c.rtaCookie) == 0 {
		c.rtaCookie++
	}
	return uint16(c.rtaCookie)
}

// List asks the server for tag names: "" for tags newer than sinceUS,
// "^p" prefix, "s$" suffix, anything else substring. One outstanding
// request at a time.
func (c *Client) List(pattern string, sinceUS int64, timeout time.Duration) ([]string, error) {
	c.mu.Lock()
	fc := c.fc
	c.mu.Unlock()
	if fc == nil {
		return nil, ErrNotConnected
	}
	c.listMu.Lock()
	if c.listCh != nil {
		c.listMu.Unlock()
		return nil, ErrListPending
	}
	ch := make(chan []string, 1)
	c.listCh = ch
	c.listMu.Unlock()
	defer func() {
		c.listMu.Lock()
		c.listCh = nil
		c.listMu.Unlock()
	}()
	if err := fc.Send(proto.CmdList, 0, sinceUS, 0, []byte(pattern), false); err != nil {
		return nil, err
	}
	select {
	case names := <-ch:
		return names, nil
	case <-time.After(timeout):
		return nil, errors.New("client: LIST timed out")
	case <-c.chDone:
		return nil, ErrClosed
	}
}

func (c *Client) run() {
	defer c.wg.Done()
	backoff := util.NewBackoff(c.cfg.BackoffBase.Duration, c.cfg.BackoffMax.Duration)
	for {
		select {
		case <-c.chDone:
			return
		default:
		}
		fc, connID, err := c.connect()
		if err != nil {
			delay := backoff.NextDelay()
			glog.V(1).Infof("dial %s: %v, retrying in %v", c.cfg.ServerAddr, err, delay)
			select {
			case <-time.After(delay):
			case <-c.chDone:
				return
			}
			continue
		}
		glog.Infof("connected to bus %s as %d", c.cfg.ServerAddr, connID)
		backoff.Reset()
		c.session(fc, connID)
		c.mu.Lock()
		c.fc = nil
		c.connID = 0
		c.mu.Unlock()
		select {
		case <-c.chDone:
			return
		default:
			glog.Warningf("bus connection lost, reconnecting")
		}
	}
}

// connect dials and runs the hello exchange: the server speaks first,
// carrying our connection id in the bus id field.
func (c *Client) connect() (*io.FrameConn, uint16, error) {
	conn, err := net.DialTimeout("tcp", c.cfg.ServerAddr, c.cfg.DialTimeout.Duration)
	if err != nil {
		return nil, 0, err
	}
	fc := io.NewFrameConn(conn, &c.cfg.Conn)
	f, err := fc.ReadFrameNow()
	if err != nil {
		fc.Close()
		return nil, 0, err
	}
	serverHello, err := proto.DecodeHello(f)
	if err != nil {
		fc.Close()
		return nil, 0, err
	}
	connID := f.BusID
	reply := proto.Hello{TUS: c.cfg.Conn.TUS, Module: c.cfg.Module, Instance: c.instance}
	rf, err := reply.Frame(0)
	if err == nil {
		err = fc.WriteFrameNow(rf)
	}
	if err != nil {
		fc.Close()
		return nil, 0, err
	}
	fc.SetPeerTUS(serverHello.TUS)
	return fc, connID, nil
}

type clientSink struct {
	c        *Client
	chMsg    chan *proto.Frame
	chClosed chan error
}

func (s *clientSink) OnMessage(fc *io.FrameConn, m *proto.Frame) {
	select {
	case s.chMsg <- m:
	case <-s.c.chDone:
	}
}

func (s *clientSink) OnClosed(fc *io.FrameConn, err error) {
	s.chClosed <- err
}

// session drives one connection until it dies: registration, inbound
// dispatch and the keepalive probe.
func (c *Client) session(fc *io.FrameConn, connID uint16) {
	sink := &clientSink{
		c:        c,
		chMsg:    make(chan *proto.Frame, c.cfg.DispatchQueueSize),
		chClosed: make(chan error, 1),
	}
	c.mu.Lock()
	c.fc = fc
	c.connID = connID
	c.ids = make(map[string]uint16)
	c.tagsByID = make(map[uint16]*tag.Tag)
	c.idSent = make(map[string]bool)
	c.subSent = make(map[uint16]bool)
	c.busTagID = 0
	c.mu.Unlock()
	fc.Start(sink)

	c.send(fc, proto.CmdID, 0, 0, 0, []byte(proto.BusTagName), false)
	c.bus.Each(func(t *tag.Tag) bool {
		c.mu.Lock()
		sent := c.idSent[t.Name()]
		c.idSent[t.Name()] = true
		c.mu.Unlock()
		if !sent {
			c.send(fc, proto.CmdID, 0, 0, 0, []byte(t.Name()), false)
		}
		return true
	})

	probe := time.NewTicker(c.cfg.Conn.ReadTimeout.Duration / 2)
	defer probe.Stop()
	for {
		select {
		case m := <-sink.chMsg:
			c.dispatch(fc, connID, m)
		case err := <-sink.chClosed:
			if err != nil {
				glog.V(1).Infof("bus read: %v", err)
			}
			return
		case <-probe.C:
			c.probeKeepalive(fc)
		case <-c.chDone:
			fc.Close()
			<-sink.chClosed
			return
		}
	}
}

// probeKeepalive issues GET(__bus__) when the read side has been
// silent for half the timeout budget.
func (c *Client) probeKeepalive(fc *io.FrameConn) {
	idle := time.Duration(util.NowUS()-fc.LastRecvUS()) * time.Microsecond
	if idle < c.cfg.Conn.ReadTimeout.Duration/2 {
		return
	}
	c.mu.Lock()
	id := c.busTagID
	c.mu.Unlock()
	if id != 0 {
		c.send(fc, proto.CmdGet, id, 0, 0, nil, false)
	}
}

func (c *Client) dispatch(fc *io.FrameConn, connID uint16, m *proto.Frame) {
	switch m.Cmd {
	case proto.CmdID:
		c.handleIDReply(fc, m)
	case proto.CmdSet:
		c.handleSet(m)
	case proto.CmdRTA:
		c.handleRTA(m)
	case proto.CmdList:
		c.handleListReply(m)
	case proto.CmdErr:
		glog.Errorf("bus error: %s", util.ToPrintableString(m.Payload))
	default:
		glog.Warningf("unexpected %s from server", m.Cmd)
	}
}

// handleIDReply learns a name/id mapping (replies are broadcast, so
// some are for other peers' tags), subscribes, and seeds the server
// with a locally authored value if one predates the assignment.
func (c *Client) handleIDReply(fc *io.FrameConn, m *proto.Frame) {
	name := string(m.Payload)
	id := m.TagID
	c.mu.Lock()
	c.ids[name] = id
	if name == proto.BusTagName {
		c.busTagID = id
	}
	t := c.bus.Find(name)
	needSub := false
	if t != nil {
		c.tagsByID[id] = t
		if !c.subSent[id] {
			c.subSent[id] = true
			needSub = true
		}
	}
	c.mu.Unlock()
	if t == nil || !needSub {
		return
	}
	t.SetID(id)
	c.send(fc, proto.CmdSub, id, 0, 0, nil, false)
	if v := t.Value(); !v.IsNull() && t.BusID() == proto.BusIDLocal {
		c.send(fc, proto.CmdSet, id, t.TimeUS(), proto.BusIDLocal, v.Encode(), true)
	}
}

func (c *Client) handleSet(m *proto.Frame) {
	c.mu.Lock()
	t := c.tagsByID[m.TagID]
	c.mu.Unlock()
	if t == nil {
		return // keepalive reply or a tag we never subscribed
	}
	v, err := proto.DecodeValue(m.Payload)
	if err != nil {
		glog.Errorf("SET %s: %v", t.Name(), err)
		return
	}
	if v.IsNull() {
		return // empty reply for a never-set tag
	}
	// the frame's bus id is never 0 after server substitution, so the
	// publish hook will not echo this back
	if err := t.SetFrom(v, m.TimeUS, m.BusID); err != nil {
		glog.Errorf("SET %s: %v", t.Name(), err)
	}
}

func (c *Client) handleRTA(m *proto.Frame) {
	c.mu.Lock()
	t := c.tagsByID[m.TagID]
	c.mu.Unlock()
	if t == nil {
		glog.Warningf("RTA for unknown tag id %d", m.TagID)
		return
	}
	handler := t.RTAHandler()
	if handler == nil {
		glog.Warningf("RTA for %s but no handler here", t.Name())
		return
	}
	v, err := proto.DecodeValue(m.Payload)
	if err != nil {
		glog.Errorf("RTA %s: %v", t.Name(), err)
		return
	}
	handler(v)
}

func (c *Client) handleListReply(m *proto.Frame) {
	c.listMu.Lock()
	ch := c.listCh
	c.listMu.Unlock()
	if ch == nil {
		return
	}
	names := strings.Fields(string(m.Payload))
	select {
	case ch <- names:
	default:
	}
}
