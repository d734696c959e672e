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

package server

import (
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	"tagbus/pkg/io"
	"tagbus/pkg/proto"
	"tagbus/pkg/util"
	"tagbus/pkg/version"
)

// BusTagName is the tag the server itself authors at startup; clients
// GET it as their read-silence keepalive probe.
const BusTagName = proto.BusTagName

type tagRecord struct {
	id      uint16
	name    string
	payload []byte // encoded typed value, nil until first SET
	timeUS  int64
	busID   uint16
	author  *session
	subs    map[*session]struct{}
}

type evKind int

const (
	evMessage evKind = iota
	evAttach
	evClosed
)

type event struct {
	kind evKind
	sess *session
	msg  *proto.Frame
	err  error
}

// Counters is the server's monitoring surface, written by the core
// goroutine and read by the state log and the HTTP monitor.
type Counters struct {
	Accepted   util.AtomicUint64Counter
	Active     util.AtomicUint64Counter
	Sets       util.AtomicUint64Counter
	Fanout     util.AtomicUint64Counter
	StaleDrops util.AtomicUint64Counter
	Gets       util.AtomicUint64Counter
	Subs       util.AtomicUint64Counter
	RTAs       util.AtomicUint64Counter
	Lists      util.AtomicUint64Counter
	Errs       util.AtomicUint64Counter
	Tags       util.AtomicUint64Counter
}

// Server is the bus process: the name/id registry, the last-value
// store and the subscription fan-out. All registry state is owned by
// one core goroutine; per-connection readers and writers only touch
// their own socket.
type Server struct {
	cfg Config

	lis        net.Listener
	chEvent    chan event
	chDone     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	nextConnID uint32

	// core goroutine only
	byName    map[string]*tagRecord
	byID      map[uint16]*tagRecord
	nextTagID uint32
	sessions  map[uint16]*session

	counters Counters
}

func NewServer(cfg *Config) *Server {
	conf := *cfg
	conf.SetDefaultIfNotDefined()
	return &Server{
		cfg:      conf,
		chEvent:  make(chan event, conf.EventQueueSize),
		chDone:   make(chan struct{}),
		byName:   make(map[string]*tagRecord),
		byID:     make(map[uint16]*tagRecord),
		sessions: make(map[uint16]*session),
	}
}

// Start listens and runs the accept and core goroutines.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.lis = lis
	s.createBusTag()
	s.wg.Add(2)
	go s.acceptLoop()
	go s.coreLoop()
	glog.Infof("bus server listening on %s", lis.Addr())
	return nil
}

// Addr reports the bound listen address, for port-0 tests.
func (s *Server) Addr() string {
	return s.lis.Addr().String()
}

func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.chDone)
		s.lis.Close()
	})
	s.wg.Wait()
}

func (s *Server) CountersRef() *Counters {
	return &s.counters
}

// createBusTag installs the server-owned keepalive tag before any
// connection is accepted.
func (s *Server) createBusTag() {
	rec := s.allocTag(BusTagName)
	v, _ := proto.JSONValue(map[string]interface{}{
		"version":    version.Version,
		"started_us": util.NowUS(),
	})
	rec.payload = v.Encode()
	rec.timeUS = util.NowUS()
	rec.busID = proto.BusIDServer
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.lis.Accept()
		if err != nil {
			select {
			case <-s.chDone:
				return
			default:
			}
			glog.Errorf("accept: %v", err)
			return
		}
		go s.handshake(conn)
	}
}

// handshake runs the hello exchange off the core goroutine.
// Connection ids are never reused; running out of the 16-bit space is
// fatal.
func (s *Server) handshake(conn net.Conn) {
	id := atomic.AddUint32(&s.nextConnID, 1)
	if id >= uint32(proto.BusIDServer) {
		glog.Exitf("connection id space exhausted")
	}
	fc := io.NewFrameConn(conn, &s.cfg.Conn)
	sess := &session{
		id:   uint16(id),
		fc:   fc,
		srv:  s,
		subs: make(map[*tagRecord]struct{}),
	}
	// The attach must be queued before the hello leaves: a peer that
	// has read the hello must see every later ID broadcast, and the
	// core drains chEvent in order. Frames sent to the session before
	// Start wait in its queue behind the hello.
	select {
	case s.chEvent <- event{kind: evAttach, sess: sess}:
	case <-s.chDone:
		fc.Close()
		return
	}
	hello := proto.Hello{TUS: s.cfg.Conn.TUS}
	hf, err := hello.Frame(uint16(id))
	if err == nil {
		err = fc.WriteFrameNow(hf)
	}
	var peer proto.Hello
	if err == nil {
		var f *proto.Frame
		if f, err = fc.ReadFrameNow(); err == nil {
			peer, err = proto.DecodeHello(f)
		}
	}
	if err != nil {
		glog.Warningf("handshake with %s failed: %v", fc.RemoteAddr(), err)
		fc.Close()
		select {
		case s.chEvent <- event{kind: evClosed, sess: sess, err: err}:
		case <-s.chDone:
		}
		return
	}
	fc.SetPeerTUS(peer.TUS)
	sess.module = peer.Module
	sess.instance = peer.Instance
	glog.Infof("bus %d connected: module=%s instance=%s addr=%s",
		sess.id, sess.module, sess.instance, fc.RemoteAddr())
	fc.Start(sess)
}

func (s *Server) coreLoop() {
	defer s.wg.Done()
	for {
		select {
		case ev := <-s.chEvent:
			switch ev.kind {
			case evAttach:
				s.attach(ev.sess)
			case evClosed:
				s.detach(ev.sess, ev.err)
			case evMessage:
				s.process(ev.sess, ev.msg)
			}
		case <-s.chDone:
			for _, sess := range s.sessions {
				sess.fc.Close()
			}
			return
		}
	}
}

func (s *Server) attach(sess *session) {
	s.sessions[sess.id] = sess
	s.counters.Accepted.Add(1)
	s.counters.Active.Add(1)
	// module and instance are not known yet; handshake logs them once
	// the peer hello arrives
}

func (s *Server) detach(sess *session, err error) {
	if s.sessions[sess.id] != sess {
		return
	}
	delete(s.sessions, sess.id)
	s.counters.Active.Add(^uint64(0))
	for rec := range sess.subs {
		delete(rec.subs, sess)
	}
	for _, rec := range s.byName {
		if rec.author == sess {
			// last value stays; RTA fails until a new author publishes
			rec.author = nil
		}
	}
	if err != nil {
		glog.Infof("bus %d (%s) dropped: %v", sess.id, sess.module, err)
	} else {
		glog.Infof("bus %d (%s) disconnected", sess.id, sess.module)
	}
}

func (s *Server) process(sess *session, m *proto.Frame) {
	if s.sessions[sess.id] != sess {
		return // raced with detach
	}
	switch m.Cmd {
	case proto.CmdID:
		s.handleID(sess, m)
	case proto.CmdSet:
		s.handleSet(sess, m)
	case proto.CmdGet:
		s.handleGet(sess, m)
	case proto.CmdSub:
		s.handleSub(sess, m)
	case proto.CmdRTA:
		s.handleRTA(sess, m)
	case proto.CmdList:
		s.handleList(sess, m)
	case proto.CmdErr:
		glog.Warningf("bus %d sent ERR: %s", sess.id, util.ToPrintableString(m.Payload))
	}
}

func (s *Server) allocTag(name string) *tagRecord {
	s.nextTagID++
	if s.nextTagID >= uint32(proto.BusIDServer) {
		glog.Exitf("tag id space exhausted")
	}
	rec := &tagRecord{
		id:   uint16(s.nextTagID),
		name: name,
		subs: make(map[*session]struct{}),
	}
	s.byName[name] = rec
	s.byID[rec.id] = rec
	s.counters.Tags.Add(1)
	return rec
}

// handleID resolves or allocates a tag id. The reply goes to every
// connection so all peers learn new mappings without per-peer
// negotiation.
func (s *Server) handleID(sess *session, m *proto.Frame) {
	name := string(m.Payload)
	if !proto.ValidTagName(name) {
		sess.sendErr(0, "invalid tag name "+util.ToPrintableString(m.Payload))
		return
	}
	rec, known := s.byName[name]
	if !known {
		rec = s.allocTag(name)
		glog.V(1).Infof("tag %d = %s (from bus %d)", rec.id, name, sess.id)
	}
	for _, peer := range s.sessions {
		peer.send(proto.CmdID, rec.id, 0, 0, m.Payload, false)
	}
}

func (s *Server) handleSet(sess *session, m *proto.Frame) {
	rec := s.byID[m.TagID]
	if rec == nil {
		sess.sendErr(m.TagID, "SET unknown tag id")
		return
	}
	if m.TimeUS < rec.timeUS {
		s.counters.StaleDrops.Add(1)
		return
	}
	busID := m.BusID
	if busID == proto.BusIDLocal {
		busID = sess.id
	}
	rec.payload = m.Payload
	rec.timeUS = m.TimeUS
	rec.busID = busID
	rec.author = sess
	s.counters.Sets.Add(1)
	for sub := range rec.subs {
		if sub.id == busID {
			continue // never echo a SET to its author
		}
		sub.send(proto.CmdSet, rec.id, m.TimeUS, busID, m.Payload, true)
		s.counters.Fanout.Add(1)
	}
}

// sendCurrent answers GET and SUB: the stored value with its original
// time and authorship, or an empty SET when nothing was ever written.
func (s *Server) sendCurrent(sess *session, rec *tagRecord) {
	sess.send(proto.CmdSet, rec.id, rec.timeUS, rec.busID, rec.payload, true)
}

func (s *Server) handleGet(sess *session, m *proto.Frame) {
	rec := s.byID[m.TagID]
	if rec == nil {
		sess.sendErr(m.TagID, "GET unknown tag id")
		return
	}
	s.counters.Gets.Add(1)
	s.sendCurrent(sess, rec)
}

func (s *Server) handleSub(sess *session, m *proto.Frame) {
	rec := s.byID[m.TagID]
	if rec == nil {
		sess.sendErr(m.TagID, "SUB unknown tag id")
		return
	}
	rec.subs[sess] = struct{}{}
	sess.subs[rec] = struct{}{}
	s.counters.Subs.Add(1)
	s.sendCurrent(sess, rec)
}

// handleRTA forwards a request to whichever connection most recently
// authored the tag, carrying the requester's identity in the bus id
// field so the author can target its answer.
func (s *Server) handleRTA(sess *session, m *proto.Frame) {
	rec := s.byID[m.TagID]
	if rec == nil {
		sess.sendErr(m.TagID, "RTA unknown tag id")
		return
	}
	author := rec.author
	if author == nil || s.sessions[author.id] != author {
		sess.sendErr(m.TagID, "RTA no author for "+rec.name)
		return
	}
	requester := m.BusID
	if requester == proto.BusIDLocal {
		requester = sess.id
	}
	s.counters.RTAs.Add(1)
	author.send(proto.CmdRTA, rec.id, m.TimeUS, requester, m.Payload, false)
}

// handleList matches names: empty pattern selects tags newer than the
// request's time_us, ^text a prefix, text$ a suffix, anything else a
// substring. The reply echoes the request's time_us.
func (s *Server) handleList(sess *session, m *proto.Frame) {
	pattern := string(m.Payload)
	match := func(rec *tagRecord) bool { return strings.Contains(rec.name, pattern) }
	switch {
	case pattern == "":
		match = func(rec *tagRecord) bool { return rec.timeUS > m.TimeUS }
	case strings.HasPrefix(pattern, "^"):
		prefix := pattern[1:]
		match = func(rec *tagRecord) bool { return strings.HasPrefix(rec.name, prefix) }
	case strings.HasSuffix(pattern, "$"):
		suffix := pattern[:len(pattern)-1]
		match = func(rec *tagRecord) bool { return strings.HasSuffix(rec.name, suffix) }
	}
	names := make([]string, 0, 16)
	for _, rec := range s.byName {
		if match(rec) {
			names = append(names, rec.name)
		}
	}
	sort.Strings(names)
	s.counters.Lists.Add(1)
	sess.send(proto.CmdList, 0, m.TimeUS, 0, []byte(strings.Join(names, " ")), false)
}
