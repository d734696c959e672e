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
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"tagbus/pkg/proto"
	"tagbus/pkg/util"
)

// MessageSink receives complete (reassembled) messages from a
// FrameConn's read loop.
type MessageSink interface {
	OnMessage(fc *FrameConn, m *proto.Frame)
	OnClosed(fc *FrameConn, err error)
}

type outMessage struct {
	cmd      proto.Command
	tagID    uint16
	timeUS   int64
	busID    uint16
	payload  []byte
	coalesce bool
}

func (m *outMessage) CoalesceKey() (uint32, bool) {
	return uint32(m.cmd)<<16 | uint32(m.tagID), m.coalesce
}

// FrameConn owns one bus socket: a read loop feeding a MessageSink
// and a writer goroutine draining a bounded send queue. Both sides of
// the protocol (server session, client) run on top of it.
type FrameConn struct {
	conn net.Conn
	cfg  ConnConfig

	br    *bufio.Reader
	bw    *bufio.Writer
	fr    *proto.FrameReader
	fw    *proto.FrameWriter
	asm   *Assembler
	queue *util.SendQueue
	sink  MessageSink

	closeOnce  sync.Once
	chDone     chan struct{}
	wg         sync.WaitGroup
	lastRecvUS int64
}

func NewFrameConn(c net.Conn, cfg *ConnConfig) *FrameConn {
	conf := *cfg
	conf.SetDefaultIfNotDefined()
	fc := &FrameConn{
		conn:   c,
		cfg:    conf,
		br:     util.NewBufioReader(c, conf.IOBufSize),
		bw:     util.NewBufioWriter(c, conf.IOBufSize),
		asm:    NewAssembler(conf.MaxMessage),
		queue:  util.NewSendQueue(conf.SendQueueSize),
		chDone: make(chan struct{}),
	}
	fc.fr = proto.NewFrameReader(fc.br, conf.TUS)
	fc.fw = proto.NewFrameWriter(fc.bw, conf.TUS)
	fc.touch()
	return fc
}

// WriteFrameNow writes one frame synchronously. Only valid before
// Start; the hello exchange uses it.
func (fc *FrameConn) WriteFrameNow(f *proto.Frame) error {
	fc.conn.SetWriteDeadline(time.Now().Add(fc.cfg.HandshakeTimeout.Duration))
	defer fc.conn.SetWriteDeadline(time.Time{})
	if err := fc.fw.WriteFrame(f); err != nil {
		return err
	}
	return fc.bw.Flush()
}

// ReadFrameNow reads one frame synchronously. Only valid before Start.
func (fc *FrameConn) ReadFrameNow() (*proto.Frame, error) {
	fc.conn.SetReadDeadline(time.Now().Add(fc.cfg.HandshakeTimeout.Duration))
	defer fc.conn.SetReadDeadline(time.Time{})
	return fc.fr.ReadFrame()
}

// SetPeerTUS lowers the outbound transmit unit to min(ours, peers).
// Call between the hello exchange and Start.
func (fc *FrameConn) SetPeerTUS(tus int) {
	if tus < fc.fw.TUS() {
		fc.fw.SetTUS(tus)
	}
}

func (fc *FrameConn) Start(sink MessageSink) {
	fc.sink = sink
	fc.wg.Add(2)
	go fc.readLoop()
	go fc.writeLoop()
}

// Send queues a message; the writer fragments it against the
// negotiated TUS. SET publishes pass coalesce so a stalled peer costs
// stale intermediate values, never the newest.
func (fc *FrameConn) Send(cmd proto.Command, tagID uint16, timeUS int64, busID uint16, payload []byte, coalesce bool) error {
	return fc.queue.Put(&outMessage{
		cmd: cmd, tagID: tagID, timeUS: timeUS, busID: busID,
		payload: payload, coalesce: coalesce,
	})
}

func (fc *FrameConn) Close() {
	fc.closeOnce.Do(func() {
		close(fc.chDone)
		fc.queue.Close()
		fc.conn.Close()
	})
}

// WaitStopped blocks until both loops have exited.
func (fc *FrameConn) WaitStopped() {
	fc.wg.Wait()
}

func (fc *FrameConn) RemoteAddr() string {
	return fc.conn.RemoteAddr().String()
}

// LastRecvUS is the receive timestamp the keepalive probe checks.
func (fc *FrameConn) LastRecvUS() int64 {
	return atomic.LoadInt64(&fc.lastRecvUS)
}

// QueueDropped reports messages lost to send-queue overflow.
func (fc *FrameConn) QueueDropped() uint64 {
	return fc.queue.Dropped()
}

func (fc *FrameConn) touch() {
	atomic.StoreInt64(&fc.lastRecvUS, util.NowUS())
}

func (fc *FrameConn) readLoop() {
	defer fc.wg.Done()
	defer util.PutBufioReader(fc.br)
	var err error
	for {
		if fc.cfg.ReadTimeout.Duration > 0 {
			fc.conn.SetReadDeadline(time.Now().Add(fc.cfg.ReadTimeout.Duration))
		}
		var f *proto.Frame
		if f, err = fc.fr.ReadFrame(); err != nil {
			break
		}
		fc.touch()
		var whole *proto.Frame
		if whole, err = fc.asm.Add(f); err != nil {
			break
		}
		if whole != nil {
			fc.sink.OnMessage(fc, whole)
		}
	}
	select {
	case <-fc.chDone:
		err = nil // deliberate close, not a peer fault
	default:
	}
	fc.Close()
	fc.sink.OnClosed(fc, err)
}

func (fc *FrameConn) writeLoop() {
	defer fc.wg.Done()
	defer util.PutBufioWriter(fc.bw)
	for {
		m, err := fc.queue.Get()
		if err != nil {
			fc.bw.Flush() // best-effort drain on shutdown
			return
		}
		om := m.(*outMessage)
		if err = fc.fw.WriteMessage(om.cmd, om.tagID, om.timeUS, om.busID, om.payload); err == nil && fc.queue.Len() == 0 {
			err = fc.bw.Flush()
		}
		if err != nil {
			glog.V(1).Infof("write %s: %v", fc.RemoteAddr(), err)
			fc.Close()
			return
		}
	}
}
