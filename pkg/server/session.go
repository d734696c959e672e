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
	"github.com/golang/glog"

	"tagbus/pkg/io"
	"tagbus/pkg/proto"
)

// session is one connected bus peer. Its read goroutine funnels
// messages into the server's core channel; all session state other
// than the connection itself belongs to the core goroutine.
type session struct {
	id  uint16
	fc  *io.FrameConn
	srv *Server

	// written by the handshake goroutine before Start; the core only
	// reads them after an evClosed for this session
	module   string
	instance string

	// core goroutine only
	subs map[*tagRecord]struct{}
}

func (s *session) OnMessage(fc *io.FrameConn, m *proto.Frame) {
	select {
	case s.srv.chEvent <- event{kind: evMessage, sess: s, msg: m}:
	case <-s.srv.chDone:
	}
}

func (s *session) OnClosed(fc *io.FrameConn, err error) {
	select {
	case s.srv.chEvent <- event{kind: evClosed, sess: s, err: err}:
	case <-s.srv.chDone:
	}
}

// sendErr emits an ERR frame with a raw UTF-8 diagnostic.
func (s *session) sendErr(tagID uint16, text string) {
	s.srv.counters.Errs.Add(1)
	if err := s.fc.Send(proto.CmdErr, tagID, 0, 0, []byte(text), false); err != nil {
		glog.V(1).Infof("bus %d: err frame not queued: %v", s.id, err)
	}
}

// send queues a frame toward this peer; a full control queue means the
// peer stopped draining, so the session is cut rather than stalling
// the core.
func (s *session) send(cmd proto.Command, tagID uint16, timeUS int64, busID uint16, payload []byte, coalesce bool) {
	if err := s.fc.Send(cmd, tagID, timeUS, busID, payload, coalesce); err != nil {
		glog.Warningf("bus %d: outbound queue stalled, dropping connection: %v", s.id, err)
		s.fc.Close()
	}
}
