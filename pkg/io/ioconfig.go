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
	"time"

	"tagbus/pkg/proto"
	"tagbus/pkg/util"
)

type ConnConfig struct {
	// TUS is our transmit unit; the hello exchange settles each
	// direction on min(ours, peers).
	TUS int

	// SendQueueSize bounds the outbound queue in messages.
	SendQueueSize int

	// MaxMessage bounds one reassembled message.
	MaxMessage int

	// ReadTimeout closes the connection after read silence; zero
	// disables the deadline.
	ReadTimeout util.Duration

	// HandshakeTimeout bounds the pre-loop hello I/O.
	HandshakeTimeout util.Duration

	IOBufSize int
}

var DefaultConnConfig = ConnConfig{
	TUS:              proto.DefaultTUS,
	SendQueueSize:    1024,
	MaxMessage:       64 * 1024 * 1024,
	HandshakeTimeout: util.Duration{Duration: 5 * time.Second},
	IOBufSize:        64 * 1024,
}

func (c *ConnConfig) SetDefaultIfNotDefined() {
	if c.TUS < proto.MinTUS {
		c.TUS = proto.DefaultTUS
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = DefaultConnConfig.SendQueueSize
	}
	if c.MaxMessage <= 0 {
		c.MaxMessage = DefaultConnConfig.MaxMessage
	}
	if c.HandshakeTimeout.Duration <= 0 {
		c.HandshakeTimeout = DefaultConnConfig.HandshakeTimeout
	}
	if c.IOBufSize <= 0 {
		c.IOBufSize = DefaultConnConfig.IOBufSize
	}
}
