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

package util

import (
	"sync"
	"time"

	"github.com/golang/glog"
)

// Periodic runs a handler on a fixed period aligned to the wall clock:
// a one second period fires on the second, a minute period on the
// minute. When the handler overruns, the missed beats are skipped, not
// backlogged.
type Periodic struct {
	period   time.Duration
	handler  func(now time.Time)
	chStop   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	skipped  AtomicUint64Counter
}

func NewPeriodic(period time.Duration, handler func(now time.Time)) *Periodic {
	if period <= 0 {
		period = time.Second
	}
	return &Periodic{
		period:  period,
		handler: handler,
		chStop:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

func (p *Periodic) Start() {
	go p.run()
}

// Stop cancels the schedule and waits for an in-flight handler call to
// return.
func (p *Periodic) Stop() {
	p.stopOnce.Do(func() { close(p.chStop) })
	<-p.doneCh
}

// Skipped reports how many beats were dropped to handler overruns.
func (p *Periodic) Skipped() uint64 {
	return p.skipped.Get()
}

func (p *Periodic) run() {
	defer close(p.doneCh)

	timer := NewTimerWrapper(p.period)
	defer timer.Stop()

	next := time.Now().Truncate(p.period).Add(p.period)
	for {
		timer.Reset(time.Until(next))
		select {
		case now := <-timer.GetTimeoutCh():
			p.handler(now)
			next = next.Add(p.period)
			if after := time.Now(); next.Before(after) {
				realigned := after.Truncate(p.period).Add(p.period)
				n := uint64(realigned.Sub(next) / p.period)
				p.skipped.Add(n)
				glog.V(1).Infof("periodic overran %v, skipping %d beat(s)", p.period, n)
				next = realigned
			}
		case <-p.chStop:
			return
		}
	}
}
