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

// Package stats samples the bus server's counters on an interval and
// writes one state line per tick to the writers attached to it.
package stats

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"tagbus/pkg/util"
)

const DefaultWriteInterval = time.Second

type (
	// IState is one column of the state line.
	IState interface {
		Header() string
		State() string
		Width() int
	}

	IStatesWriter interface {
		Write(now time.Time) error
		Close() error
	}

	StateBase struct {
		header string
	}

	// GaugeState prints the counter's current value.
	GaugeState struct {
		StateBase
		counter *util.AtomicUint64Counter
	}

	// DeltaState prints the counter's growth since the previous tick.
	DeltaState struct {
		StateBase
		counter   *util.AtomicUint64Counter
		lastValue uint64
	}

	// GenState prints whatever its value func returns.
	GenState struct {
		StateBase
		Value func() string
		width int
	}

	StateLog struct {
		id       string
		interval time.Duration
		states   []IState
		writers  []IStatesWriter
		quitOnce sync.Once
		chQuit   chan struct{}
	}
)

func (s *StateBase) Header() string {
	return s.header
}

func NewGaugeState(c *util.AtomicUint64Counter, header string) *GaugeState {
	return &GaugeState{StateBase{header}, c}
}

func (s *GaugeState) State() string {
	return fmt.Sprintf("%v", s.counter.Get())
}

func (s *GaugeState) Width() int {
	return widthFor(s.header, 8)
}

func NewDeltaState(c *util.AtomicUint64Counter, header string) *DeltaState {
	return &DeltaState{StateBase: StateBase{header}, counter: c}
}

func (s *DeltaState) State() string {
	cur := s.counter.Get()
	delta := cur - s.lastValue
	s.lastValue = cur
	return fmt.Sprintf("%v", delta)
}

func (s *DeltaState) Width() int {
	return widthFor(s.header, 8)
}

func NewGenState(header string, v func() string, width int) *GenState {
	return &GenState{StateBase{header}, v, widthFor(header, width)}
}

func (s *GenState) State() string {
	return s.Value()
}

func (s *GenState) Width() int {
	return s.width
}

func widthFor(header string, min int) int {
	if len(header) > min {
		return len(header)
	}
	return min
}

func NewStateLog(id string, interval time.Duration, states []IState) *StateLog {
	if interval <= 0 {
		interval = DefaultWriteInterval
	}
	return &StateLog{
		id:       id,
		interval: interval,
		states:   states,
		chQuit:   make(chan struct{}),
	}
}

func (l *StateLog) AddState(st IState) {
	l.states = append(l.states, st)
}

func (l *StateLog) AddStateWriter(w IStatesWriter) {
	l.writers = append(l.writers, w)
}

func (l *StateLog) GetStates() []IState {
	return l.states
}

func (l *StateLog) Run() {
	go l.write()
}

func (l *StateLog) write() {
	ticker := time.NewTicker(l.interval)
	defer func() {
		ticker.Stop()
		for _, w := range l.writers {
			w.Close()
		}
	}()
	for {
		select {
		case <-l.chQuit:
			glog.V(2).Infof("statelog %s writer quit", l.id)
			return
		case now := <-ticker.C:
			for _, w := range l.writers {
				if err := w.Write(now); err != nil {
					glog.Errorf("statelog %s: %v", l.id, err)
				}
			}
		}
	}
}

func (l *StateLog) Quit() {
	l.quitOnce.Do(func() {
		close(l.chQuit)
	})
}
