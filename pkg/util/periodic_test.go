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
	"testing"
	"time"
)

func TestPeriodicFires(t *testing.T) {
	var beats AtomicCounter
	p := NewPeriodic(20*time.Millisecond, func(now time.Time) {
		beats.Add(1)
	})
	p.Start()
	time.Sleep(130 * time.Millisecond)
	p.Stop()
	if n := beats.Get(); n < 3 {
		t.Errorf("got %d beats in 130ms at 20ms period, want >= 3", n)
	}
}

func TestPeriodicSkipsMissedBeats(t *testing.T) {
	var calls AtomicCounter
	p := NewPeriodic(10*time.Millisecond, func(now time.Time) {
		if calls.Get() == 0 {
			time.Sleep(35 * time.Millisecond)
		}
		calls.Add(1)
	})
	p.Start()
	time.Sleep(100 * time.Millisecond)
	p.Stop()
	if p.Skipped() == 0 {
		t.Errorf("expected skipped beats after a 35ms overrun of a 10ms period")
	}
	// a backlogging scheduler would deliver every one of the ~10 beats
	if c := calls.Get(); c >= 10 {
		t.Errorf("handler backlogged: %d calls", c)
	}
}

func TestPeriodicStopWaitsForHandler(t *testing.T) {
	var inFlight AtomicCounter
	p := NewPeriodic(5*time.Millisecond, func(now time.Time) {
		inFlight.Add(1)
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
	})
	p.Start()
	time.Sleep(12 * time.Millisecond)
	p.Stop()
	if inFlight.Get() != 0 {
		t.Errorf("Stop returned with handler still in flight")
	}
	p.Stop() // second Stop is a no-op
}
