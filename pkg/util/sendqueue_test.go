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
)

type testMsg struct {
	key      uint32
	coalesce bool
	val      int
}

func (m *testMsg) CoalesceKey() (uint32, bool) {
	return m.key, m.coalesce
}

func TestSendQueueFIFO(t *testing.T) {
	q := NewSendQueue(8)
	for i := 0; i < 3; i++ {
		if err := q.Put(&testMsg{val: i}); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 3; i++ {
		m, err := q.Get()
		if err != nil {
			t.Fatal(err)
		}
		if m.(*testMsg).val != i {
			t.Errorf("got %d, want %d", m.(*testMsg).val, i)
		}
	}
}

func TestSendQueueCoalescesInPlace(t *testing.T) {
	q := NewSendQueue(8)
	q.Put(&testMsg{key: 1, coalesce: true, val: 10})
	q.Put(&testMsg{val: 100})
	q.Put(&testMsg{key: 1, coalesce: true, val: 11})

	m, _ := q.Get()
	if got := m.(*testMsg); !got.coalesce || got.val != 11 {
		t.Errorf("first entry = %+v, want coalesced val 11 ahead of the control entry", got)
	}
	m, _ = q.Get()
	if got := m.(*testMsg); got.val != 100 {
		t.Errorf("second entry = %+v", got)
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d after draining", q.Len())
	}
}

func TestSendQueueOverflowDropsOldestSet(t *testing.T) {
	q := NewSendQueue(3)
	q.Put(&testMsg{key: 1, coalesce: true, val: 1})
	q.Put(&testMsg{val: 2})
	q.Put(&testMsg{key: 3, coalesce: true, val: 3})
	// full; this must evict key 1, the oldest coalescable
	if err := q.Put(&testMsg{key: 4, coalesce: true, val: 4}); err != nil {
		t.Fatal(err)
	}
	if q.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", q.Dropped())
	}
	var vals []int
	for q.Len() > 0 {
		m, _ := q.Get()
		vals = append(vals, m.(*testMsg).val)
	}
	want := []int{2, 3, 4}
	if len(vals) != len(want) {
		t.Fatalf("drained %v, want %v", vals, want)
	}
	for i := range want {
		if vals[i] != want[i] {
			t.Fatalf("drained %v, want %v", vals, want)
		}
	}
}

func TestSendQueueOverflowAllControl(t *testing.T) {
	q := NewSendQueue(2)
	q.Put(&testMsg{val: 1})
	q.Put(&testMsg{val: 2})
	if err := q.Put(&testMsg{val: 3}); err != ErrQueueFull {
		t.Errorf("err = %v, want ErrQueueFull", err)
	}
}

func TestSendQueueCloseDrains(t *testing.T) {
	q := NewSendQueue(8)
	q.Put(&testMsg{val: 1})
	q.Close()
	if err := q.Put(&testMsg{val: 2}); err != ErrQueueClosed {
		t.Errorf("Put after Close: err = %v", err)
	}
	if m, err := q.Get(); err != nil || m.(*testMsg).val != 1 {
		t.Errorf("Get after Close should drain: m=%v err=%v", m, err)
	}
	if _, err := q.Get(); err != ErrQueueClosed {
		t.Errorf("Get on drained closed queue: err = %v", err)
	}
}

func TestSendQueueBlockingGet(t *testing.T) {
	q := NewSendQueue(4)
	done := make(chan int)
	go func() {
		m, err := q.Get()
		if err != nil {
			done <- -1
			return
		}
		done <- m.(*testMsg).val
	}()
	q.Put(&testMsg{val: 9})
	if got := <-done; got != 9 {
		t.Errorf("blocking Get returned %d", got)
	}
}
