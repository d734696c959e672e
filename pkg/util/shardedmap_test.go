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
	"testing"
)

func TestShardedMapPutIfAbsent(t *testing.T) {
	m := NewShardedMap(16)
	if cur, stored := m.PutIfAbsent("motor_speed", 1); !stored || cur != nil {
		t.Fatalf("first PutIfAbsent: stored=%v cur=%v", stored, cur)
	}
	if cur, stored := m.PutIfAbsent("motor_speed", 2); stored || cur.(int) != 1 {
		t.Fatalf("second PutIfAbsent: stored=%v cur=%v", stored, cur)
	}
	if v, ok := m.Get("motor_speed"); !ok || v.(int) != 1 {
		t.Fatalf("Get: ok=%v v=%v", ok, v)
	}
}

func TestShardedMapConcurrentCreate(t *testing.T) {
	m := NewShardedMap(8)
	const workers = 32
	var wins AtomicCounter
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		v := i
		go func() {
			defer wg.Done()
			if _, stored := m.PutIfAbsent("pump_run", v); stored {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Get() != 1 {
		t.Errorf("expected exactly one winner, got %d", wins.Get())
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}
}

func TestShardedMapRangeDelete(t *testing.T) {
	m := NewShardedMap(4)
	names := []string{"fit101", "lit101", "p101_run", "mv101_cmd", "plc_ok"}
	for i, n := range names {
		m.Put(n, i)
	}
	seen := make(map[string]bool)
	m.Range(func(k string, v interface{}) bool {
		seen[k] = true
		return true
	})
	if len(seen) != len(names) {
		t.Errorf("Range visited %d keys, want %d", len(seen), len(names))
	}
	m.Delete("p101_run")
	if _, ok := m.Get("p101_run"); ok {
		t.Errorf("Get after Delete returned ok")
	}
	if m.Len() != len(names)-1 {
		t.Errorf("Len = %d, want %d", m.Len(), len(names)-1)
	}
}
