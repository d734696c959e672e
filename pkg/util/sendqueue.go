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
	"container/list"
	"errors"
	"sync"
)

var (
	ErrQueueFull   = errors.New("send queue full")
	ErrQueueClosed = errors.New("send queue closed")
)

// OutMessage is an entry in a SendQueue. A coalescable entry (a value
// publish) reports a key; queueing a newer entry with the same key
// replaces the queued one in place, keeping its position. Control
// entries report ok=false and are never replaced.
type OutMessage interface {
	CoalesceKey() (key uint32, ok bool)
}

// SendQueue is the bounded outbound queue in front of a connection
// writer. On overflow the oldest coalescable entry is dropped first;
// only when none remains does Put fail. The latest value for any key
// is never lost, consistent with by-exception publishing.
type SendQueue struct {
	mu      sync.Mutex
	items   *list.List
	byKey   map[uint32]*list.Element
	limit   int
	chMore  chan struct{}
	chClose chan struct{}
	once    sync.Once
	dropped AtomicUint64Counter
}

func NewSendQueue(limit int) *SendQueue {
	if limit <= 0 {
		limit = 1024
	}
	return &SendQueue{
		items:   list.New(),
		byKey:   make(map[uint32]*list.Element),
		limit:   limit,
		chMore:  make(chan struct{}, 1),
		chClose: make(chan struct{}),
	}
}

func (q *SendQueue) Put(m OutMessage) error {
	select {
	case <-q.chClose:
		return ErrQueueClosed
	default:
	}
	q.mu.Lock()
	if key, ok := m.CoalesceKey(); ok {
		if e, present := q.byKey[key]; present {
			e.Value = m
			q.mu.Unlock()
			return nil
		}
		if q.items.Len() >= q.limit && !q.dropOldestCoalescable() {
			q.mu.Unlock()
			return ErrQueueFull
		}
		q.byKey[key] = q.items.PushBack(m)
	} else {
		if q.items.Len() >= q.limit && !q.dropOldestCoalescable() {
			q.mu.Unlock()
			return ErrQueueFull
		}
		q.items.PushBack(m)
	}
	q.mu.Unlock()
	q.signal()
	return nil
}

// dropOldestCoalescable makes room by discarding the frontmost value
// publish. Caller holds the lock.
func (q *SendQueue) dropOldestCoalescable() bool {
	for e := q.items.Front(); e != nil; e = e.Next() {
		if key, ok := e.Value.(OutMessage).CoalesceKey(); ok {
			q.items.Remove(e)
			delete(q.byKey, key)
			q.dropped.Add(1)
			return true
		}
	}
	return false
}

// Get blocks for the next entry. After Close it drains what is queued,
// then returns ErrQueueClosed.
func (q *SendQueue) Get() (OutMessage, error) {
	for {
		q.mu.Lock()
		if e := q.items.Front(); e != nil {
			q.items.Remove(e)
			m := e.Value.(OutMessage)
			if key, ok := m.CoalesceKey(); ok {
				delete(q.byKey, key)
			}
			q.mu.Unlock()
			return m, nil
		}
		q.mu.Unlock()
		select {
		case <-q.chMore:
		case <-q.chClose:
			q.mu.Lock()
			empty := q.items.Len() == 0
			q.mu.Unlock()
			if empty {
				return nil, ErrQueueClosed
			}
		}
	}
}

func (q *SendQueue) signal() {
	select {
	case q.chMore <- struct{}{}:
	default:
	}
}

func (q *SendQueue) Close() {
	q.once.Do(func() { close(q.chClose) })
}

func (q *SendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Dropped reports entries discarded to overflow.
func (q *SendQueue) Dropped() uint64 {
	return q.dropped.Get()
}
