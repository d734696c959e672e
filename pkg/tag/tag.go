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

package tag

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"tagbus/pkg/proto"
	"tagbus/pkg/util"
)

var (
	ErrInvalidName    = errors.New("tag: invalid tag name")
	ErrTypeMismatch   = errors.New("tag: value kind does not match declared type")
	ErrKindConflict   = errors.New("tag: name already declared with a different type")
	ErrReentrantWrite = errors.New("tag: write to a tag from its own callback")
	ErrRTAHandlerSet  = errors.New("tag: rta handler already set")
)

// Callback observes a change on a tag. It runs synchronously on the
// goroutine that made the change and must not suspend.
type Callback func(*Tag)

type callbackEntry struct {
	fn     Callback
	filter uint16
}

// Meta carries the display and filter hints attached from
// configuration. It never touches the hot path except Min, Max and
// Deadband, which shape numeric writes.
type Meta struct {
	Desc     string
	Units    string
	Format   string
	Min      *float64
	Max      *float64
	DP       *int
	Deadband *float64
	Multi    []string
}

// Tag is a typed value holder distributed over the bus. Instances are
// singletons by name within a Bus registry and live for the process
// lifetime.
type Tag struct {
	name string
	kind proto.ValueKind
	bus  *Bus

	mu        sync.Mutex
	value     proto.Value
	timeUS    int64
	busID     uint16
	id        uint16
	meta      Meta
	callbacks []callbackEntry
	rta       func(proto.Value)
	publish   func(*Tag)
	firingGID uint64
}

func (t *Tag) Name() string {
	return t.name
}

func (t *Tag) Kind() proto.ValueKind {
	return t.kind
}

// Value returns the current value; the null value until the first
// write.
func (t *Tag) Value() proto.Value {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

func (t *Tag) TimeUS() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timeUS
}

// BusID identifies the connection that authored the current value; 0
// means the value never crossed the bus.
func (t *Tag) BusID() uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.busID
}

// ID is the bus-assigned identity, 0 until the ID round-trip
// completes.
func (t *Tag) ID() uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

func (t *Tag) SetID(id uint16) {
	t.mu.Lock()
	t.id = id
	t.mu.Unlock()
}

func (t *Tag) Meta() Meta {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.meta
}

func (t *Tag) SetMeta(m Meta) {
	t.mu.Lock()
	t.meta = m
	t.mu.Unlock()
}

// StateLabel maps an int value through the configured multi labels.
func (t *Tag) StateLabel() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.value.Kind != proto.KindInt {
		return ""
	}
	i := t.value.Int
	if i < 0 || int(i) >= len(t.meta.Multi) {
		return ""
	}
	return t.meta.Multi[i]
}

// AddCallback registers a change handler. A handler with filterBusID 0
// sees every change; otherwise only changes authored by that bus id.
// Handlers run in registration order before the change leaves the
// process.
func (t *Tag) AddCallback(fn Callback, filterBusID uint16) {
	t.mu.Lock()
	t.callbacks = append(t.callbacks, callbackEntry{fn: fn, filter: filterBusID})
	t.mu.Unlock()
}

// SetRTAHandler marks this process as the tag's author for
// request-to-author routing. At most one handler per tag. The module
// must also publish a value so the server learns authorship.
func (t *Tag) SetRTAHandler(fn func(proto.Value)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rta != nil {
		return ErrRTAHandlerSet
	}
	t.rta = fn
	return nil
}

// RTAHandler returns the handler slot, nil when this process does not
// author the tag.
func (t *Tag) RTAHandler() func(proto.Value) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rta
}

// SetPublishHook installs the bus client's publish slot, called after
// the callbacks for every locally authored change.
func (t *Tag) SetPublishHook(fn func(*Tag)) {
	t.mu.Lock()
	t.publish = fn
	t.mu.Unlock()
}

// Set writes a locally authored value stamped with the current time.
func (t *Tag) Set(v interface{}) error {
	return t.SetFrom(v, util.NowUS(), proto.BusIDLocal)
}

// SetAt writes a locally authored value with an explicit timestamp.
func (t *Tag) SetAt(v interface{}, timeUS int64) error {
	return t.SetFrom(v, timeUS, proto.BusIDLocal)
}

// SetFrom writes a value with explicit timestamp and authorship. The
// bus client uses it to materialise remote changes; everything else
// passes bus id 0.
func (t *Tag) SetFrom(v interface{}, timeUS int64, busID uint16) error {
	val, err := coerce(v, t.kind)
	if err != nil {
		glog.Errorf("tag %s: %v (got %T)", t.name, err, v)
		return err
	}
	return t.setValue(val, timeUS, busID)
}

func (t *Tag) setValue(val proto.Value, timeUS int64, busID uint16) error {
	gid := util.GetGID()
	t.mu.Lock()
	if t.firingGID == gid && gid != 0 {
		t.mu.Unlock()
		glog.Errorf("tag %s: write from its own callback frame", t.name)
		return ErrReentrantWrite
	}
	if timeUS < t.timeUS {
		// stale write, keep the newer value
		t.mu.Unlock()
		return nil
	}
	clamped := false
	if val.Kind == proto.KindFloat {
		if t.meta.Min != nil && val.Float < *t.meta.Min {
			val.Float = *t.meta.Min
			clamped = true
		}
		if t.meta.Max != nil && val.Float > *t.meta.Max {
			val.Float = *t.meta.Max
			clamped = true
		}
	} else if val.Kind == proto.KindInt {
		if t.meta.Min != nil && float64(val.Int) < *t.meta.Min {
			val.Int = int64(*t.meta.Min)
			clamped = true
		}
		if t.meta.Max != nil && float64(val.Int) > *t.meta.Max {
			val.Int = int64(*t.meta.Max)
			clamped = true
		}
	}
	if t.meta.Deadband != nil && !clamped && !t.value.IsNull() {
		var delta float64
		switch {
		case val.Kind == proto.KindFloat && t.value.Kind == proto.KindFloat:
			delta = val.Float - t.value.Float
		case val.Kind == proto.KindInt && t.value.Kind == proto.KindInt:
			delta = float64(val.Int - t.value.Int)
		default:
			delta = *t.meta.Deadband
		}
		if delta < 0 {
			delta = -delta
		}
		if delta < *t.meta.Deadband {
			t.mu.Unlock()
			return nil
		}
	}
	t.value = val
	t.timeUS = timeUS
	t.busID = busID
	cbs := make([]callbackEntry, len(t.callbacks))
	copy(cbs, t.callbacks)
	publish := t.publish
	t.firingGID = gid
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.firingGID = 0
		t.mu.Unlock()
	}()
	for _, cb := range cbs {
		if cb.filter != 0 && cb.filter != busID {
			continue
		}
		t.fire(cb.fn)
	}
	if busID == proto.BusIDLocal && publish != nil {
		publish(t)
	}
	return nil
}

// fire isolates a handler: a panic is logged and the rest of the
// batch, publish included, still runs.
func (t *Tag) fire(fn Callback) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("tag %s: callback panic: %v", t.name, r)
		}
	}()
	fn(t)
}

// coerce maps a Go value onto the declared scalar kind. Ints are
// accepted for float tags; any other mismatch is a programming error.
func coerce(v interface{}, kind proto.ValueKind) (proto.Value, error) {
	var val proto.Value
	switch x := v.(type) {
	case proto.Value:
		val = x
	case int64:
		val = proto.IntValue(x)
	case int:
		val = proto.IntValue(int64(x))
	case int32:
		val = proto.IntValue(int64(x))
	case uint16:
		val = proto.IntValue(int64(x))
	case bool:
		if x {
			val = proto.IntValue(1)
		} else {
			val = proto.IntValue(0)
		}
	case float64:
		val = proto.FloatValue(x)
	case float32:
		val = proto.FloatValue(float64(x))
	case string:
		val = proto.TextValue(x)
	case []byte:
		val = proto.BytesValue(x)
	case json.RawMessage:
		val = proto.RawJSONValue(x)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return val, fmt.Errorf("tag: unsupported value type %T", v)
		}
		val = proto.RawJSONValue(raw)
	}
	if val.Kind == kind || kind == proto.KindAny {
		return val, nil
	}
	if kind == proto.KindFloat && val.Kind == proto.KindInt {
		return proto.FloatValue(float64(val.Int)), nil
	}
	return val, ErrTypeMismatch
}
