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

package proto

import (
	"encoding/json"
	"fmt"
	"math"
)

// KindNull is not a wire kind. It marks a value that has never been
// set; the null value encodes as an empty payload.
const KindNull = ValueKind(0xFF)

// Value is the tagged union carried by SET and RTA payloads. Kind
// selects which member is meaningful.
type Value struct {
	Kind  ValueKind
	Int   int64
	Float float64
	Text  string
	Bytes []byte
	JSON  json.RawMessage
}

func NullValue() Value {
	return Value{Kind: KindNull}
}

func IntValue(i int64) Value {
	return Value{Kind: KindInt, Int: i}
}

func FloatValue(f float64) Value {
	return Value{Kind: KindFloat, Float: f}
}

func TextValue(s string) Value {
	return Value{Kind: KindText, Text: s}
}

func BytesValue(b []byte) Value {
	return Value{Kind: KindBytes, Bytes: b}
}

// RawJSONValue wraps already-encoded JSON without validating it.
func RawJSONValue(raw []byte) Value {
	return Value{Kind: KindJSON, JSON: raw}
}

// JSONValue marshals doc into a kind-4 value.
func JSONValue(doc interface{}) (Value, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return NullValue(), err
	}
	return Value{Kind: KindJSON, JSON: raw}, nil
}

// IsNull has a value receiver; call it directly on Value results.
func (v Value) IsNull() bool {
	return v.Kind == KindNull
}

func (v *Value) EncodedSize() int {
	switch v.Kind {
	case KindNull:
		return 0
	case KindInt, KindFloat:
		return 9
	case KindText:
		return 5 + len(v.Text)
	case KindBytes:
		return 5 + len(v.Bytes)
	case KindJSON:
		return 5 + len(v.JSON)
	}
	return 0
}

// Encode returns the payload bytes: the kind byte then the body, or
// nil for the null value.
func (v *Value) Encode() []byte {
	if v.Kind == KindNull {
		return nil
	}
	buf := make([]byte, v.EncodedSize())
	buf[0] = uint8(v.Kind)
	switch v.Kind {
	case KindInt:
		EncByteOrder.PutUint64(buf[1:], uint64(v.Int))
	case KindFloat:
		EncByteOrder.PutUint64(buf[1:], math.Float64bits(v.Float))
	case KindText:
		EncByteOrder.PutUint32(buf[1:5], uint32(len(v.Text)))
		copy(buf[5:], v.Text)
	case KindBytes:
		EncByteOrder.PutUint32(buf[1:5], uint32(len(v.Bytes)))
		copy(buf[5:], v.Bytes)
	case KindJSON:
		EncByteOrder.PutUint32(buf[1:5], uint32(len(v.JSON)))
		copy(buf[5:], v.JSON)
	}
	return buf
}

// DecodeValue parses a SET/RTA payload. An empty payload is the null
// value.
func DecodeValue(payload []byte) (v Value, err error) {
	if len(payload) == 0 {
		v.Kind = KindNull
		return
	}
	v.Kind = ValueKind(payload[0])
	body := payload[1:]
	switch v.Kind {
	case KindInt:
		if len(body) < 8 {
			return NullValue(), ErrValueTruncated
		}
		if len(body) > 8 {
			return NullValue(), ErrValueTrailing
		}
		v.Int = int64(EncByteOrder.Uint64(body))
	case KindFloat:
		if len(body) < 8 {
			return NullValue(), ErrValueTruncated
		}
		if len(body) > 8 {
			return NullValue(), ErrValueTrailing
		}
		v.Float = math.Float64frombits(EncByteOrder.Uint64(body))
	case KindText, KindBytes, KindJSON:
		if len(body) < 4 {
			return NullValue(), ErrValueTruncated
		}
		n := EncByteOrder.Uint32(body[:4])
		body = body[4:]
		if uint32(len(body)) < n {
			return NullValue(), ErrValueTruncated
		}
		if uint32(len(body)) > n {
			return NullValue(), ErrValueTrailing
		}
		switch v.Kind {
		case KindText:
			v.Text = string(body)
		case KindBytes:
			v.Bytes = append([]byte(nil), body...)
		case KindJSON:
			v.JSON = append(json.RawMessage(nil), body...)
		}
	default:
		return NullValue(), ErrInvalidValueKind
	}
	return
}

// Document unmarshals a kind-4 body into out.
func (v *Value) Document(out interface{}) error {
	if v.Kind != KindJSON {
		return ErrInvalidValueKind
	}
	return json.Unmarshal(v.JSON, out)
}

// Interface returns the member selected by Kind, for logging and
// display.
func (v *Value) Interface() interface{} {
	switch v.Kind {
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindText:
		return v.Text
	case KindBytes:
		return v.Bytes
	case KindJSON:
		return v.JSON
	}
	return nil
}

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case KindText:
		return v.Text
	case KindBytes:
		return fmt.Sprintf("bytes[%d]", len(v.Bytes))
	case KindJSON:
		return string(v.JSON)
	}
	return v.Kind.String()
}

// Equal compares kind and body. Bytes and JSON compare by content.
func (v *Value) Equal(o *Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindInt:
		return v.Int == o.Int
	case KindFloat:
		return v.Float == o.Float
	case KindText:
		return v.Text == o.Text
	case KindBytes:
		return string(v.Bytes) == string(o.Bytes)
	case KindJSON:
		return string(v.JSON) == string(o.JSON)
	}
	return false
}
