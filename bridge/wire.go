// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"fmt"

	"github.com/bureau-foundation/winsync/lib/codec"
	"github.com/bureau-foundation/winsync/lib/geometry"
	"github.com/bureau-foundation/winsync/lib/remote"
)

// Value types carried by WireValue.
const (
	typeNil     = "nil"
	typeBool    = "bool"
	typeInt     = "int"
	typeFloat   = "float"
	typeString  = "string"
	typeHandle  = "handle"
	typeHandles = "handles"
	typePoint   = "point"
	typeSize    = "size"
	typeRect    = "rect"
)

// WireValue is an attribute value tagged with its type. CBOR alone
// cannot tell a handle from an integer or a point from a map, so the
// tag decides which field holds the value.
type WireValue struct {
	Type    string          `cbor:"type"`
	Bool    bool            `cbor:"bool,omitempty"`
	Int     int64           `cbor:"int,omitempty"`
	Float   float64         `cbor:"float,omitempty"`
	String  string          `cbor:"string,omitempty"`
	Handle  remote.Handle   `cbor:"handle,omitempty"`
	Handles []remote.Handle `cbor:"handles,omitempty"`
	Point   *geometry.Point `cbor:"point,omitempty"`
	Size    *geometry.Size  `cbor:"size,omitempty"`
	Rect    *geometry.Rect  `cbor:"rect,omitempty"`
}

// EncodeValue tags value for the wire. Types the environment never
// produces are rejected with remote.ErrIllegalValue.
func EncodeValue(value any) (WireValue, error) {
	switch typed := value.(type) {
	case nil:
		return WireValue{Type: typeNil}, nil
	case bool:
		return WireValue{Type: typeBool, Bool: typed}, nil
	case int:
		return WireValue{Type: typeInt, Int: int64(typed)}, nil
	case int32:
		return WireValue{Type: typeInt, Int: int64(typed)}, nil
	case int64:
		return WireValue{Type: typeInt, Int: typed}, nil
	case float64:
		return WireValue{Type: typeFloat, Float: typed}, nil
	case string:
		return WireValue{Type: typeString, String: typed}, nil
	case remote.Handle:
		return WireValue{Type: typeHandle, Handle: typed}, nil
	case []remote.Handle:
		return WireValue{Type: typeHandles, Handles: typed}, nil
	case geometry.Point:
		return WireValue{Type: typePoint, Point: &typed}, nil
	case geometry.Size:
		return WireValue{Type: typeSize, Size: &typed}, nil
	case geometry.Rect:
		return WireValue{Type: typeRect, Rect: &typed}, nil
	default:
		return WireValue{}, fmt.Errorf("cannot carry %T across the bridge: %w", value, remote.ErrIllegalValue)
	}
}

// Decode returns the Go value the tag describes.
func (v WireValue) Decode() (any, error) {
	switch v.Type {
	case typeNil:
		return nil, nil
	case typeBool:
		return v.Bool, nil
	case typeInt:
		return v.Int, nil
	case typeFloat:
		return v.Float, nil
	case typeString:
		return v.String, nil
	case typeHandle:
		return v.Handle, nil
	case typeHandles:
		if v.Handles == nil {
			return []remote.Handle{}, nil
		}
		return v.Handles, nil
	case typePoint:
		if v.Point == nil {
			return nil, fmt.Errorf("point value without payload")
		}
		return *v.Point, nil
	case typeSize:
		if v.Size == nil {
			return nil, fmt.Errorf("size value without payload")
		}
		return *v.Size, nil
	case typeRect:
		if v.Rect == nil {
			return nil, fmt.Errorf("rect value without payload")
		}
		return *v.Rect, nil
	default:
		return nil, fmt.Errorf("unknown wire type %q", v.Type)
	}
}

// request is the union of every action's fields.
type request struct {
	Action     string              `cbor:"action"`
	Handle     remote.Handle       `cbor:"handle,omitempty"`
	Attribute  remote.Attribute    `cbor:"attribute,omitempty"`
	Attributes []remote.Attribute  `cbor:"attributes,omitempty"`
	Value      *WireValue          `cbor:"value,omitempty"`
	PID        remote.ProcessID    `cbor:"pid,omitempty"`
	Observer   uint64              `cbor:"observer,omitempty"`
	Kind       remote.Notification `cbor:"kind,omitempty"`
}

// response is the envelope for every reply.
type response struct {
	OK    bool             `cbor:"ok"`
	Error *errorEnvelope   `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// Actions understood by Server.
const (
	actionRead                 = "read"
	actionReadMany             = "read_many"
	actionWrite                = "write"
	actionRunningApplications  = "running_applications"
	actionApplicationHandle    = "application_handle"
	actionFrontmostApplication = "frontmost_application"
	actionScreens              = "screens"
	actionObserve              = "observe"
	actionSubscribe            = "subscribe"
	actionUnsubscribe          = "unsubscribe"
	actionCloseObserver        = "close_observer"
	actionNotices              = "notices"
)
