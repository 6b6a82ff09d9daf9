// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pktlink

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// ValueMarshaler is implemented by types that write their own wire form
// instead of the reflective field-by-field encoding.
type ValueMarshaler interface {
	MarshalValue(e *Encoder) error
}

// ValueUnmarshaler is the decoding half of ValueMarshaler. It is looked up
// on the pointer type.
type ValueUnmarshaler interface {
	UnmarshalValue(d *Decoder) error
}

var (
	marshalerType   = reflect.TypeFor[ValueMarshaler]()
	unmarshalerType = reflect.TypeFor[ValueUnmarshaler]()
)

// Marshal returns the binary form of v.
func Marshal(v any) ([]byte, error) {
	e := NewEncoder()
	if err := e.Value(v); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// Unmarshal decodes data into the value ptr points to. All of data must be
// consumed.
func Unmarshal(data []byte, ptr any) error {
	d := NewDecoder(data)
	if err := d.Value(ptr); err != nil {
		return err
	}
	if d.Remaining() != 0 {
		return fmt.Errorf("%w: %d bytes", ErrTrailingData, d.Remaining())
	}
	return nil
}

// Value appends v. Structs are written field by field in declaration order;
// exported fields only, and a `pkt:"-"` tag skips a field.
func (e *Encoder) Value(v any) error {
	if v == nil {
		return fmt.Errorf("%w: nil", ErrUnsupportedType)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return fmt.Errorf("%w: nil %s", ErrUnsupportedType, rv.Type())
		}
		rv = rv.Elem()
	}
	return e.encode(rv)
}

func (e *Encoder) encode(rv reflect.Value) error {
	t := rv.Type()
	if t.Implements(marshalerType) {
		return rv.Interface().(ValueMarshaler).MarshalValue(e)
	}
	if reflect.PointerTo(t).Implements(marshalerType) {
		if !rv.CanAddr() {
			tmp := reflect.New(t).Elem()
			tmp.Set(rv)
			rv = tmp
		}
		return rv.Addr().Interface().(ValueMarshaler).MarshalValue(e)
	}

	switch t.Kind() {
	case reflect.Uint8:
		e.WriteUint8(uint8(rv.Uint()))
	case reflect.Uint16:
		e.WriteUint16(uint16(rv.Uint()))
	case reflect.Uint32:
		e.WriteUint32(uint32(rv.Uint()))
	case reflect.Uint64:
		e.WriteUint64(rv.Uint())
	case reflect.Int8:
		e.WriteInt8(int8(rv.Int()))
	case reflect.Int16:
		e.WriteInt16(int16(rv.Int()))
	case reflect.Int32:
		e.WriteInt32(int32(rv.Int()))
	case reflect.Int64:
		e.WriteInt64(rv.Int())
	case reflect.Float32:
		e.WriteFloat32(float32(rv.Float()))
	case reflect.Float64:
		e.WriteFloat64(rv.Float())
	case reflect.String:
		e.WriteString(rv.String())
	case reflect.Slice:
		e.WriteLen(rv.Len())
		if isPlainBytes(t) {
			e.WriteRaw(rv.Bytes())
			return nil
		}
		for i := 0; i < rv.Len(); i++ {
			if err := e.encode(rv.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Struct:
		for _, idx := range fieldsOf(t) {
			if err := e.encode(rv.Field(idx)); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
	return nil
}

// Value decodes into the value ptr points to.
func (d *Decoder) Value(ptr any) error {
	rv := reflect.ValueOf(ptr)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("%w: decode target must be a non-nil pointer, got %T", ErrUnsupportedType, ptr)
	}
	return d.decode(rv.Elem())
}

func (d *Decoder) decode(rv reflect.Value) error {
	t := rv.Type()
	if reflect.PointerTo(t).Implements(unmarshalerType) {
		return rv.Addr().Interface().(ValueUnmarshaler).UnmarshalValue(d)
	}

	switch t.Kind() {
	case reflect.Uint8:
		v, err := d.ReadUint8()
		if err != nil {
			return err
		}
		rv.SetUint(uint64(v))
	case reflect.Uint16:
		v, err := d.ReadUint16()
		if err != nil {
			return err
		}
		rv.SetUint(uint64(v))
	case reflect.Uint32:
		v, err := d.ReadUint32()
		if err != nil {
			return err
		}
		rv.SetUint(uint64(v))
	case reflect.Uint64:
		v, err := d.ReadUint64()
		if err != nil {
			return err
		}
		rv.SetUint(v)
	case reflect.Int8:
		v, err := d.ReadInt8()
		if err != nil {
			return err
		}
		rv.SetInt(int64(v))
	case reflect.Int16:
		v, err := d.ReadInt16()
		if err != nil {
			return err
		}
		rv.SetInt(int64(v))
	case reflect.Int32:
		v, err := d.ReadInt32()
		if err != nil {
			return err
		}
		rv.SetInt(int64(v))
	case reflect.Int64:
		v, err := d.ReadInt64()
		if err != nil {
			return err
		}
		rv.SetInt(v)
	case reflect.Float32:
		v, err := d.ReadFloat32()
		if err != nil {
			return err
		}
		rv.SetFloat(float64(v))
	case reflect.Float64:
		v, err := d.ReadFloat64()
		if err != nil {
			return err
		}
		rv.SetFloat(v)
	case reflect.String:
		v, err := d.ReadString()
		if err != nil {
			return err
		}
		rv.SetString(v)
	case reflect.Slice:
		return d.decodeSlice(rv)
	case reflect.Struct:
		for _, idx := range fieldsOf(t) {
			if err := d.decode(rv.Field(idx)); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
	return nil
}

func (d *Decoder) decodeSlice(rv reflect.Value) error {
	t := rv.Type()
	n, err := d.ReadLen()
	if err != nil {
		return err
	}
	if isPlainBytes(t) {
		b, err := d.ReadRaw(n)
		if err != nil {
			return err
		}
		out := reflect.MakeSlice(t, n, n)
		reflect.Copy(out, reflect.ValueOf(b))
		rv.Set(out)
		return nil
	}
	// Elements that can take no bytes never run out of input, so their
	// count is bounded separately.
	if n > max(d.Remaining(), maxEmptyElements) && mayBeEmpty(t.Elem()) {
		return fmt.Errorf("%w: %d elements of %s in %d bytes", ErrInvalidEncoding, n, t.Elem(), d.Remaining())
	}
	// A hostile count must not size the allocation; the loop below fails
	// with ErrTruncated long before the slice would need to grow that far.
	out := reflect.MakeSlice(t, 0, min(n, d.Remaining()))
	elem := reflect.New(t.Elem()).Elem()
	for i := 0; i < n; i++ {
		elem.SetZero()
		if err := d.decode(elem); err != nil {
			return err
		}
		out = reflect.Append(out, elem)
	}
	rv.Set(out)
	return nil
}

// maxEmptyElements bounds sequences whose elements may encode to nothing.
const maxEmptyElements = 1 << 16

// mayBeEmpty reports whether a value of t can encode to zero bytes.
func mayBeEmpty(t reflect.Type) bool {
	if t.Implements(marshalerType) ||
		reflect.PointerTo(t).Implements(marshalerType) ||
		reflect.PointerTo(t).Implements(unmarshalerType) {
		return true
	}
	if t.Kind() != reflect.Struct {
		return false
	}
	for _, idx := range fieldsOf(t) {
		if !mayBeEmpty(t.Field(idx).Type) {
			return false
		}
	}
	return true
}

func isPlainBytes(t reflect.Type) bool {
	et := t.Elem()
	return et.Kind() == reflect.Uint8 &&
		!et.Implements(marshalerType) &&
		!reflect.PointerTo(et).Implements(marshalerType) &&
		!reflect.PointerTo(et).Implements(unmarshalerType)
}

var structFields sync.Map // reflect.Type -> []int

func fieldsOf(t reflect.Type) []int {
	if cached, ok := structFields.Load(t); ok {
		return cached.([]int)
	}
	idx := make([]int, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if tag, ok := f.Tag.Lookup("pkt"); ok && strings.TrimSpace(tag) == "-" {
			continue
		}
		idx = append(idx, i)
	}
	cached, _ := structFields.LoadOrStore(t, idx)
	return cached.([]int)
}
