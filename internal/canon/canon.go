// Package canon implements RFC 8785 canonical JSON encoding and
// domain-separated content hashing.
//
// Mercury uses this for every internally generated identifier that must
// be stable across process restarts and independent of map iteration
// order: temp-store names and SERVICE result cache keys.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// Value is a sealed interface over the handful of JSON value shapes that
// may appear in a canonicalized document. Floats are intentionally
// excluded: Mercury's internal identifiers are always built from strings,
// integers, bools, arrays and objects, never floating point.
type Value interface {
	canonValue()
}

type String string

func (String) canonValue() {}

type Int int64

func (Int) canonValue() {}

type Bool bool

func (Bool) canonValue() {}

type Array []Value

func (Array) canonValue() {}

// Object is a map of string keys to canonical values. Use SortedKeys for
// deterministic iteration; plain range over the map is non-deterministic.
type Object map[string]Value

func (Object) canonValue() {}

// SortedKeys returns the object's keys ordered by UTF-16 code unit, the
// ordering RFC 8785 requires. Go's sort.Strings compares UTF-8 bytes,
// which disagrees with RFC 8785 when characters outside the Basic
// Multilingual Plane meet characters in U+E000..U+FFFF, so it cannot be
// used here.
func (o Object) SortedKeys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

func compareUTF16(a, b string) int {
	au := utf16.Encode([]rune(a))
	bu := utf16.Encode([]rune(b))
	n := min(len(au), len(bu))
	for i := 0; i < n; i++ {
		if au[i] != bu[i] {
			if au[i] < bu[i] {
				return -1
			}
			return 1
		}
	}
	return len(au) - len(bu)
}

// Marshal produces RFC 8785 canonical JSON bytes for v.
//
// Differences from encoding/json.Marshal that matter for content
// addressing: object keys are sorted by UTF-16 code unit, HTML
// characters are never escaped, strings are NFC-normalized, and there is
// no trailing newline.
func Marshal(v Value) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("canon: null has no canonical encoding")
	case String:
		return marshalString(string(val))
	case Int:
		return []byte(fmt.Sprintf("%d", val)), nil
	case Bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case Array:
		return marshalArray(val)
	case Object:
		return marshalObject(val)
	default:
		return nil, fmt.Errorf("canon: unsupported value type %T", v)
	}
}

func marshalString(s string) ([]byte, error) {
	normalized := norm.NFC.String(s)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}

	out := buf.Bytes()
	if len(out) > 0 && out[len(out)-1] == '\n' {
		out = out[:len(out)-1]
	}
	return out, nil
}

func marshalArray(arr Array) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := Marshal(elem)
		if err != nil {
			return nil, fmt.Errorf("canon: array[%d]: %w", i, err)
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func marshalObject(obj Object) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	keys := obj.SortedKeys()
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := marshalString(k)
		if err != nil {
			return nil, fmt.Errorf("canon: key %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := Marshal(obj[k])
		if err != nil {
			return nil, fmt.Errorf("canon: value for key %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Hash computes SHA-256 over domain || 0x00 || canonical(v), where domain
// is a short ASCII tag identifying the kind of thing being hashed (e.g.
// "mercury/tmp/v1"). The null separator prevents a crafted domain
// string from colliding with the start of the encoded value.
func Hash(domain string, v Value) (string, error) {
	body, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canon: hash: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// MustHash is like Hash but panics on error. Reserved for call sites
// where v is statically known to be canonicalizable (e.g. built entirely
// from String/Int/Bool/Array/Object literals).
func MustHash(domain string, v Value) string {
	h, err := Hash(domain, v)
	if err != nil {
		panic(err)
	}
	return h
}
