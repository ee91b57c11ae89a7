// Package test provides small assertion helpers shared by _test.go files
// across the module, in the style of Boulder's own test package: plain
// functions taking a *testing.T, not a third-party assertion library.
package test

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
)

// Assert calls t.Fatal if the condition is false.
func Assert(t *testing.T, ok bool, msg string) {
	t.Helper()
	if !ok {
		t.Fatal(msg)
	}
}

// AssertNotError calls t.Fatal if err is non-nil.
func AssertNotError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

// AssertError calls t.Fatal if err is nil.
func AssertError(t *testing.T, err error, msg string) {
	t.Helper()
	if err == nil {
		t.Fatalf("%s: expected error, got none", msg)
	}
}

// AssertErrorIs calls t.Fatal unless errors.Is(err, target).
func AssertErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected error chain to contain %v, got %v", target, err)
	}
}

// AssertEquals calls t.Fatal if the two values are not ==.
func AssertEquals(t *testing.T, one, two interface{}) {
	t.Helper()
	if one != two {
		t.Fatalf("%#v != %#v", one, two)
	}
}

// AssertNotEquals calls t.Fatal if the two values are ==.
func AssertNotEquals(t *testing.T, one, two interface{}) {
	t.Helper()
	if one == two {
		t.Fatalf("%#v == %#v, expected different values", one, two)
	}
}

// AssertDeepEquals calls t.Fatal unless reflect.DeepEqual(one, two).
func AssertDeepEquals(t *testing.T, one, two interface{}) {
	t.Helper()
	if !reflect.DeepEqual(one, two) {
		t.Fatalf("%#v !DeepEqual %#v", one, two)
	}
}

// AssertByteEquals calls t.Fatal unless the two byte slices are equal.
func AssertByteEquals(t *testing.T, one, two []byte) {
	t.Helper()
	if !bytes.Equal(one, two) {
		t.Fatalf("byte slices differ: %x != %x", one, two)
	}
}

// AssertNotNil calls t.Fatal if obj is nil.
func AssertNotNil(t *testing.T, obj interface{}, msg string) {
	t.Helper()
	if obj == nil {
		t.Fatal(msg)
	}
}

// AssertContains calls t.Fatal unless haystack contains needle.
func AssertContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("%q does not contain %q", haystack, needle)
	}
}
