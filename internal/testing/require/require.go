// Package require implements the small subset of testify/require used
// across this module's tests. We avoid the real dependency in non-benchmark
// tests so the only place testify is actually linked is the benchmark
// harness under internal/asmfix.
package require

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// TestingT is the subset of *testing.T these helpers need.
type TestingT interface {
	Helper()
	Fatalf(format string, args ...interface{})
}

// Equal fails the test if want != got, using reflect.DeepEqual for compound types.
func Equal(t TestingT, want, got interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	if !objectsAreEqual(want, got) {
		t.Fatalf("not equal: want %#v, got %#v%s", want, got, formatExtra(msgAndArgs))
	}
}

// NotEqual fails the test if want == got.
func NotEqual(t TestingT, want, got interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	if objectsAreEqual(want, got) {
		t.Fatalf("expected values to differ, both are %#v%s", want, formatExtra(msgAndArgs))
	}
}

// True fails the test if v is false.
func True(t TestingT, v bool, msgAndArgs ...interface{}) {
	t.Helper()
	if !v {
		t.Fatalf("expected true%s", formatExtra(msgAndArgs))
	}
}

// False fails the test if v is true.
func False(t TestingT, v bool, msgAndArgs ...interface{}) {
	t.Helper()
	if v {
		t.Fatalf("expected false%s", formatExtra(msgAndArgs))
	}
}

// Nil fails the test if v is not nil.
func Nil(t TestingT, v interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	if !isNil(v) {
		t.Fatalf("expected nil, got %#v%s", v, formatExtra(msgAndArgs))
	}
}

// NotNil fails the test if v is nil.
func NotNil(t TestingT, v interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	if isNil(v) {
		t.Fatalf("expected non-nil value%s", formatExtra(msgAndArgs))
	}
}

// NoError fails the test if err is non-nil.
func NoError(t TestingT, err error, msgAndArgs ...interface{}) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v%s", err, formatExtra(msgAndArgs))
	}
}

// Error fails the test if err is nil.
func Error(t TestingT, err error, msgAndArgs ...interface{}) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected an error%s", formatExtra(msgAndArgs))
	}
}

// ErrorIs fails the test unless errors.Is(err, target).
func ErrorIs(t TestingT, err, target error, msgAndArgs ...interface{}) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected error %v to wrap %v%s", err, target, formatExtra(msgAndArgs))
	}
}

// EqualError fails the test unless err.Error() == msg.
func EqualError(t TestingT, err error, msg string, msgAndArgs ...interface{}) {
	t.Helper()
	if err == nil || err.Error() != msg {
		t.Fatalf("expected error %q, got %v%s", msg, err, formatExtra(msgAndArgs))
	}
}

// Len fails the test unless v has the given length.
func Len(t TestingT, v interface{}, n int, msgAndArgs ...interface{}) {
	t.Helper()
	rv := reflect.ValueOf(v)
	if rv.Len() != n {
		t.Fatalf("expected length %d, got %d%s", n, rv.Len(), formatExtra(msgAndArgs))
	}
}

// Contains fails the test unless s contains sub (strings, or a slice containing sub).
func Contains(t TestingT, s, sub interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	switch sv := s.(type) {
	case string:
		subs, ok := sub.(string)
		if !ok || !strings.Contains(sv, subs) {
			t.Fatalf("expected %q to contain %v%s", sv, sub, formatExtra(msgAndArgs))
		}
	default:
		rv := reflect.ValueOf(s)
		for i := 0; i < rv.Len(); i++ {
			if objectsAreEqual(rv.Index(i).Interface(), sub) {
				return
			}
		}
		t.Fatalf("expected %#v to contain %#v%s", s, sub, formatExtra(msgAndArgs))
	}
}

func objectsAreEqual(want, got interface{}) bool {
	if want == nil || got == nil {
		return want == got
	}
	if wb, ok := want.([]byte); ok {
		gb, ok := got.([]byte)
		return ok && string(wb) == string(gb)
	}
	return reflect.DeepEqual(want, got)
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Ptr, reflect.Slice:
		return rv.IsNil()
	default:
		return false
	}
}

func formatExtra(msgAndArgs []interface{}) string {
	if len(msgAndArgs) == 0 {
		return ""
	}
	format, ok := msgAndArgs[0].(string)
	if !ok {
		return fmt.Sprintf(": %v", msgAndArgs)
	}
	return ": " + fmt.Sprintf(format, msgAndArgs[1:]...)
}
