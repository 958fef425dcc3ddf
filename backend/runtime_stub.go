//go:build !onnx

package backend

import "errors"

// ErrRuntimeUnavailable is returned by NewNativeRuntime in this build,
// since no ONNX Runtime shared library is linked into it.
var ErrRuntimeUnavailable = errors.New("backend: runtime not compiled in (build without -tags onnx)")

// NativeAvailable reports whether the ONNX Runtime binding is compiled in.
func NativeAvailable() bool { return false }

// NewNativeRuntime returns an error in builds without the "onnx" tag. No
// substitute runtime exists: kestrel-server's buildApp returns this error
// and the server does not start.
func NewNativeRuntime() (Runtime, error) {
	return nil, ErrRuntimeUnavailable
}
