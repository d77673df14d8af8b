package glog

import (
	"os"
	"testing"
)

func TestFatalCallsExitFunc(t *testing.T) {
	orig := logging.exitFunc
	defer func() { logging.exitFunc = orig }()

	var code int
	logging.exitFunc = func(c int) { code = c }

	Fatal("boom")
	if code != 255 {
		t.Errorf("exit code = %d, want 255", code)
	}
}

func TestSetVGatesVerbose(t *testing.T) {
	defer SetV(0)

	SetV(0)
	if bool(V(1)) {
		t.Error("V(1) true at verbosity 0")
	}
	SetV(1)
	if !bool(V(1)) {
		t.Error("V(1) false at verbosity 1")
	}
	if !bool(V(0)) {
		t.Error("V(0) should always be true at any non-negative verbosity")
	}
}

func TestSetToStderrSuppressesOutput(t *testing.T) {
	defer SetToStderr(true)

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	old := os.Stderr
	os.Stderr = w
	defer func() { os.Stderr = old }()

	SetToStderr(false)
	Infof("should not appear")
	w.Close()
	os.Stderr = old

	buf := make([]byte, 64)
	n, _ := r.Read(buf)
	if n != 0 {
		t.Errorf("expected no output while disabled, got %q", string(buf[:n]))
	}
}
