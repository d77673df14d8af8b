package common

import "testing"

func TestIdentityIsNotNilOnInit(t *testing.T) {
	if v := GetIdentity(); v == nil {
		t.Fatal("GetIdentity() returned nil")
	} else {
		t.Log(v)
	}
}

func TestIdentitySessionIDIsExpectedLength(t *testing.T) {
	if v := GetIdentity().SessionID; v == "" || len(v) != 8 {
		t.Errorf("SessionID = %q, want an 8-character random string", v)
	}
}

func TestSetClientVersion(t *testing.T) {
	SetClientVersion("v9.9.9")
	if v := GetIdentity().Version; v != "v9.9.9" {
		t.Errorf("Version = %q, want %q", v, "v9.9.9")
	}
}
