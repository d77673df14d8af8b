// Package common holds the handful of process-wide identifiers (build
// version, machine id, session tag) describing the running process,
// independent of any one running Node.
package common

import (
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"time"

	"github.com/denisbrodbeck/machineid"
)

var identity *Identity

func init() {
	initIdentity()
}

// Identity describes the running process: which build, which machine, which
// invocation. Its String form is a single line suited to log output, so logs
// collected from many hosts can be told apart.
type Identity struct {
	Version   string    `json:"version"`
	Hostname  string    `json:"host"`
	MachineID string    `json:"machineid"`
	Goos      string    `json:"goos"`
	Goarch    string    `json:"goarch"`
	Goversion string    `json:"goversion"`
	Pid       int       `json:"pid"`
	SessionID string    `json:"session"`
	StartTime time.Time `json:"start"`
}

// String renders the identity as a single log-friendly line.
func (id *Identity) String() string {
	return fmt.Sprintf("version=%s go=%s goos=%s goarch=%s session=%s host=%s machine=%s pid=%d",
		id.Version, id.Goversion, id.Goos, id.Goarch, id.SessionID, id.Hostname, id.MachineID, id.Pid)
}

const sessionIDBytes = "0123456789abcdef"

func randomSessionID(rng *rand.Rand, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = sessionIDBytes[rng.Intn(len(sessionIDBytes))]
	}
	return string(b)
}

func initIdentity() {
	rng := rand.New(rand.NewSource(time.Now().UTC().UnixNano()))
	session := randomSessionID(rng, 8)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	mid, err := machineid.ID()
	if err == nil {
		mid, err = machineid.ProtectedID(mid)
	}
	if err != nil {
		mid = hostname
	}
	if len(mid) > 12 {
		mid = mid[:12]
	}

	identity = &Identity{
		Version:   "unknown",
		Hostname:  hostname,
		MachineID: mid,
		Goos:      runtime.GOOS,
		Goarch:    runtime.GOARCH,
		Goversion: runtime.Version(),
		Pid:       os.Getpid(),
		SessionID: session,
		StartTime: time.Now(),
	}
}

// SetClientVersion stamps the build version onto the process identity, set
// once at startup from a linker-injected main.Version.
func SetClientVersion(version string) {
	if identity != nil {
		identity.Version = version
	}
}

// GetIdentity returns the process-wide identity record.
func GetIdentity() *Identity {
	return identity
}
