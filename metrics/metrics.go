// Copyright 2015 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package metrics centralizes the registration and periodic snapshotting
// of the node's observability counters (spec §7): RPCs sent per kind,
// timeouts, decode failures, and the correlation/IP-diversity rejections
// that signal a hostile or misbehaving peer population.
package metrics

import (
	"bufio"
	"encoding/json"
	"os"
	"runtime"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/kadcore/dht/logger/glog"
)

// Registry is the destination every package in this module registers its
// counters against.
var Registry = metrics.NewRegistry()

var (
	PingsSent    = metrics.NewRegisteredCounter("kad/ping/sent", Registry)
	PingsOK      = metrics.NewRegisteredCounter("kad/ping/ok", Registry)
	FindNodeSent = metrics.NewRegisteredCounter("kad/findnode/sent", Registry)
	FindNodeOK   = metrics.NewRegisteredCounter("kad/findnode/ok", Registry)

	RequestTimeouts = metrics.NewRegisteredCounter("kad/request/timeout", Registry)
	SendFailures    = metrics.NewRegisteredCounter("kad/request/send-failure", Registry)

	DecodeFailures     = metrics.NewRegisteredCounter("kad/wire/decode-failure", Registry)
	UnknownCorrelation = metrics.NewRegisteredCounter("kad/wire/unknown-correlation", Registry)
	IPLimitRejections  = metrics.NewRegisteredCounter("kad/table/ip-limit-rejection", Registry)

	LookupRounds = metrics.NewRegisteredMeter("kad/lookup/rounds", Registry)
)

var (
	MemAllocs = metrics.GetOrRegisterGauge("memory/allocs", Registry)
	MemFrees  = metrics.GetOrRegisterGauge("memory/frees", Registry)
	MemInuse  = metrics.GetOrRegisterGauge("memory/inuse", Registry)
	MemPauses = metrics.GetOrRegisterGauge("memory/pauses", Registry)
)

// Collect periodically snapshots runtime memory stats and appends a JSON
// line with the full registry to file. It blocks; callers run it in its
// own goroutine.
func Collect(file string) {
	f, err := os.OpenFile(file, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0666)
	if err != nil {
		glog.Fatal(err)
	}
	defer f.Close()

	encoder := json.NewEncoder(bufio.NewWriter(f))

	for range time.Tick(3 * time.Second) {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		MemAllocs.Update(int64(mem.Mallocs))
		MemFrees.Update(int64(mem.Frees))
		MemInuse.Update(int64(mem.Alloc))
		MemPauses.Update(int64(mem.PauseTotalNs))

		if err := encoder.Encode(Registry); err != nil {
			glog.Errorf("metrics: log to %q: %s", file, err)
		}
	}
}
