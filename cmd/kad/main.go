// Copyright 2015 The go-ethereum Authors
// This file is part of go-ethereum.
//
// go-ethereum is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-ethereum is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-ethereum. If not, see <http://www.gnu.org/licenses/>.

// kad runs a standalone Kademlia DHT node with an interactive shell for
// probing and inspecting its routing table.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/peterh/liner"
	"gopkg.in/urfave/cli.v1"

	"github.com/kadcore/dht/common"
	"github.com/kadcore/dht/id"
	"github.com/kadcore/dht/kadnode"
	"github.com/kadcore/dht/logger/glog"
	"github.com/kadcore/dht/wire"
)

// Version is the application revision identifier. It can be set with the
// linker as in: go build -ldflags "-X main.Version="`git describe --tags`
var Version = "unknown"

func main() {
	common.SetClientVersion(Version)

	app := cli.NewApp()
	app.Name = "kad"
	app.Usage = "run a Kademlia DHT node"
	app.Version = Version
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "addr", Value: "0.0.0.0:30301", Usage: "UDP listen address"},
		cli.StringFlag{Name: "id", Value: "", Usage: "local node id (hex); random if omitted"},
		cli.StringFlag{Name: "bootstrap", Value: "", Usage: "comma-separated id@host:port seed peers"},
		cli.StringFlag{Name: "db", Value: "", Usage: "path to a peer database file; persists liveness across restarts"},
		cli.IntFlag{Name: "verbosity", Value: 3, Usage: "log verbosity (0-9)"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	glog.SetToStderr(true)
	glog.SetV(ctx.Int("verbosity"))

	local := id.ID{}
	if hex := ctx.String("id"); hex != "" {
		local = id.MustHex(hex)
	}

	cfg := kadnode.DefaultConfig()
	cfg.NodeDBPath = ctx.String("db")

	n, err := kadnode.Listen(ctx.String("addr"), local, cfg)
	if err != nil {
		return fmt.Errorf("kad: %w", err)
	}
	defer n.Close()

	fmt.Fprintf(color.Output, "%s listening on %s, id %s\n",
		color.GreenString("kad"), n.Addr(), color.YellowString(n.Local().Hex()))

	if seeds := ctx.String("bootstrap"); seeds != "" {
		peers, err := parsePeerList(seeds)
		if err != nil {
			return err
		}
		if err := n.Bootstrap(peers); err != nil {
			fmt.Fprintln(color.Output, color.RedString("bootstrap failed: %v", err))
		} else {
			fmt.Fprintf(color.Output, "bootstrap complete, table has %d peers\n", n.Table().Len())
		}
	}

	return repl(n)
}

func repl(n *kadnode.Node) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt("kad> ")
		if err == liner.ErrPromptAborted || err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)
		if err := dispatch(n, input); err != nil {
			fmt.Fprintln(color.Output, color.RedString(err.Error()))
		}
	}
}

func dispatch(n *kadnode.Node, input string) error {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "id":
		fmt.Fprintln(color.Output, n.Local().Hex())
	case "table":
		printTable(n)
	case "ping":
		if len(args) != 1 {
			return fmt.Errorf("usage: ping <id>@<host:port>")
		}
		peer, err := parsePeer(args[0])
		if err != nil {
			return err
		}
		if err := n.Ping(peer); err != nil {
			return err
		}
		fmt.Fprintln(color.Output, color.GreenString("pong"))
	case "findnode":
		if len(args) != 2 {
			return fmt.Errorf("usage: findnode <id>@<host:port> <target-hex>")
		}
		peer, err := parsePeer(args[0])
		if err != nil {
			return err
		}
		target := id.MustHex(args[1])
		peers, err := n.FindNode(peer, target)
		if err != nil {
			return err
		}
		printPeers(peers)
	case "lookup":
		if len(args) != 1 {
			return fmt.Errorf("usage: lookup <target-hex>")
		}
		target := id.MustHex(args[0])
		peers, err := n.NodeLookup(target)
		if err != nil {
			return err
		}
		printPeers(peers)
	case "help":
		fmt.Fprintln(color.Output, "commands: id, table, ping <id>@<addr>, findnode <id>@<addr> <target>, lookup <target>, quit")
	case "quit", "exit":
		os.Exit(0)
	default:
		return fmt.Errorf("unknown command %q (try 'help')", cmd)
	}
	return nil
}

func printTable(n *kadnode.Node) {
	fmt.Fprintf(color.Output, "%d peers known\n", n.Table().Len())
}

func printPeers(peers []wire.Peer) {
	for _, p := range peers {
		fmt.Fprintf(color.Output, "  %s @ %s\n", p.ID.Hex(), p.Endpoint)
	}
}

// parsePeer parses "<hex-id>@<host>:<port>".
func parsePeer(s string) (wire.Peer, error) {
	at := strings.LastIndex(s, "@")
	if at < 0 {
		return wire.Peer{}, fmt.Errorf("peer %q must be formatted id@host:port", s)
	}
	pid := id.MustHex(s[:at])
	host, portStr, err := splitHostPort(s[at+1:])
	if err != nil {
		return wire.Peer{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return wire.Peer{}, fmt.Errorf("invalid port in %q: %w", s, err)
	}
	ip, err := resolveIP(host)
	if err != nil {
		return wire.Peer{}, err
	}
	ep, err := wire.NewEndpoint(ip, uint16(port))
	if err != nil {
		return wire.Peer{}, err
	}
	return wire.Peer{ID: pid, Endpoint: ep}, nil
}

func parsePeerList(s string) ([]wire.Peer, error) {
	var peers []wire.Peer
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		p, err := parsePeer(part)
		if err != nil {
			return nil, err
		}
		peers = append(peers, p)
	}
	return peers, nil
}
