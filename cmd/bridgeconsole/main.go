// Command bridgeconsole runs a station's bridge stack with an interactive
// liner-backed prompt standing in for the local mesh radio (spec.md §6
// LOCAL_TESTING mode), so an operator can exercise relay dispatch and the
// node registry without attached hardware.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"
	"gopkg.in/urfave/cli.v1"

	"github.com/stationbridge/bridge/config"
	"github.com/stationbridge/bridge/internal/wiring"
	"github.com/stationbridge/bridge/log"
	"github.com/stationbridge/bridge/relay"
)

var logger = log.NewModuleLogger(log.CMDBridge)

const consoleNodeID int64 = 1
const consoleNodeName = "console"
const historyFile = ".bridgeconsole_history"

var (
	stationIDFlag     = cli.StringFlag{Name: "station-id"}
	networkSecretFlag = cli.StringFlag{Name: "network-secret", EnvVar: "NETWORK_SECRET"}
	networkNameFlag   = cli.StringFlag{Name: "network-name", Value: "station-bridge"}
)

func main() {
	app := cli.NewApp()
	app.Name = "bridgeconsole"
	app.Usage = "interactive local-radio stand-in for a station bridge"
	app.Flags = []cli.Flag{stationIDFlag, networkSecretFlag, networkNameFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	cfg := config.FromEnv()
	cfg.LocalTesting = true
	if v := ctx.String(stationIDFlag.Name); v != "" {
		cfg.StationID = v
	}
	if cfg.StationID == "" {
		return cli.NewExitError("station-id is required (flag or STATION_ID env var)", 1)
	}
	secret := ctx.String(networkSecretFlag.Name)
	if secret == "" {
		return cli.NewExitError("network-secret is required (flag or NETWORK_SECRET env var)", 1)
	}

	stack, err := wiring.Bootstrap(cfg, secret, ctx.String(networkNameFlag.Name))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer stack.Close()

	radio := &consoleRadio{}
	dispatcher := relay.New(cfg.StationID, radio, stack.Registry, stack.Bridge, consoleStations{stack})

	runPrompt(dispatcher)
	return nil
}

// consoleRadio is the single-node stand-in LocalRadio: the operator typing
// at the prompt IS the only node on this virtual mesh.
type consoleRadio struct{}

func (r *consoleRadio) Nodes() []relay.LocalNode {
	return []relay.LocalNode{{ID: consoleNodeID, LongName: consoleNodeName, ShortName: "con"}}
}

func (r *consoleRadio) SendConfirmation(nodeID int64, text string) error {
	fmt.Println(text)
	return nil
}

// SendToNode delivers a relayed message to a node on this virtual mesh.
// The console only ever has the one node, so this is reached solely by a
// local-radio self-relay (e.g. "@con hi") — still printed, since the
// operator typing at the prompt is also the delivery target.
func (r *consoleRadio) SendToNode(nodeID int64, text string) error {
	fmt.Println(text)
	return nil
}

// consoleStations adapts a wiring.Stack's discovery client to relay's
// StationLister.
type consoleStations struct {
	stack *wiring.Stack
}

func (c consoleStations) KnownStationIDs() []string {
	peers := c.stack.Discovery.KnownPeers()
	ids := make([]string, 0, len(peers))
	for _, p := range peers {
		ids = append(ids, p.StationID)
	}
	return ids
}

func runPrompt(dispatcher *relay.Dispatcher) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	if f, err := os.Open(historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		_ = f.Close()
	}

	fmt.Println("bridgeconsole: type a packet (\"@target text\", \"nodes\", \"status\", \"help\"), Ctrl-D to quit")
	for {
		text, err := line.Prompt("> ")
		if err == io.EOF || err == liner.ErrPromptAborted {
			break
		}
		if err != nil {
			logger.Warn("prompt read failed", "err", err)
			break
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		line.AppendHistory(text)

		if err := dispatcher.HandleLocalPacket(context.Background(), consoleNodeID, consoleNodeName, text); err != nil {
			fmt.Println("error: " + err.Error())
		}
	}

	if f, err := os.Create(historyFile); err == nil {
		_, _ = line.WriteHistory(f)
		_ = f.Close()
	}
}
