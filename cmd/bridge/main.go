// Command bridge runs one station's bridge process: directory registration,
// peer connection management, and node registry sync (spec.md §4,
// components A-G), wired together the way cmd/kcn wires a consensus node's
// subsystems.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/urfave/cli.v1"

	"github.com/stationbridge/bridge/config"
	"github.com/stationbridge/bridge/internal/wiring"
	"github.com/stationbridge/bridge/log"
	"github.com/stationbridge/bridge/metrics"
	"github.com/stationbridge/bridge/registry"
	"github.com/stationbridge/bridge/status"
)

var logger = log.NewModuleLogger(log.CMDBridge)

var (
	stationIDFlag = cli.StringFlag{
		Name:  "station-id",
		Usage: "this station's globally unique identifier",
	}
	networkSecretFlag = cli.StringFlag{
		Name:   "network-secret",
		Usage:  "shared secret used to derive the directory discovery key",
		EnvVar: "NETWORK_SECRET",
	}
	networkNameFlag = cli.StringFlag{
		Name:  "network-name",
		Usage: "human-readable network name salted into the discovery key",
		Value: "station-bridge",
	}
	statusAddrFlag = cli.StringFlag{
		Name:  "status-addr",
		Usage: "address the read-only status HTTP server listens on",
		Value: "127.0.0.1:8448",
	}
	metricsAddrFlag = cli.StringFlag{
		Name:  "metrics-addr",
		Usage: "address the Prometheus exporter listens on",
		Value: "127.0.0.1:9447",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "bridge"
	app.Usage = "federate a mesh-radio island over the Internet"
	app.Flags = []cli.Flag{stationIDFlag, networkSecretFlag, networkNameFlag, statusAddrFlag, metricsAddrFlag}
	app.Action = run
	app.Commands = []cli.Command{statusCommand}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	cfg := config.FromEnv()
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

	statusSrv := status.New(cfg.StationID, ctx.String(statusAddrFlag.Name), stackStatusSource{stack})
	statusSrv.Start()
	defer statusSrv.Stop()

	metricsStop := make(chan struct{})
	if err := metrics.StartPrometheusExporter(ctx.String(metricsAddrFlag.Name), 3*time.Second, metricsStop); err != nil {
		logger.Warn("metrics exporter failed to start", "err", err)
	}
	defer close(metricsStop)

	logger.Info("bridge started", "stationId", cfg.StationID, "listenPort", cfg.P2P.ListenPort)
	waitForShutdown()
	logger.Info("bridge shutting down")
	return nil
}

func waitForShutdown() {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)
	<-sigc
}

// stackStatusSource adapts a wiring.Stack to status.Source.
type stackStatusSource struct {
	stack *wiring.Stack
}

func (s stackStatusSource) Connections() []status.ConnectionRef {
	refs := s.stack.Connections()
	out := make([]status.ConnectionRef, 0, len(refs))
	for _, r := range refs {
		out = append(out, status.ConnectionRef{PeerID: r.PeerID, Status: r.Status, ConnType: r.ConnType, LastActivity: r.LastActivity})
	}
	return out
}

func (s stackStatusSource) KnownPeers() []status.PeerView {
	peers := s.stack.Discovery.KnownPeers()
	out := make([]status.PeerView, 0, len(peers))
	for _, p := range peers {
		out = append(out, status.PeerView{StationID: p.StationID, IP: p.IP, Port: p.Port, LastSeen: p.LastSeen})
	}
	return out
}

func (s stackStatusSource) NodesByStation(stationID string) ([]registry.Node, error) {
	return s.stack.Registry.GetNodesByStation(stationID)
}

func (s stackStatusSource) RegistryVersion() int64 {
	return s.stack.Registry.RegistryVersion()
}
