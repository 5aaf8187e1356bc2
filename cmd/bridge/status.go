package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fatih/color"
	colorable "github.com/mattn/go-colorable"
	"github.com/valyala/fasthttp"
	"gopkg.in/urfave/cli.v1"
)

// statusCommand queries a running bridge process's read-only status
// endpoint and prints a colourised summary, the way an operator checks on
// a station without attaching to its logs.
var statusCommand = cli.Command{
	Name:  "status",
	Usage: "query a running station's status HTTP endpoint",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "status-addr",
			Usage: "address of the target station's status server",
			Value: "127.0.0.1:8448",
		},
	},
	Action: runStatus,
}

type connectionView struct {
	PeerID       string    `json:"peerId"`
	Status       string    `json:"status"`
	ConnType     string    `json:"connType"`
	LastActivity time.Time `json:"lastActivity"`
}

type peerView struct {
	StationID string    `json:"stationId"`
	IP        string    `json:"ip"`
	Port      int       `json:"port"`
	LastSeen  time.Time `json:"lastSeen"`
}

func runStatus(ctx *cli.Context) error {
	addr := ctx.String("status-addr")
	out := colorable.NewColorableStdout()

	var conns []connectionView
	if err := fetchJSON(addr, "/status/connections", &conns); err != nil {
		return cli.NewExitError("fetch connections: "+err.Error(), 1)
	}
	var peers []peerView
	if err := fetchJSON(addr, "/status/peers", &peers); err != nil {
		return cli.NewExitError("fetch peers: "+err.Error(), 1)
	}

	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Fprintf(out, "%s (%d)\n", color.New(color.Bold).Sprint("connections"), len(conns))
	for _, c := range conns {
		label := yellow(c.Status)
		if c.Status == "CONNECTED" || c.Status == "AUTHENTICATED" {
			label = green(c.Status)
		} else if c.Status == "ERROR" {
			label = red(c.Status)
		}
		fmt.Fprintf(out, "  %-20s %-10s %s\n", c.PeerID, c.ConnType, label)
	}

	fmt.Fprintf(out, "%s (%d)\n", color.New(color.Bold).Sprint("known peers"), len(peers))
	for _, p := range peers {
		fmt.Fprintf(out, "  %-20s %s:%d\n", p.StationID, p.IP, p.Port)
	}
	return nil
}

func fetchJSON(addr, path string, into interface{}) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI("http://" + addr + path)
	req.Header.SetMethod("GET")

	if err := fasthttp.DoTimeout(req, resp, 5*time.Second); err != nil {
		return err
	}
	return json.Unmarshal(resp.Body(), into)
}
