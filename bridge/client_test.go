package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stationbridge/bridge/config"
	"github.com/stationbridge/bridge/discovery"
)

func TestEndpointResolverRejectsUnknownStation(t *testing.T) {
	cfg := config.Discovery{URL: "http://directory.invalid", Timeout: time.Second, CheckInterval: time.Minute}
	d := discovery.NewClient(cfg, "station-a", []byte("k"), discovery.Callbacks{})
	r := endpointResolver{d: d}

	_, _, err := r.ResolveEndpoint("station-b")
	require.Error(t, err)
}
