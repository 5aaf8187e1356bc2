package discovery

import (
	"fmt"

	"github.com/valyala/fasthttp"

	"github.com/stationbridge/bridge/bridgeerr"
)

// Health queries the directory's health endpoint (spec.md §6).
func (c *Client) Health() (status string, activeStations int, err error) {
	url := fmt.Sprintf("%s?health=true", c.cfg.URL)

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod("GET")
	req.Header.Set("User-Agent", c.userAgent)

	if err := c.http.DoTimeout(req, resp, c.cfg.Timeout); err != nil {
		return "", 0, bridgeerr.Network(bridgeerr.ReasonTimeout, "query directory health", err)
	}

	var data healthData
	if err := decodeEnvelope(resp, &data); err != nil {
		return "", 0, err
	}
	return data.Status, data.ActiveStations, nil
}
