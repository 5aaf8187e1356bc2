package discovery

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/stationbridge/bridge/bridgeerr"
	"github.com/stationbridge/bridge/config"
	bcrypto "github.com/stationbridge/bridge/crypto"
	"github.com/stationbridge/bridge/log"
)

var logger = log.NewModuleLogger(log.Discovery)

// Callbacks are the typed, closed-set subscription points of spec.md §9
// ("Dynamic event emitters → typed, closed-set subscription API").
type Callbacks struct {
	OnPeerDiscovered func(Peer)
	OnPeerLost       func(stationID string)
}

// Client is the directory client of spec.md §4.C.
type Client struct {
	cfg          config.Discovery
	stationID    string
	userAgent    string
	discoveryKey []byte
	http         *fasthttp.Client
	callbacks    Callbacks

	mu         sync.Mutex
	knownPeers map[string]Peer

	heartbeatTicker *time.Ticker
	pollTicker      *time.Ticker
	stopCh          chan struct{}
	wg             sync.WaitGroup

	envelope  []byte
	publicKey string
}

// NewClient constructs a directory client bound to a single immutable
// Discovery config snapshot.
func NewClient(cfg config.Discovery, stationID string, discoveryKey []byte, callbacks Callbacks) *Client {
	return &Client{
		cfg:          cfg,
		stationID:    stationID,
		userAgent:    "station-bridge/" + stationID,
		discoveryKey: discoveryKey,
		http:         &fasthttp.Client{},
		callbacks:    callbacks,
		knownPeers:   make(map[string]Peer),
		stopCh:       make(chan struct{}),
	}
}

// Register publishes the station's encrypted contact envelope and public
// key to the directory (spec.md §4.C responsibility 1).
func (c *Client) Register(envelope []byte, publicKey string) error {
	c.envelope = envelope
	c.publicKey = publicKey

	body, err := json.Marshal(directoryPeerEntry{
		StationID:            c.stationID,
		EncryptedContactInfo: encodeEnvelope(envelope),
		PublicKey:            publicKey,
	})
	if err != nil {
		return bridgeerr.Validation("marshal register body", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.cfg.URL)
	req.Header.SetMethod("POST")
	req.Header.SetContentType("application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Station-Id", c.stationID)
	req.SetBody(body)

	if err := c.http.DoTimeout(req, resp, c.cfg.Timeout); err != nil {
		return bridgeerr.Network(bridgeerr.ReasonTimeout, "register with directory", err)
	}
	return decodeEnvelope(resp, nil)
}

// Heartbeat re-registers as a liveness signal (spec.md §4.C responsibility 2).
func (c *Client) Heartbeat() error {
	return c.Register(c.envelope, c.publicKey)
}

// Unregister removes the station from the directory on shutdown
// (spec.md §4.C responsibility 5).
func (c *Client) Unregister() error {
	url := fmt.Sprintf("%s?station_id=%s", c.cfg.URL, c.stationID)

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod("DELETE")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Station-Id", c.stationID)

	if err := c.http.DoTimeout(req, resp, c.cfg.Timeout); err != nil {
		return bridgeerr.Network(bridgeerr.ReasonTimeout, "unregister from directory", err)
	}
	return decodeEnvelope(resp, nil)
}

// Poll fetches the active-station list and diffs it against the known-peer
// map, emitting peerDiscovered/peerLost, per spec.md §4.C diff policy.
func (c *Client) Poll() error {
	url := fmt.Sprintf("%s?peers=true", c.cfg.URL)

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod("GET")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Station-Id", c.stationID)

	if err := c.http.DoTimeout(req, resp, c.cfg.Timeout); err != nil {
		return bridgeerr.Network(bridgeerr.ReasonTimeout, "poll directory for peers", err)
	}

	var data peersData
	if err := decodeEnvelope(resp, &data); err != nil {
		return err
	}

	current := make(map[string]Peer, len(data.Peers))
	for _, entry := range data.Peers {
		if entry.StationID == c.stationID {
			continue
		}
		raw, err := decodeEnvelopeField(entry.EncryptedContactInfo)
		if err != nil {
			logger.Warn("skipping peer with undecodable envelope", "stationId", entry.StationID, "err", err)
			continue
		}
		info, err := bcrypto.OpenContactEnvelope(raw, c.discoveryKey)
		if err != nil {
			logger.Warn("skipping peer with undecryptable envelope", "stationId", entry.StationID, "err", err)
			continue
		}
		current[entry.StationID] = Peer{
			StationID:         entry.StationID,
			EncryptedEnvelope: raw,
			PublicKey:         entry.PublicKey,
			IP:                info.IP,
			Port:              info.Port,
			LastSeen:          time.Unix(info.LastSeen/1000, 0),
		}
	}

	c.diff(current)
	return nil
}

// diff implements spec.md §4.C's peer-list diff policy and §8 invariant 6.
func (c *Client) diff(current map[string]Peer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, peer := range current {
		_, existed := c.knownPeers[id]
		c.knownPeers[id] = peer
		if !existed && c.callbacks.OnPeerDiscovered != nil {
			c.callbacks.OnPeerDiscovered(peer)
		}
	}
	for id := range c.knownPeers {
		if _, stillPresent := current[id]; !stillPresent {
			delete(c.knownPeers, id)
			if c.callbacks.OnPeerLost != nil {
				c.callbacks.OnPeerLost(id)
			}
		}
	}
}

// KnownPeer returns the last-seen envelope info for a station, if known.
func (c *Client) KnownPeer(stationID string) (Peer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.knownPeers[stationID]
	return p, ok
}

// KnownPeers returns a snapshot of all currently known peers.
func (c *Client) KnownPeers() []Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Peer, 0, len(c.knownPeers))
	for _, p := range c.knownPeers {
		out = append(out, p)
	}
	return out
}

// Start arms the heartbeat and poll timers on independent logical timers
// (spec.md §5 "Timer boundaries").
func (c *Client) Start() {
	c.heartbeatTicker = time.NewTicker(c.cfg.CheckInterval)
	c.pollTicker = time.NewTicker(c.cfg.CheckInterval)

	c.wg.Add(2)
	go c.runTicker(c.heartbeatTicker, c.stopCh, func() {
		if err := c.Heartbeat(); err != nil {
			logger.Warn("heartbeat failed, will retry next tick", "err", err)
		}
	})
	go c.runTicker(c.pollTicker, c.stopCh, func() {
		if err := c.Poll(); err != nil {
			logger.Warn("poll failed, will retry next tick", "err", err)
		}
	})
}

// runTicker fires fn on each tick, ensuring invocations never overlap with
// themselves (spec.md §5 "Timer boundaries").
func (c *Client) runTicker(ticker *time.Ticker, stop <-chan struct{}, fn func()) {
	defer c.wg.Done()
	for {
		select {
		case <-ticker.C:
			fn()
		case <-stop:
			return
		}
	}
}

// Stop is idempotent (spec.md §5 "Shutdown is safe to invoke more than
// once"): it stops the timers and waits for in-flight ticks to finish.
func (c *Client) Stop() {
	select {
	case <-c.stopCh:
		return
	default:
		close(c.stopCh)
	}
	if c.heartbeatTicker != nil {
		c.heartbeatTicker.Stop()
	}
	if c.pollTicker != nil {
		c.pollTicker.Stop()
	}
	c.wg.Wait()
}

func encodeEnvelope(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

func decodeEnvelopeField(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

func decodeEnvelope(resp *fasthttp.Response, data interface{}) error {
	var env apiEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return bridgeerr.Network(bridgeerr.ReasonNone, "decode directory response", err)
	}
	if !env.Success {
		return bridgeerr.Network(bridgeerr.ReasonNone, "directory reported failure: "+env.Error, nil)
	}
	if data != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, data); err != nil {
			return bridgeerr.Network(bridgeerr.ReasonNone, "decode directory response data", err)
		}
	}
	return nil
}
