// Package gossip makes this node's committed tip visible to peers and
// discovers/integrates blocks committed elsewhere, entirely by enqueueing
// BlockEvents through the same path a direct HTTP submitter uses —
// gossip never calls chainstore.Append itself.
package gossip

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"gopkg.in/fatih/set.v0"

	"github.com/coinjecture/node/chainstore"
	"github.com/coinjecture/node/common"
	"github.com/coinjecture/node/gossip/equilibrium"
	"github.com/coinjecture/node/ingestqueue"
	"github.com/coinjecture/node/log"
	"github.com/coinjecture/node/metrics"
)

const (
	requestTimeout   = 5 * time.Second
	cleanupInterval  = 60 * time.Second
	staleTTL         = 5 * time.Minute
	backoffBase      = 2 * time.Second
	backoffMax       = 5 * time.Minute
	listenIntervalSkew = 1.007
)

// Gossip owns the peer table and the three cooperative loops described by
// the broadcast/listen/cleanup contract.
type Gossip struct {
	chain       *chainstore.ChainStore
	queue       ingestqueue.Queue
	controller  *equilibrium.Controller
	fetchWindow int
	selfAddr    string
	httpClient  *http.Client

	mu    sync.Mutex
	peers *peerTable

	done   chan struct{}
	wg     sync.WaitGroup
	logger log.Logger
}

// New constructs a Gossip seeded with bootstrapPeers. selfAddr ("host:port")
// is recorded on the Gossip; announcements carry no origin field, and the
// NAT mapping target is the port passed to Start.
func New(chain *chainstore.ChainStore, queue ingestqueue.Queue, controller *equilibrium.Controller,
	bootstrapPeers []string, maxPeers, fetchWindow int, selfAddr string) *Gossip {

	g := &Gossip{
		chain:       chain,
		queue:       queue,
		controller:  controller,
		fetchWindow: fetchWindow,
		selfAddr:    selfAddr,
		httpClient:  &http.Client{Timeout: requestTimeout},
		peers:       newPeerTable(maxPeers),
		done:        make(chan struct{}),
		logger:      log.NewModuleLogger(log.Gossip),
	}

	now := time.Now()
	for _, addr := range bootstrapPeers {
		g.peers.upsert(addr, now)
	}
	return g
}

// Start launches the broadcast, listen, and cleanup loops plus a
// best-effort NAT port mapping attempt.
func (g *Gossip) Start(listenPort int) {
	go mapPort(listenPort, g.logger)

	g.wg.Add(3)
	go g.broadcastLoop()
	go g.listenLoop()
	go g.cleanupLoop()
}

func (g *Gossip) Stop() {
	close(g.done)
	g.wg.Wait()
}

// NotifyCommit lets the Consensus Engine push a fresh tip in immediately
// rather than waiting for the next broadcast tick; it just nudges the
// broadcast loop's next iteration by doing one out-of-band announcement
// pass right away.
func (g *Gossip) NotifyCommit(tip chainstore.Block) {
	for _, p := range g.Peers() {
		go g.announceTo(p.PeerAddress, tip)
	}
}

func (g *Gossip) Peers() []PeerTip {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peers.all()
}

func (g *Gossip) broadcastLoop() {
	defer g.wg.Done()
	for {
		interval := g.controller.Interval()
		select {
		case <-time.After(interval):
			g.broadcastOnce()
		case <-g.done:
			return
		}
	}
}

func (g *Gossip) broadcastOnce() {
	tip, err := g.chain.Tip()
	if err != nil {
		g.logger.Warn("broadcast: cannot read tip", "err", err)
		return
	}
	for _, p := range g.Peers() {
		go g.announceTo(p.PeerAddress, tip)
	}
}

func (g *Gossip) announceTo(addr string, tip chainstore.Block) {
	body, err := json.Marshal(tipAnnouncement{
		TipIndex:  tip.Index,
		TipHash:   tip.BlockHash.Hex(),
		Timestamp: float64(time.Now().Unix()),
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+addr+"/v1/gossip/announce", bytes.NewReader(body))
	if err != nil {
		g.markFailure(addr)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.markFailure(addr)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		g.markFailure(addr)
		return
	}

	g.markSuccess(addr)
	g.controller.RecordBroadcast()
	metrics.GossipSent.Inc(1)
}

func (g *Gossip) markFailure(addr string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.peers.get(addr); ok {
		p.recordFailure(time.Now(), backoffBase, backoffMax)
	}
	metrics.GossipFailed.Inc(1)
}

func (g *Gossip) markSuccess(addr string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.peers.get(addr); ok {
		p.recordSuccess(time.Now())
	}
}

func (g *Gossip) listenLoop() {
	defer g.wg.Done()
	for {
		interval := time.Duration(float64(g.controller.Interval()) * listenIntervalSkew)
		select {
		case <-time.After(interval):
			g.listenOnce()
		case <-g.done:
			return
		}
	}
}

func (g *Gossip) listenOnce() {
	localTip, err := g.chain.Tip()
	if err != nil {
		g.logger.Warn("listen: cannot read local tip", "err", err)
		return
	}

	integratedThisPass := set.New()

	for _, p := range g.healthyPeers() {
		peerTip, ok := g.pollPeer(p.PeerAddress)
		if !ok {
			continue
		}
		g.mu.Lock()
		if stored, exists := g.peers.get(p.PeerAddress); exists {
			stored.TipIndex = peerTip.TipIndex
			stored.TipHash = peerTip.TipHash
			stored.recordSuccess(time.Now())
		}
		g.mu.Unlock()

		if peerTip.TipIndex <= localTip.Index {
			continue
		}

		integrated := g.catchUpFrom(p.PeerAddress, localTip.Index, peerTip.TipIndex, integratedThisPass)
		if integrated > 0 {
			g.mu.Lock()
			if stored, exists := g.peers.get(p.PeerAddress); exists {
				stored.usefulBlocks += integrated
			}
			g.mu.Unlock()
			g.controller.RecordIntegration()
			metrics.GossipIntegrated.Inc(int64(integrated))
		}
	}
}

func (g *Gossip) healthyPeers() []PeerTip {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	var out []PeerTip
	for _, p := range g.peers.arena {
		if p.healthy(now) {
			out = append(out, p)
		}
	}
	return out
}

type polledTip struct {
	TipIndex uint64
	TipHash  common.Hash
}

func (g *Gossip) pollPeer(addr string) (polledTip, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/v1/data/block/latest", nil)
	if err != nil {
		g.markFailure(addr)
		return polledTip{}, false
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.markFailure(addr)
		return polledTip{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		g.markFailure(addr)
		return polledTip{}, false
	}

	var payload struct {
		Status string           `json:"status"`
		Data   chainstore.Block `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		g.markFailure(addr)
		return polledTip{}, false
	}
	return polledTip{TipIndex: payload.Data.Index, TipHash: payload.Data.BlockHash}, true
}

// catchUpFrom fetches blocks (from, to] from addr, capped by fetchWindow,
// converts each into a synthetic BlockEvent tagged ingestqueue.OriginGossip,
// and enqueues it. Consensus re-chains every one through the normal Append
// path — gossip never appends directly — but validates it without a
// signature check, since a peer's own committed block carries no miner
// signature for this node to verify.
func (g *Gossip) catchUpFrom(addr string, from, to uint64, integratedThisPass *set.Set) int {
	upper := to
	if upper-from > uint64(g.fetchWindow) {
		upper = from + uint64(g.fetchWindow)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s/v1/data/blocks/range?from=%d&to=%d", addr, from+1, upper)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		g.markFailure(addr)
		return 0
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.markFailure(addr)
		return 0
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		g.markFailure(addr)
		return 0
	}

	var payload blocksResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		g.markFailure(addr)
		return 0
	}

	integrated := 0
	for _, b := range payload.Data {
		if integratedThisPass.Has(b.BlockHash.Hex()) {
			continue
		}
		evt := ingestqueue.BlockEvent{
			EventID:      "gossip:" + b.BlockHash.Hex(),
			BlockIndex:   b.Index,
			BlockHash:    b.BlockHash.Hex(),
			CID:          b.OffchainCID,
			MinerAddress: b.MinerAddress,
			Capacity:     b.Capacity,
			WorkScore:    b.WorkScore,
			Timestamp:    b.Timestamp,
			Origin:       ingestqueue.OriginGossip,
		}
		outcome, err := g.queue.Enqueue(context.Background(), evt)
		if err != nil {
			g.logger.Warn("catch-up enqueue failed", "peer", addr, "block_hash", b.BlockHash.Hex(), "err", err)
			continue
		}
		if outcome == ingestqueue.Accepted {
			integratedThisPass.Add(b.BlockHash.Hex())
			integrated++
		}
	}
	return integrated
}

func (g *Gossip) cleanupLoop() {
	defer g.wg.Done()
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.mu.Lock()
			g.peers.evictStale(time.Now().Add(-staleTTL))
			g.mu.Unlock()
		case <-g.done:
			return
		}
	}
}
