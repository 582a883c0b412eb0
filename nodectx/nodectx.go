// Package nodectx wires the five subsystems — Chain Store, Ingest Queue,
// Consensus Engine, Gossip, HTTP Surface — into one process and owns the
// order they start and stop in.
package nodectx

import (
	"fmt"
	"net"
	"strconv"

	"github.com/coinjecture/node/chainstore"
	"github.com/coinjecture/node/config"
	"github.com/coinjecture/node/consensus"
	"github.com/coinjecture/node/gossip"
	"github.com/coinjecture/node/gossip/equilibrium"
	"github.com/coinjecture/node/httpapi"
	"github.com/coinjecture/node/ingestqueue"
	"github.com/coinjecture/node/log"
	"github.com/coinjecture/node/rewards"
)

const gossipListenPort = 30303

// NodeContext owns every long-lived subsystem for one node process and
// the order they come up and go down in. Nothing outside this package
// constructs these subsystems directly.
type NodeContext struct {
	cfg config.Config

	Chain      *chainstore.ChainStore
	Queue      ingestqueue.Queue
	Engine     *consensus.Engine
	Controller *equilibrium.Controller
	Gossip     *gossip.Gossip
	HTTP       *httpapi.Server

	logger log.Logger
}

// New builds every subsystem but starts none of them. anchor is the
// genesis block every node on the network must agree on bit-for-bit.
func New(cfg config.Config, anchor config.GenesisAnchor) (*NodeContext, error) {
	logger := log.NewModuleLogger(log.NodeContext)

	chain, err := chainstore.Open(cfg, anchor)
	if err != nil {
		return nil, fmt.Errorf("nodectx: opening chain store: %w", err)
	}

	queue, err := ingestqueue.Open(cfg)
	if err != nil {
		chain.Close()
		return nil, fmt.Errorf("nodectx: opening ingest queue: %w", err)
	}

	engine := consensus.New(chain, queue, cfg.ConsensusTick, cfg.FetchWindow)

	controller := equilibrium.New(cfg.BroadcastIntervalInit, cfg.BroadcastIntervalMin, cfg.BroadcastIntervalMax)

	selfAddr := fmt.Sprintf("%s:%d", hostFromListenAddr(cfg.ListenAddr), gossipListenPort)
	g := gossip.New(chain, queue, controller, cfg.BootstrapPeers, cfg.MaxPeers, cfg.FetchWindow, selfAddr)

	rewardsTracker, err := rewards.New(chain)
	if err != nil {
		chain.Close()
		return nil, fmt.Errorf("nodectx: constructing rewards tracker: %w", err)
	}

	httpServer := httpapi.New(chain, queue, g, rewardsTracker, cfg.ListenAddr, cfg.HTTPMaxConns)

	return &NodeContext{
		cfg:        cfg,
		Chain:      chain,
		Queue:      queue,
		Engine:     engine,
		Controller: controller,
		Gossip:     g,
		HTTP:       httpServer,
		logger:     logger,
	}, nil
}

// Start brings every subsystem up from the bottom of the dependency
// stack to the top: the Chain Store and Ingest Queue are already open
// by the time Start runs (New does that), so Start only has goroutines
// left to launch, and it launches them inner-to-outer — Consensus before
// Gossip before the HTTP Surface — so nothing is reachable from the
// network before the thing it depends on is already running.
func (nc *NodeContext) Start() error {
	if err := nc.Engine.CheckStartupConsistency(); err != nil {
		return fmt.Errorf("nodectx: startup consistency check failed: %w", err)
	}

	nc.Engine.Start()
	nc.Controller.Start()
	go nc.forwardCommits()

	// Peers reach this node's gossip endpoints through the HTTP surface, so
	// that is the port to map.
	mapPort := gossipListenPort
	if _, p, err := net.SplitHostPort(nc.cfg.ListenAddr); err == nil {
		if n, err := strconv.Atoi(p); err == nil {
			mapPort = n
		}
	}
	nc.Gossip.Start(mapPort)

	go func() {
		if err := nc.HTTP.ListenAndServe(); err != nil {
			nc.logger.Info("http surface stopped", "err", err)
		}
	}()

	nc.logger.Info("node started", "listen_addr", nc.cfg.ListenAddr)
	return nil
}

// forwardCommits relays every commit the Consensus Engine produces to
// Gossip, so the broadcast loop never has to poll the Chain Store to
// notice a new tip.
func (nc *NodeContext) forwardCommits() {
	for signal := range nc.Engine.Commits {
		nc.Gossip.NotifyCommit(signal.Tip)
	}
}

// Stop tears every subsystem down in the reverse of Start's order: HTTP
// Surface, then Gossip, then Consensus, then Chain Store and Ingest
// Queue last, since those two hold the only state that must survive the
// process.
func (nc *NodeContext) Stop() {
	nc.logger.Info("stopping node")

	if err := nc.HTTP.Shutdown(); err != nil {
		nc.logger.Warn("http shutdown error", "err", err)
	}
	nc.Gossip.Stop()
	nc.Controller.Stop()
	nc.Engine.Stop()

	if err := nc.Chain.Close(); err != nil {
		nc.logger.Warn("chain store close error", "err", err)
	}
	if err := nc.Queue.Close(); err != nil {
		nc.logger.Warn("ingest queue close error", "err", err)
	}
}

func hostFromListenAddr(addr string) string {
	for i := 0; i < len(addr); i++ {
		if addr[i] == ':' {
			if i == 0 {
				return "127.0.0.1"
			}
			return addr[:i]
		}
	}
	return addr
}
