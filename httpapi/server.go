// Package httpapi is the thin dispatcher described by the HTTP surface:
// POST /v1/ingest/block runs shape/hex checks and enqueues; every read
// endpoint serves straight from the Chain Store, never from the queue.
package httpapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"golang.org/x/net/netutil"

	"github.com/coinjecture/node/chainstore"
	"github.com/coinjecture/node/eventvalidator"
	"github.com/coinjecture/node/gossip"
	"github.com/coinjecture/node/ingestqueue"
	"github.com/coinjecture/node/log"
	"github.com/coinjecture/node/rewards"
)

const shutdownGrace = 5 * time.Second

// Server is the node's thin HTTP dispatcher.
type Server struct {
	chain     *chainstore.ChainStore
	queue     ingestqueue.Queue
	validator eventvalidator.Validator
	gossip    *gossip.Gossip
	rewards   *rewards.Tracker

	addr       string
	maxConns   int
	httpServer *http.Server
	logger     log.Logger
}

// New wires the router and every HTTP surface endpoint.
func New(chain *chainstore.ChainStore, queue ingestqueue.Queue, g *gossip.Gossip, rewardsTracker *rewards.Tracker, addr string, maxConns int) *Server {
	s := &Server{
		chain:     chain,
		queue:     queue,
		validator: eventvalidator.New(),
		gossip:    g,
		rewards:   rewardsTracker,
		addr:      addr,
		maxConns:  maxConns,
		logger:    log.NewModuleLogger(log.HTTPAPI),
	}

	router := httprouter.New()
	router.POST("/v1/ingest/block", s.handleIngest)
	router.GET("/v1/data/block/latest", s.handleLatestBlock)
	router.GET("/v1/data/block/:index", s.handleBlockByIndex)
	router.GET("/v1/data/blocks/all", s.handleBlocksAll)
	router.GET("/v1/data/blocks/range", s.handleBlocksRange)
	router.GET("/v1/peers", s.handlePeers)
	router.GET("/v1/rewards/:address", s.handleRewards)
	router.GET("/health", s.handleHealth)
	router.POST("/v1/gossip/announce", s.handleGossipAnnounce)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}).Handler(router)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	return s
}

// ListenAndServe blocks until the listener is closed by Shutdown. Inbound
// connections are bounded by maxConns via netutil.LimitListener.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	limited := netutil.LimitListener(ln, s.maxConns)
	s.logger.Info("http surface listening", "addr", s.addr, "max_conns", s.maxConns)
	return s.httpServer.Serve(limited)
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
