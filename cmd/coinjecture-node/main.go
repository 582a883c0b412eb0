// Package main is the coinjecture-node entry point: it loads the
// operational configuration, wires the node's subsystems through
// nodectx, and runs until interrupted.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cli "gopkg.in/urfave/cli.v1"

	"github.com/coinjecture/node/common"
	"github.com/coinjecture/node/config"
	"github.com/coinjecture/node/log"
	"github.com/coinjecture/node/nodectx"
)

var logger = log.NewModuleLogger(log.NodeContext)

var app = cli.NewApp()

func init() {
	app.Name = "coinjecture-node"
	app.Usage = "computational-work blockchain node"
	app.Action = run
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(_ *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	anchorHash, err := common.HexToHash(cfg.GenesisHash)
	if err != nil {
		return fmt.Errorf("GENESIS_HASH: %w", err)
	}
	anchor := config.GenesisAnchor{
		Hash:         anchorHash,
		ZeroPrevHash: common.Hash{},
	}

	nc, err := nodectx.New(cfg, anchor)
	if err != nil {
		return err
	}

	if err := nc.Start(); err != nil {
		return err
	}

	waitForShutdown(nc)
	return nil
}

// waitForShutdown blocks until SIGINT or SIGTERM, then stops every
// subsystem in order. A second signal while shutdown is already in
// progress forces an immediate exit, an escape hatch for operators if
// a subsystem is taking too long to come down.
func waitForShutdown(nc *nodectx.NodeContext) {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)

	<-sigc
	logger.Info("got interrupt, shutting down")
	stopped := make(chan struct{})
	go func() {
		nc.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-sigc:
		logger.Warn("got second interrupt, exiting immediately")
		os.Exit(1)
	}
}
