// Package ingest maintains a live newHeads subscription over a raw JSON-RPC
// websocket, fetches each announced block, and feeds target-wallet
// transactions into the engine.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/RenZ1z/copytrade-base/internal/domain"
	"github.com/RenZ1z/copytrade-base/internal/logger"
)

const (
	defaultReconnectDelay = 3 * time.Second
	defaultPingInterval   = 30 * time.Second
	pongWait              = 90 * time.Second
	writeWait             = 10 * time.Second
)

// BlockFetcher pulls full blocks and recovers transaction senders.
type BlockFetcher interface {
	BlockByHash(ctx context.Context, hash common.Hash) (*types.Block, error)
	Sender(tx *types.Transaction) (common.Address, error)
}

// Dispatcher receives target-wallet transactions; it must not block.
type Dispatcher interface {
	Dispatch(ctx context.Context, tx domain.ObservedTransaction)
}

// HashObserver is told about every confirmed transaction hash so pending
// receipt lookups can poll early.
type HashObserver interface {
	NotifySeen(txHash common.Hash)
}

// Config for the ingestor. Zero delay/interval values take the defaults.
type Config struct {
	Endpoint       string
	Targets        []common.Address
	ReconnectDelay time.Duration
	PingInterval   time.Duration
}

type Ingestor struct {
	cfg      Config
	fetcher  BlockFetcher
	engine   Dispatcher
	observer HashObserver
	targets  map[common.Address]struct{}
	log      *logger.Logger
}

func New(cfg Config, fetcher BlockFetcher, engine Dispatcher, observer HashObserver, log *logger.Logger) *Ingestor {
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = defaultPingInterval
	}

	targets := make(map[common.Address]struct{}, len(cfg.Targets))
	for _, t := range cfg.Targets {
		targets[t] = struct{}{}
	}

	return &Ingestor{
		cfg:      cfg,
		fetcher:  fetcher,
		engine:   engine,
		observer: observer,
		targets:  targets,
		log:      log,
	}
}

// Run connects, subscribes and consumes head notifications until ctx is
// cancelled. Every failure reconnects after a fixed delay, forever; there is
// no other liveness path.
func (in *Ingestor) Run(ctx context.Context) {
	for {
		if err := in.session(ctx); err != nil {
			in.log.WithError(err).Warn("subscription lost, reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(in.cfg.ReconnectDelay):
		}
	}
}

type rpcRequest struct {
	ID      int      `json:"id"`
	JSONRPC string   `json:"jsonrpc"`
	Method  string   `json:"method"`
	Params  []string `json:"params"`
}

type rpcMessage struct {
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type headNotification struct {
	Result struct {
		Hash common.Hash `json:"hash"`
	} `json:"result"`
}

// session holds one websocket connection from dial to failure.
func (in *Ingestor) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, in.cfg.Endpoint, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := rpcRequest{ID: 1, JSONRPC: "2.0", Method: "eth_subscribe", Params: []string{"newHeads"}}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	in.log.Info("subscribed to new heads")

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go in.keepAlive(ctx, conn, done)

	for {
		var msg rpcMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg.Error != nil {
			in.log.WithFields(logrus.Fields{"code": msg.Error.Code, "message": msg.Error.Message}).Warn("rpc error on subscription socket")
			continue
		}
		if msg.Method != "eth_subscription" {
			continue
		}

		var head headNotification
		if err := json.Unmarshal(msg.Params, &head); err != nil {
			in.log.WithError(err).Warn("malformed head notification")
			continue
		}

		in.handleHead(ctx, head.Result.Hash)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// keepAlive pings the socket so idle periods between blocks do not trip
// intermediary timeouts.
func (in *Ingestor) keepAlive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(in.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// handleHead fetches the announced block and dispatches target-wallet
// transactions. A failed fetch skips the block: this is best-effort real-time
// monitoring, not an audit trail.
func (in *Ingestor) handleHead(ctx context.Context, blockHash common.Hash) {
	block, err := in.fetcher.BlockByHash(ctx, blockHash)
	if err != nil {
		in.log.WithError(err).Warn("block fetch failed, skipping block")
		return
	}

	for _, tx := range block.Transactions() {
		in.observer.NotifySeen(tx.Hash())

		sender, err := in.fetcher.Sender(tx)
		if err != nil {
			continue
		}
		if _, ok := in.targets[sender]; !ok {
			continue
		}

		in.log.WithFields(logrus.Fields{
			"tx_hash": tx.Hash().Hex(),
			"wallet":  sender.Hex(),
			"block":   block.NumberU64(),
		}).Info("target wallet transaction observed")

		in.engine.Dispatch(ctx, domain.ObservedTransaction{
			Hash:  tx.Hash(),
			From:  sender,
			To:    tx.To(),
			Input: tx.Data(),
			Value: tx.Value(),
		})
	}
}
