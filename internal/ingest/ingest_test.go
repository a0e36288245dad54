package ingest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/gorilla/websocket"

	"github.com/RenZ1z/copytrade-base/internal/domain"
	"github.com/RenZ1z/copytrade-base/internal/logger"
)

var (
	whale = common.HexToAddress("0x1111111111111111111111111111111111111111")
	other = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

type fakeFetcher struct {
	mu      sync.Mutex
	blocks  map[common.Hash]*types.Block
	senders map[common.Hash]common.Address
	fails   int
}

func (f *fakeFetcher) BlockByHash(ctx context.Context, hash common.Hash) (*types.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return nil, errors.New("rpc unavailable")
	}
	block, ok := f.blocks[hash]
	if !ok {
		return nil, errors.New("block not found")
	}
	return block, nil
}

func (f *fakeFetcher) Sender(tx *types.Transaction) (common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sender, ok := f.senders[tx.Hash()]
	if !ok {
		return common.Address{}, errors.New("unknown sender")
	}
	return sender, nil
}

type recordingDispatcher struct {
	mu  sync.Mutex
	txs []domain.ObservedTransaction
	ch  chan struct{}
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{ch: make(chan struct{}, 16)}
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, tx domain.ObservedTransaction) {
	d.mu.Lock()
	d.txs = append(d.txs, tx)
	d.mu.Unlock()
	d.ch <- struct{}{}
}

func (d *recordingDispatcher) dispatched() []domain.ObservedTransaction {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.ObservedTransaction(nil), d.txs...)
}

type recordingObserver struct {
	mu     sync.Mutex
	hashes []common.Hash
}

func (o *recordingObserver) NotifySeen(h common.Hash) {
	o.mu.Lock()
	o.hashes = append(o.hashes, h)
	o.mu.Unlock()
}

func (o *recordingObserver) seen() []common.Hash {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]common.Hash(nil), o.hashes...)
}

func makeBlock(txs ...*types.Transaction) *types.Block {
	header := &types.Header{Number: big.NewInt(7)}
	return types.NewBlock(header, &types.Body{Transactions: txs}, nil, trie.NewStackTrie(nil))
}

func makeTx(nonce uint64, data []byte) *types.Transaction {
	to := common.HexToAddress("0x3333333333333333333333333333333333333333")
	return types.NewTransaction(nonce, to, big.NewInt(0), 21000, big.NewInt(1), data)
}

// headServer is a minimal subscription endpoint: it acknowledges the
// subscribe request, then streams the given block hashes.
func headServer(t *testing.T, dropFirst bool, heads ...common.Hash) *httptest.Server {
	t.Helper()
	var connects int32
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		n := atomic.AddInt32(&connects, 1)
		if dropFirst && n == 1 {
			conn.Close()
			return
		}

		if _, _, err := conn.ReadMessage(); err != nil {
			conn.Close()
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":1,"result":"0xsub1"}`))

		for _, h := range heads {
			notif := fmt.Sprintf(`{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":"0xsub1","result":{"hash":"%s"}}}`, h.Hex())
			conn.WriteMessage(websocket.TextMessage, []byte(notif))
		}

		// Keep the socket open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestRunDispatchesTargetTransactions(t *testing.T) {
	whaleTx := makeTx(1, []byte{0xde, 0xad, 0xbe, 0xef})
	otherTx := makeTx(2, nil)
	blockHash := common.Hash{0xb1}

	fetcher := &fakeFetcher{
		blocks: map[common.Hash]*types.Block{blockHash: makeBlock(whaleTx, otherTx)},
		senders: map[common.Hash]common.Address{
			whaleTx.Hash(): whale,
			otherTx.Hash(): other,
		},
	}
	dispatcher := newRecordingDispatcher()
	observer := &recordingObserver{}

	srv := headServer(t, false, blockHash)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := New(Config{Endpoint: wsURL(srv), Targets: []common.Address{whale}, ReconnectDelay: 10 * time.Millisecond}, fetcher, dispatcher, observer, logger.NewNop())
	go in.Run(ctx)

	select {
	case <-dispatcher.ch:
	case <-time.After(5 * time.Second):
		t.Fatal("no transaction dispatched")
	}

	txs := dispatcher.dispatched()
	if len(txs) != 1 {
		t.Fatalf("dispatched %d transactions, want 1", len(txs))
	}
	if txs[0].Hash != whaleTx.Hash() {
		t.Fatalf("dispatched hash = %s, want %s", txs[0].Hash.Hex(), whaleTx.Hash().Hex())
	}
	if txs[0].From != whale {
		t.Fatalf("dispatched sender = %s, want %s", txs[0].From.Hex(), whale.Hex())
	}
	if len(txs[0].Input) != 4 {
		t.Fatalf("dispatched input length = %d, want 4", len(txs[0].Input))
	}

	// Every confirmed hash is reported for early receipt polling, not just
	// the target wallet's.
	if got := len(observer.seen()); got != 2 {
		t.Fatalf("observer saw %d hashes, want 2", got)
	}
}

func TestRunReconnectsAfterDrop(t *testing.T) {
	whaleTx := makeTx(3, nil)
	blockHash := common.Hash{0xb2}

	fetcher := &fakeFetcher{
		blocks:  map[common.Hash]*types.Block{blockHash: makeBlock(whaleTx)},
		senders: map[common.Hash]common.Address{whaleTx.Hash(): whale},
	}
	dispatcher := newRecordingDispatcher()

	srv := headServer(t, true, blockHash)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := New(Config{Endpoint: wsURL(srv), Targets: []common.Address{whale}, ReconnectDelay: 10 * time.Millisecond}, fetcher, dispatcher, &recordingObserver{}, logger.NewNop())
	go in.Run(ctx)

	select {
	case <-dispatcher.ch:
	case <-time.After(5 * time.Second):
		t.Fatal("no dispatch after reconnect")
	}
}

func TestRunSkipsBlockOnFetchFailure(t *testing.T) {
	whaleTx := makeTx(4, nil)
	failing := common.Hash{0xb3}
	healthy := common.Hash{0xb4}

	fetcher := &fakeFetcher{
		blocks:  map[common.Hash]*types.Block{healthy: makeBlock(whaleTx)},
		senders: map[common.Hash]common.Address{whaleTx.Hash(): whale},
		fails:   1,
	}
	dispatcher := newRecordingDispatcher()

	srv := headServer(t, false, failing, healthy)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := New(Config{Endpoint: wsURL(srv), Targets: []common.Address{whale}, ReconnectDelay: 10 * time.Millisecond}, fetcher, dispatcher, &recordingObserver{}, logger.NewNop())
	go in.Run(ctx)

	select {
	case <-dispatcher.ch:
	case <-time.After(5 * time.Second):
		t.Fatal("healthy block was not processed after a failed fetch")
	}

	txs := dispatcher.dispatched()
	if len(txs) != 1 {
		t.Fatalf("dispatched %d transactions, want 1", len(txs))
	}
}
