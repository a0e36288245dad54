// Package aggregator is the boundary to the external swap-quoting/execution
// service. It requests firm quotes whose responses carry an executable
// transaction payload.
package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/RenZ1z/copytrade-base/internal/domain"
)

// NativeToken is the pseudo-address the aggregator uses for the chain's
// native currency.
const NativeToken = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type quoteResponse struct {
	To              string `json:"to"`
	Data            string `json:"data"`
	Value           string `json:"value"`
	Gas             string `json:"gas"`
	BuyAmount       string `json:"buyAmount"`
	GuaranteedPrice string `json:"guaranteedPrice"`
	AllowanceTarget string `json:"allowanceTarget"`
}

// Quote requests a firm quote for (sellToken, buyToken, sellAmount, taker).
func (c *Client) Quote(ctx context.Context, req domain.QuoteRequest) (*domain.Quote, error) {
	params := url.Values{}
	params.Set("sellToken", req.SellToken)
	params.Set("buyToken", req.BuyToken)
	params.Set("sellAmount", req.SellAmount.String())
	params.Set("takerAddress", req.Taker)

	endpoint := c.baseURL + "/swap/v1/quote?" + params.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create quote request: %w", err)
	}
	if c.apiKey != "" {
		httpReq.Header.Set("0x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("quote request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read quote response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("aggregator returned status %d: %s", resp.StatusCode, extractErrorMessage(body))
	}

	var qr quoteResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, fmt.Errorf("failed to parse quote response: %w", err)
	}

	return qr.toDomain()
}

func (qr *quoteResponse) toDomain() (*domain.Quote, error) {
	if qr.To == "" || qr.Data == "" {
		return nil, fmt.Errorf("quote response missing transaction payload")
	}

	data, err := hexutil.Decode(qr.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid quote calldata: %w", err)
	}

	value := new(big.Int)
	if qr.Value != "" {
		if _, ok := value.SetString(qr.Value, 10); !ok {
			return nil, fmt.Errorf("invalid quote value: %s", qr.Value)
		}
	}

	var gasLimit uint64
	if qr.Gas != "" {
		gas, ok := new(big.Int).SetString(qr.Gas, 10)
		if !ok {
			return nil, fmt.Errorf("invalid quote gas: %s", qr.Gas)
		}
		gasLimit = gas.Uint64()
	}

	buyAmount := new(big.Int)
	if qr.BuyAmount != "" {
		buyAmount.SetString(qr.BuyAmount, 10)
	}

	quote := &domain.Quote{
		Call: domain.TxCall{
			To:       common.HexToAddress(qr.To),
			Data:     data,
			Value:    value,
			GasLimit: gasLimit,
		},
		BuyAmount:       buyAmount,
		GuaranteedPrice: qr.GuaranteedPrice,
	}

	if qr.AllowanceTarget != "" {
		target := common.HexToAddress(qr.AllowanceTarget)
		if target != (common.Address{}) {
			quote.AllowanceTarget = &target
		}
	}

	return quote, nil
}

func extractErrorMessage(body []byte) string {
	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if msg, ok := parsed["reason"].(string); ok && msg != "" {
			return msg
		}
		if msg, ok := parsed["message"].(string); ok && msg != "" {
			return msg
		}
	}
	return string(body)
}
