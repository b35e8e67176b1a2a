package venues

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/crossfin/gateway/internal/cache"
	"github.com/crossfin/gateway/internal/httpclient"
)

// usdcTransferTopic is the Transfer(address,address,uint256) event topic0.
const usdcTransferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// ChainRPCClient implements cache.ChainRPCProvider: it calls
// eth_blockNumber / eth_getLogs / eth_getBlockByNumber against a list of
// public RPC endpoints, tried in order, decoding ERC-20 Transfer logs for
// the configured USDC contract and filtering to the configured receiver
// wallet (spec §6, chain RPC boundary).
type ChainRPCClient struct {
	http            *httpclient.Client
	rpcEndpoints    []string
	usdcContract    string
	receiverWallet  string
	lookbackBlocks  uint64
}

func NewChainRPCClient(h *httpclient.Client, rpcEndpoints []string, usdcContract, receiverWallet string) *ChainRPCClient {
	return &ChainRPCClient{
		http:           h,
		rpcEndpoints:   rpcEndpoints,
		usdcContract:   usdcContract,
		receiverWallet: receiverWallet,
		lookbackBlocks: 2000,
	}
}

type jsonRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type jsonRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *ChainRPCClient) call(ctx context.Context, endpoint, method string, params []interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	result, err := c.http.FetchRPC(ctx, "POST", endpoint, nil, body, httpclient.Limits{Timeout: httpclient.DefaultRPCTimeout})
	if err != nil {
		return nil, err
	}
	var parsed jsonRPCResponse
	if err := json.Unmarshal(result.Body, &parsed); err != nil {
		return nil, fmt.Errorf("chainrpc: decode response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("chainrpc: %s", parsed.Error.Message)
	}
	return parsed.Result, nil
}

// FetchRecentReceives implements cache.ChainRPCProvider.
func (c *ChainRPCClient) FetchRecentReceives(ctx context.Context) ([]cache.USDCTransfer, error) {
	var lastErr error
	for _, endpoint := range c.rpcEndpoints {
		transfers, err := c.fetchFrom(ctx, endpoint)
		if err == nil {
			return transfers, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *ChainRPCClient) fetchFrom(ctx context.Context, endpoint string) ([]cache.USDCTransfer, error) {
	headRaw, err := c.call(ctx, endpoint, "eth_blockNumber", nil)
	if err != nil {
		return nil, err
	}
	var headHex string
	if err := json.Unmarshal(headRaw, &headHex); err != nil {
		return nil, err
	}
	head, err := parseHexUint(headHex)
	if err != nil {
		return nil, err
	}

	from := uint64(0)
	if head > c.lookbackBlocks {
		from = head - c.lookbackBlocks
	}

	paddedWallet := "0x000000000000000000000000" + strings.TrimPrefix(strings.ToLower(c.receiverWallet), "0x")

	params := []interface{}{
		map[string]interface{}{
			"fromBlock": fmt.Sprintf("0x%x", from),
			"toBlock":   fmt.Sprintf("0x%x", head),
			"address":   c.usdcContract,
			"topics":    []interface{}{usdcTransferTopic, nil, paddedWallet},
		},
	}

	logsRaw, err := c.call(ctx, endpoint, "eth_getLogs", params)
	if err != nil {
		return nil, err
	}

	var logs []struct {
		TransactionHash string   `json:"transactionHash"`
		Topics          []string `json:"topics"`
		Data            string   `json:"data"`
		BlockNumber     string   `json:"blockNumber"`
	}
	if err := json.Unmarshal(logsRaw, &logs); err != nil {
		return nil, fmt.Errorf("chainrpc: decode logs: %w", err)
	}

	transfers := make([]cache.USDCTransfer, 0, len(logs))
	for _, l := range logs {
		if len(l.Topics) < 2 {
			continue
		}
		blockNum, err := parseHexUint(l.BlockNumber)
		if err != nil {
			continue
		}
		amountRaw, err := parseHexUint(l.Data)
		if err != nil {
			continue
		}
		// USDC has 6 decimals.
		amount := float64(amountRaw) / 1e6

		transfers = append(transfers, cache.USDCTransfer{
			TxHash:      l.TransactionHash,
			FromAddress: "0x" + strings.TrimPrefix(l.Topics[1], "0x")[24:],
			AmountUSDC:  amount,
			BlockNumber: blockNum,
			Timestamp:   time.Now(),
		})
	}
	return transfers, nil
}

func parseHexUint(hex string) (uint64, error) {
	hex = strings.TrimPrefix(hex, "0x")
	if hex == "" {
		return 0, nil
	}
	return strconv.ParseUint(hex, 16, 64)
}
