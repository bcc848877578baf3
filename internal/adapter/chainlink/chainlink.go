// Package chainlink implements the direct-publisher price source adapter
// (spec §4.1): one reading per token, decimals and at taken straight from
// the feed.
package chainlink

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"treasury-pipeline/internal/domain"
)

const aggregatorV3ABIJSON = `[
	{"inputs":[],"name":"latestRoundData","outputs":[
		{"internalType":"uint80","name":"roundId","type":"uint80"},
		{"internalType":"int256","name":"answer","type":"int256"},
		{"internalType":"uint256","name":"startedAt","type":"uint256"},
		{"internalType":"uint256","name":"updatedAt","type":"uint256"},
		{"internalType":"uint80","name":"answeredInRound","type":"uint80"}
	],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

var aggregatorV3ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorV3ABIJSON))
	if err != nil {
		panic("chainlink: failed to parse AggregatorV3Interface ABI: " + err.Error())
	}
	aggregatorV3ABI = parsed
}

// Options parameterise the adapter.
type Options struct {
	RPCURL string
	// FeedAddresses maps a tokenId to its AggregatorV3Interface contract.
	FeedAddresses map[string]string
	Timeout       time.Duration
}

// Adapter speaks the Chainlink AggregatorV3Interface protocol.
type Adapter struct {
	opts      Options
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// New constructs a Chainlink adapter.
func New(opts Options, logger zerolog.Logger) *Adapter {
	return &Adapter{opts: opts, logger: logger.With().Str("component", "adapter_chainlink").Logger()}
}

// Fetch implements adapter.Source.
func (a *Adapter) Fetch(ctx context.Context, tokenID string) (domain.Quote, bool, error) {
	feedAddr, ok := a.opts.FeedAddresses[tokenID]
	if !ok || feedAddr == "" {
		a.logger.Debug().Str("token_id", tokenID).Msg("no feed configured; reporting no data")
		return domain.Quote{}, false, nil
	}

	timeout := a.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := a.getClient(callCtx)
	if err != nil {
		a.logger.Debug().Err(err).Msg("dial failed; reporting no data")
		return domain.Quote{}, false, nil
	}

	addr := common.HexToAddress(feedAddr)

	decimals, err := a.callDecimals(callCtx, client, addr)
	if err != nil {
		a.logger.Debug().Err(err).Msg("decimals() call failed; reporting no data")
		return domain.Quote{}, false, nil
	}

	roundID, answer, updatedAt, err := a.callLatestRoundData(callCtx, client, addr)
	if err != nil {
		a.logger.Debug().Err(err).Msg("latestRoundData() call failed; reporting no data")
		return domain.Quote{}, false, nil
	}
	if answer.Sign() <= 0 {
		return domain.Quote{}, false, nil
	}

	q := domain.Quote{
		Source:   domain.SourceChainlink,
		Price:    answer,
		Decimals: decimals,
		At:       updatedAt.Int64(),
		Meta:     domain.QuoteMeta{RoundID: roundID.String()},
	}
	return q, true, nil
}

func (a *Adapter) callDecimals(ctx context.Context, client *ethclient.Client, addr common.Address) (int, error) {
	payload, err := aggregatorV3ABI.Pack("decimals")
	if err != nil {
		return 0, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return 0, err
	}
	outputs, err := aggregatorV3ABI.Unpack("decimals", res)
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals() response")
	}
	d, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals() output")
	}
	return int(d), nil
}

func (a *Adapter) callLatestRoundData(ctx context.Context, client *ethclient.Client, addr common.Address) (roundID, answer, updatedAt *big.Int, err error) {
	payload, packErr := aggregatorV3ABI.Pack("latestRoundData")
	if packErr != nil {
		return nil, nil, nil, packErr
	}
	res, callErr := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if callErr != nil {
		return nil, nil, nil, callErr
	}
	outputs, unpackErr := aggregatorV3ABI.Unpack("latestRoundData", res)
	if unpackErr != nil {
		return nil, nil, nil, unpackErr
	}
	if len(outputs) != 5 {
		return nil, nil, nil, fmt.Errorf("unexpected latestRoundData() response shape")
	}
	roundID, _ = outputs[0].(*big.Int)
	answer, _ = outputs[1].(*big.Int)
	updatedAt, _ = outputs[3].(*big.Int)
	if roundID == nil || answer == nil || updatedAt == nil {
		return nil, nil, nil, errors.New("failed to decode latestRoundData() output")
	}
	return roundID, answer, updatedAt, nil
}

func (a *Adapter) getClient(ctx context.Context) (*ethclient.Client, error) {
	a.clientMux.Lock()
	defer a.clientMux.Unlock()

	if a.client != nil {
		return a.client, nil
	}
	if a.opts.RPCURL == "" {
		return nil, errors.New("chainlink adapter: rpc url not configured")
	}

	client, err := ethclient.DialContext(ctx, a.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	a.client = client
	return client, nil
}

var _ interface {
	Fetch(ctx context.Context, tokenID string) (domain.Quote, bool, error)
} = (*Adapter)(nil)
