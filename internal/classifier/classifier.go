// Package classifier turns raw transaction input data into a swap
// classification by matching the leading 4-byte function selector against a
// table of known DEX entry points.
package classifier

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/RenZ1z/copytrade-base/internal/domain"
)

// Protocol tags attached to classifications.
const (
	ProtocolUniswapV2       = "uniswap_v2"
	ProtocolUniswapV3       = "uniswap_v3"
	ProtocolUniversalRouter = "universal_router"
	ProtocolOneInch         = "1inch"
	ProtocolZeroEx          = "0x"
	ProtocolRouter          = "router"
)

// DecodeFunc extracts the token pair from calldata following the selector.
// A nil result for either token means "unknown"; decoders never panic on
// malformed input.
type DecodeFunc func(args []byte, value *big.Int) (tokenIn, tokenOut *common.Address)

type entry struct {
	protocol string
	decode   DecodeFunc
}

// Classifier is a pure, side-effect-free selector matcher. The zero set of
// routers disables the allow-list fallback.
type Classifier struct {
	table   map[[4]byte]entry
	routers map[common.Address]struct{}
}

// New builds a classifier with the default selector table and the given
// router allow-list.
func New(routers []common.Address) *Classifier {
	c := &Classifier{
		table:   make(map[[4]byte]entry),
		routers: make(map[common.Address]struct{}, len(routers)),
	}
	for _, r := range routers {
		c.routers[r] = struct{}{}
	}
	registerDefaults(c)
	return c
}

// Register adds or replaces a selector entry. This is the extension point for
// new protocols; dec may be nil when the call shape is not decodable.
func (c *Classifier) Register(selector [4]byte, protocol string, dec DecodeFunc) {
	c.table[selector] = entry{protocol: protocol, decode: dec}
}

// Classify matches input against the selector table. It is total: any byte
// string, including empty or truncated input, yields an answer.
func (c *Classifier) Classify(to *common.Address, input []byte, value *big.Int) domain.Classification {
	if len(input) < 4 {
		return domain.Classification{}
	}

	var sel [4]byte
	copy(sel[:], input[:4])

	if e, ok := c.table[sel]; ok {
		cls := domain.Classification{IsSwap: true, Protocol: e.protocol}
		if e.decode != nil {
			cls.TokenIn, cls.TokenOut = e.decode(input[4:], value)
		}
		return cls
	}

	// Unknown selector, but the call targets a known router: still a swap,
	// tokens unresolved.
	if to != nil {
		if _, ok := c.routers[*to]; ok {
			return domain.Classification{IsSwap: true, Protocol: ProtocolRouter}
		}
	}

	return domain.Classification{}
}

func registerDefaults(c *Classifier) {
	// Uniswap V3 SwapRouter: exactInputSingle((address,address,uint24,address,uint256,uint256,uint256,uint160))
	c.Register([4]byte{0x41, 0x4b, 0xf3, 0x89}, ProtocolUniswapV3, staticPairDecoder(0, 1))
	// SwapRouter02: exactInputSingle((address,address,uint24,address,uint256,uint256,uint160))
	c.Register([4]byte{0x04, 0xe4, 0x5a, 0xaf}, ProtocolUniswapV3, staticPairDecoder(0, 1))
	// exactInput((bytes,address,uint256,uint256,uint256)) — multi-hop path, not decoded
	c.Register([4]byte{0xc0, 0x4b, 0x8d, 0x59}, ProtocolUniswapV3, nil)
	// SwapRouter02 multicall(uint256,bytes[]) and multicall(bytes[])
	c.Register([4]byte{0x5a, 0xe4, 0x01, 0xdc}, ProtocolUniswapV3, nil)
	c.Register([4]byte{0xac, 0x96, 0x50, 0xd8}, ProtocolUniswapV3, nil)

	// Uniswap V2 router and forks
	c.Register([4]byte{0x38, 0xed, 0x17, 0x39}, ProtocolUniswapV2, v2PathDecoder(v2TokensArgs, 2)) // swapExactTokensForTokens
	c.Register([4]byte{0x88, 0x03, 0xdb, 0xee}, ProtocolUniswapV2, v2PathDecoder(v2TokensArgs, 2)) // swapTokensForExactTokens
	c.Register([4]byte{0x18, 0xcb, 0xaf, 0xe5}, ProtocolUniswapV2, v2PathDecoder(v2TokensArgs, 2)) // swapExactTokensForETH
	c.Register([4]byte{0x7f, 0xf3, 0x6a, 0xb5}, ProtocolUniswapV2, v2PathDecoder(v2EthArgs, 1))    // swapExactETHForTokens
	c.Register([4]byte{0xfb, 0x3b, 0xdb, 0x41}, ProtocolUniswapV2, v2PathDecoder(v2EthArgs, 1))    // swapETHForExactTokens
	c.Register([4]byte{0x5c, 0x11, 0xd7, 0x95}, ProtocolUniswapV2, v2PathDecoder(v2TokensArgs, 2)) // ...SupportingFeeOnTransferTokens
	c.Register([4]byte{0x79, 0x1a, 0xc9, 0x47}, ProtocolUniswapV2, v2PathDecoder(v2TokensArgs, 2))
	c.Register([4]byte{0xb6, 0xf9, 0xde, 0x95}, ProtocolUniswapV2, v2PathDecoder(v2EthArgs, 1))

	// Universal Router: execute(bytes,bytes[],uint256) and execute(bytes,bytes[])
	c.Register([4]byte{0x35, 0x93, 0x56, 0x4c}, ProtocolUniversalRouter, nil)
	c.Register([4]byte{0x24, 0x85, 0x6b, 0xc3}, ProtocolUniversalRouter, nil)

	// 1inch AggregationRouterV5: swap(address,(address,address,address,address,uint256,uint256,uint256),bytes,bytes)
	c.Register([4]byte{0x12, 0xaa, 0x3c, 0xaf}, ProtocolOneInch, nil)

	// 0x ExchangeProxy: transformERC20(address,address,uint256,uint256,(uint32,bytes)[])
	c.Register([4]byte{0x41, 0x55, 0x65, 0xb0}, ProtocolZeroEx, staticPairDecoder(0, 1))
}

// staticPairDecoder reads two addresses from fixed 32-byte argument words.
// Works for call shapes whose leading arguments are statically encoded.
func staticPairDecoder(inWord, outWord int) DecodeFunc {
	return func(args []byte, _ *big.Int) (*common.Address, *common.Address) {
		maxWord := inWord
		if outWord > maxWord {
			maxWord = outWord
		}
		if len(args) < (maxWord+1)*32 {
			return nil, nil
		}
		in := common.BytesToAddress(args[inWord*32+12 : (inWord+1)*32])
		out := common.BytesToAddress(args[outWord*32+12 : (outWord+1)*32])
		return &in, &out
	}
}

var (
	typeUint256, _    = abi.NewType("uint256", "", nil)
	typeAddress, _    = abi.NewType("address", "", nil)
	typeAddressArr, _ = abi.NewType("address[]", "", nil)

	// swapExactTokensForTokens(uint256,uint256,address[],address,uint256)
	v2TokensArgs = abi.Arguments{
		{Type: typeUint256},
		{Type: typeUint256},
		{Type: typeAddressArr},
		{Type: typeAddress},
		{Type: typeUint256},
	}

	// swapExactETHForTokens(uint256,address[],address,uint256)
	v2EthArgs = abi.Arguments{
		{Type: typeUint256},
		{Type: typeAddressArr},
		{Type: typeAddress},
		{Type: typeUint256},
	}
)

// v2PathDecoder unpacks a V2-style argument list and reads the swap path:
// tokenIn is the first hop, tokenOut the last.
func v2PathDecoder(args abi.Arguments, pathIdx int) DecodeFunc {
	return func(data []byte, _ *big.Int) (*common.Address, *common.Address) {
		vals, err := args.Unpack(data)
		if err != nil || pathIdx >= len(vals) {
			return nil, nil
		}
		path, ok := vals[pathIdx].([]common.Address)
		if !ok || len(path) == 0 {
			return nil, nil
		}
		in, out := path[0], path[len(path)-1]
		return &in, &out
	}
}
