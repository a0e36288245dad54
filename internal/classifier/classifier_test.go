package classifier

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	tokenA = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	tokenB = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	tokenC = common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
	router = common.HexToAddress("0x7a250d5630b4cf539739df2c5dacb4c659f2488d")
	trader = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func TestClassify_Totality(t *testing.T) {
	c := New(nil)

	inputs := [][]byte{
		nil,
		{},
		{0x01},
		{0x01, 0x02, 0x03},
		{0x38, 0xed, 0x17, 0x39},             // known selector, no args
		{0x38, 0xed, 0x17, 0x39, 0xff},       // known selector, truncated args
		{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01}, // unknown selector
	}

	for _, in := range inputs {
		cls := c.Classify(nil, in, big.NewInt(0))
		if len(in) < 4 && cls.IsSwap {
			t.Errorf("input %x: short input classified as swap", in)
		}
	}
}

func TestClassify_NotASwap(t *testing.T) {
	c := New([]common.Address{router})

	other := common.HexToAddress("0x2222222222222222222222222222222222222222")
	cls := c.Classify(&other, []byte{0xde, 0xad, 0xbe, 0xef}, big.NewInt(0))
	if cls.IsSwap {
		t.Error("unknown selector to a non-router address must not be a swap")
	}
}

func TestClassify_RouterAllowList(t *testing.T) {
	c := New([]common.Address{router})

	cls := c.Classify(&router, []byte{0xde, 0xad, 0xbe, 0xef}, big.NewInt(0))
	if !cls.IsSwap {
		t.Fatal("unknown selector to an allow-listed router must be a swap")
	}
	if cls.Protocol != ProtocolRouter {
		t.Errorf("Protocol = %q, want %q", cls.Protocol, ProtocolRouter)
	}
	if cls.TokenIn != nil || cls.TokenOut != nil {
		t.Error("router fallback must leave tokens unknown")
	}
}

func TestClassify_V2ExactTokensForTokens(t *testing.T) {
	args, err := v2TokensArgs.Pack(
		big.NewInt(1000),
		big.NewInt(900),
		[]common.Address{tokenA, tokenC, tokenB},
		trader,
		big.NewInt(9999999999),
	)
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	input := append([]byte{0x38, 0xed, 0x17, 0x39}, args...)

	c := New(nil)
	cls := c.Classify(&router, input, big.NewInt(0))

	if !cls.IsSwap || cls.Protocol != ProtocolUniswapV2 {
		t.Fatalf("classification = %+v, want uniswap_v2 swap", cls)
	}
	if cls.TokenIn == nil || *cls.TokenIn != tokenA {
		t.Errorf("TokenIn = %v, want %s", cls.TokenIn, tokenA.Hex())
	}
	if cls.TokenOut == nil || *cls.TokenOut != tokenB {
		t.Errorf("TokenOut = %v, want %s", cls.TokenOut, tokenB.Hex())
	}
}

func TestClassify_V2ExactETHForTokens(t *testing.T) {
	args, err := v2EthArgs.Pack(
		big.NewInt(900),
		[]common.Address{tokenA, tokenB},
		trader,
		big.NewInt(9999999999),
	)
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	input := append([]byte{0x7f, 0xf3, 0x6a, 0xb5}, args...)

	c := New(nil)
	cls := c.Classify(&router, input, big.NewInt(1e18))

	if !cls.IsSwap {
		t.Fatal("swapExactETHForTokens must classify as swap")
	}
	if cls.TokenOut == nil || *cls.TokenOut != tokenB {
		t.Errorf("TokenOut = %v, want %s", cls.TokenOut, tokenB.Hex())
	}
}

func TestClassify_V3ExactInputSingle(t *testing.T) {
	// Static tuple: tokenIn, tokenOut, fee, recipient, deadline, amountIn,
	// amountOutMinimum, sqrtPriceLimitX96 — one 32-byte word each.
	args := make([]byte, 8*32)
	copy(args[12:32], tokenA.Bytes())
	copy(args[32+12:64], tokenB.Bytes())

	input := append([]byte{0x41, 0x4b, 0xf3, 0x89}, args...)

	c := New(nil)
	cls := c.Classify(&router, input, big.NewInt(0))

	if !cls.IsSwap || cls.Protocol != ProtocolUniswapV3 {
		t.Fatalf("classification = %+v, want uniswap_v3 swap", cls)
	}
	if cls.TokenIn == nil || *cls.TokenIn != tokenA {
		t.Errorf("TokenIn = %v, want %s", cls.TokenIn, tokenA.Hex())
	}
	if cls.TokenOut == nil || *cls.TokenOut != tokenB {
		t.Errorf("TokenOut = %v, want %s", cls.TokenOut, tokenB.Hex())
	}
}

func TestClassify_MalformedArgsDegrade(t *testing.T) {
	// Known selector with garbage args: still a swap, tokens unknown.
	input := append([]byte{0x38, 0xed, 0x17, 0x39}, []byte{0x01, 0x02, 0x03}...)

	c := New(nil)
	cls := c.Classify(&router, input, big.NewInt(0))

	if !cls.IsSwap {
		t.Fatal("known selector with undecodable args must remain a swap")
	}
	if cls.TokenIn != nil || cls.TokenOut != nil {
		t.Error("undecodable args must leave tokens unknown")
	}
}

func TestClassify_MulticallUnknownTokens(t *testing.T) {
	c := New(nil)
	cls := c.Classify(&router, []byte{0x5a, 0xe4, 0x01, 0xdc, 0x00}, big.NewInt(0))

	if !cls.IsSwap || cls.Protocol != ProtocolUniswapV3 {
		t.Fatalf("classification = %+v, want uniswap_v3 swap", cls)
	}
	if cls.TokenOut != nil {
		t.Error("multicall tokens must be unknown")
	}
}

func TestRegister_Extension(t *testing.T) {
	c := New(nil)
	c.Register([4]byte{0x01, 0x02, 0x03, 0x04}, "custom_dex", nil)

	cls := c.Classify(nil, []byte{0x01, 0x02, 0x03, 0x04}, big.NewInt(0))
	if !cls.IsSwap || cls.Protocol != "custom_dex" {
		t.Errorf("classification = %+v, want custom_dex swap", cls)
	}
}
