package chainreg

import "testing"

func TestRegisterAndLookup(t *testing.T) {
	Reset()
	defer Reset()

	err := Register(Chain{
		ChainID:     4326,
		CAIP2:       FastCAIP2,
		DisplayName: "fast rail",
		RPCURL:      "https://rpc.example/fast",
		Stablecoin: Stablecoin{
			Symbol:          "USDX",
			ContractAddress: "0xabc",
			Decimals:        18,
		},
		BlockTimeMs: 500,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c, ok := Lookup(FastCAIP2)
	if !ok {
		t.Fatal("expected chain to be found")
	}
	if c.Stablecoin.Decimals != 18 {
		t.Errorf("expected 18 decimals, got %d", c.Stablecoin.Decimals)
	}

	if _, ok := Lookup("eip155:999"); ok {
		t.Error("expected unknown chain to not be found")
	}
}

func TestRegisterRejectsInvalidDecimals(t *testing.T) {
	Reset()
	defer Reset()

	err := Register(Chain{CAIP2: SlowACAIP2, Stablecoin: Stablecoin{Decimals: 9}})
	if err == nil {
		t.Fatal("expected error for invalid decimals")
	}
}

func TestAllReturnsStableOrder(t *testing.T) {
	Reset()
	defer Reset()

	_ = Register(Chain{CAIP2: SlowBCAIP2, Stablecoin: Stablecoin{Decimals: 6}})
	_ = Register(Chain{CAIP2: FastCAIP2, Stablecoin: Stablecoin{Decimals: 18}})
	_ = Register(Chain{CAIP2: SlowACAIP2, Stablecoin: Stablecoin{Decimals: 6}})

	all := All()
	if len(all) != 3 {
		t.Fatalf("expected 3 chains, got %d", len(all))
	}
	if all[0].CAIP2 != FastCAIP2 || all[1].CAIP2 != SlowACAIP2 || all[2].CAIP2 != SlowBCAIP2 {
		t.Errorf("unexpected order: %v", all)
	}
}
