package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/djstevess/arb-bot/internal/chain"
	"github.com/djstevess/arb-bot/internal/config"
	"github.com/djstevess/arb-bot/internal/types"
	"go.uber.org/zap"
)

// check-contract verifies the wallet and arbitrage contract a live bot would use.
func main() {
	cfgPath := flag.String("config", "./config.yaml", "path to config")
	timeout := flag.Duration("timeout", 15*time.Second, "overall RPC timeout")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cli, err := chain.Dial(cfg, zap.NewNop())
	if err != nil {
		panic(err)
	}

	fmt.Printf("RPC:      %s\n", cfg.Chain.RPCHTTP)
	fmt.Printf("Wallet:   %s\n", cli.Sender().Hex())
	fmt.Printf("Contract: %s\n", cli.Contract().Hex())

	if err := cli.Ready(ctx); err != nil {
		fmt.Printf("Ready:    no (%v)\n", err)
	} else {
		fmt.Println("Ready:    yes")
	}

	bal, err := cli.NativeBalance(ctx)
	if err != nil {
		fmt.Printf("Balance:  error: %v\n", err)
	} else {
		ok := "ok"
		if bal < cfg.Settings.MinGasBalanceETH {
			ok = fmt.Sprintf("below %.4f minimum", cfg.Settings.MinGasBalanceETH)
		}
		fmt.Printf("Balance:  %.6f %s (%s)\n", bal, cfg.Chain.NativeSymbol, ok)
	}

	gp, err := cli.SuggestGasPrice(ctx)
	if err == nil {
		fmt.Printf("Gas:      %.3f gwei\n", types.ToFloat(gp, 9))
	}

	st, err := cli.ContractState(ctx)
	if err != nil {
		fmt.Printf("State:    partial: %v\n", err)
	}
	fmt.Printf("Owner:      %s\n", st.Owner.Hex())
	fmt.Printf("Authorized: %v\n", st.Authorized)
	if st.TotalProfit != nil {
		fmt.Printf("TotalProfit (raw): %s\n", st.TotalProfit.String())
	}
}
