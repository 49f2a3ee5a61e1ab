package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flashbots/secagg/aggregator"
	"github.com/flashbots/secagg/cmd/common"
)

func main() {
	var (
		numClients     = flag.Int("clients", 10, "Number of clients")
		dim            = flag.Int("dim", 1024, "Update vector length")
		addr           = flag.String("addr", "localhost:8000", "Server listen address")
		roundDuration  = flag.Duration("round", 10*time.Second, "Round duration")
		rounds         = flag.Int("rounds", 0, "Stop after this many rounds, 0 runs until interrupted")
		publishDir     = flag.String("publish-dir", "", "Write published models to this directory")
		failurePolicy  = flag.String("failure-policy", "abort", "abort or exclude")
		mismatchPolicy = flag.String("mismatch-policy", "strict", "strict or pad")
		logLevel       = flag.String("log-level", "warn", "Log level")
	)
	flag.Parse()

	log, err := common.NewLogger(*logLevel, false)
	if err != nil {
		fmt.Printf("Logger error: %v\n", err)
		os.Exit(1)
	}

	aggCfg := aggregator.DefaultConfig()
	if aggCfg.FailurePolicy, err = aggregator.ParseFailurePolicy(*failurePolicy); err != nil {
		fmt.Printf("Configuration error: %v\n", err)
		os.Exit(1)
	}
	if aggCfg.MismatchPolicy, err = aggregator.ParseMismatchPolicy(*mismatchPolicy); err != nil {
		fmt.Printf("Configuration error: %v\n", err)
		os.Exit(1)
	}

	config := &OrchestratorConfig{
		NumClients:    *numClients,
		Dim:           *dim,
		Addr:          *addr,
		RoundDuration: *roundDuration,
		Rounds:        *rounds,
		Aggregator:    aggCfg,
		PublishDir:    *publishDir,
		Log:           log,
	}

	orchestrator := NewOrchestrator(config)

	if err := orchestrator.Deploy(); err != nil {
		fmt.Printf("Deployment failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nsecagg deployment running...")
	fmt.Println("Configuration:")
	fmt.Printf("  Server: %s\n", orchestrator.ServerURL())
	fmt.Printf("  Clients: %d\n", config.NumClients)
	fmt.Printf("  Update length: %d\n", config.Dim)
	fmt.Printf("  Round duration: %v\n", config.RoundDuration)
	fmt.Println("\nPress Ctrl+C to shutdown...")

	go orchestrator.MonitorRoundOutputs(os.Stdout)

	done := make(chan error, 1)
	go func() { done <- orchestrator.Run() }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-done:
		if err != nil {
			fmt.Printf("Round failed: %v\n", err)
		}
	}

	if err := orchestrator.Shutdown(); err != nil {
		fmt.Printf("Shutdown error: %v\n", err)
	}

	fmt.Println("Deployment stopped.")
}
