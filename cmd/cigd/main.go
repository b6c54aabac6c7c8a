// Consensus core daemon.
//
// Usage:
//
//	cigd [--config=cigd.json] [--genesis=genesis.json] [--proposer-key=path]
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/zzzizo/cig-chain/config"
	"github.com/zzzizo/cig-chain/internal/node"
	"github.com/zzzizo/cig-chain/pkg/crypto"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to config JSON (defaults apply when empty)")
		genesisPath = flag.String("genesis", "", "path to genesis JSON (required)")
		keyPath     = flag.String("proposer-key", "", "path to hex-encoded proposer private key")
	)
	flag.Parse()

	if err := run(*configPath, *genesisPath, *keyPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, genesisPath, keyPath string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	if genesisPath == "" {
		return fmt.Errorf("--genesis is required")
	}
	gen, err := config.LoadGenesis(genesisPath)
	if err != nil {
		return fmt.Errorf("load genesis: %w", err)
	}

	var opts []node.Option
	if keyPath != "" {
		key, err := loadKey(keyPath)
		if err != nil {
			return fmt.Errorf("load proposer key: %w", err)
		}
		defer key.Zero()
		opts = append(opts, node.WithProposerKey(key))
	}

	n, err := node.New(cfg, gen, opts...)
	if err != nil {
		return err
	}

	if err := n.Start(); err != nil {
		n.Stop()
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	n.Stop()
	return nil
}

// loadKey reads a hex-encoded 32-byte private key from a file.
func loadKey(path string) (*crypto.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	keyBytes, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decode hex: %w", err)
	}
	return crypto.PrivateKeyFromBytes(keyBytes)
}
