// Package fetcher holds the engine's external collaborators: a chain-data
// source for bytecode-by-address lookup and a compiler-metadata source for
// storage layouts. Both are narrow, fallible, latency-bearing interfaces;
// the analysis pipeline itself never touches the network or disk.
package fetcher

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/evmsleuth/sleuth/core/tracker"
)

// Source provides deployed bytecode by address.
type Source interface {
	Code(ctx context.Context, addr common.Address) ([]byte, error)
}

// LayoutSource provides compiler-emitted storage layouts when available.
// A nil layout with a nil error means "no manifest for this contract".
type LayoutSource interface {
	Layout(ctx context.Context, addr common.Address) (*tracker.Layout, error)
}

// ChainSource fetches deployed code over an RPC endpoint.
type ChainSource struct {
	client *ethclient.Client
}

// Dial connects to the given RPC URL.
func Dial(ctx context.Context, url string) (*ChainSource, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &ChainSource{client: client}, nil
}

// Code returns the contract's deployed code at the latest block.
func (s *ChainSource) Code(ctx context.Context, addr common.Address) ([]byte, error) {
	code, err := s.client.CodeAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch code for %s: %w", addr, err)
	}
	return code, nil
}

// Close releases the underlying RPC connection.
func (s *ChainSource) Close() {
	s.client.Close()
}
