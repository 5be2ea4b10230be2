// Package ethereum provides go-ethereum backed adapters for the chain context.
package ethereum

import (
	"context"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/jm31-art/ultraflashbot/business/chain/app"
)

const (
	tracerName = "chain.ethereum"
	meterName  = "chain.ethereum"
)

// Dialer opens JSON-RPC connections over HTTP or WebSocket.
type Dialer struct{}

// NewDialer creates a node dialer.
func NewDialer() *Dialer {
	return &Dialer{}
}

// Dial connects to the node at rawURL.
func (Dialer) Dial(ctx context.Context, rawURL string) (app.NodeClient, error) {
	client, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return client, nil
}
