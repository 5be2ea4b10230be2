// Package domain contains the core domain types for the chain context.
package domain

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Role identifies what a node connection is used for.
type Role string

const (
	RoleRead      Role = "read"
	RoleExecution Role = "execution"
	RoleBackup    Role = "backup"
)

// ConnectionState represents the state of a node connection.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
)

// ConnectionInfo describes one established connection. Endpoint is always
// the masked form; raw URLs never leave the manager.
type ConnectionInfo struct {
	Role     Role
	Endpoint string
	ChainID  uint64
	State    ConnectionState
}

// ConnectionStatus contains detailed head-feed status.
type ConnectionStatus struct {
	State      ConnectionState
	LastBlock  uint64
	LastUpdate time.Time
	Reconnects int
	Polling    bool // true when on the poll fallback instead of a push subscription
}

// Endpoint validation errors.
var (
	ErrEndpointInvalid  = errors.New("endpoint URL is not parseable")
	ErrEndpointPublic   = errors.New("endpoint is a well-known public RPC")
	ErrEndpointInsecure = errors.New("endpoint must use TLS")
)

// publicRPCHosts lists well-known open RPC gateways. Fine for reads; a
// transaction sent through one sits in the public mempool where anyone can
// front-run it, so execution refuses them.
var publicRPCHosts = map[string]struct{}{
	"cloudflare-eth.com":          {},
	"rpc.ankr.com":                {},
	"eth.llamarpc.com":            {},
	"ethereum.publicnode.com":     {},
	"ethereum-rpc.publicnode.com": {},
	"1rpc.io":                     {},
	"eth.drpc.org":                {},
	"eth.merkle.io":               {},
	"rpc.mevblocker.io":           {},
	"api.mycryptoapi.com":         {},
}

// ValidateExecutionEndpoint enforces the private-endpoint rule for the
// transaction path.
func ValidateExecutionEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: %v", ErrEndpointInvalid, err)
	}

	host := u.Hostname()
	if _, open := publicRPCHosts[host]; open {
		return fmt.Errorf("%w: %s", ErrEndpointPublic, host)
	}

	switch u.Scheme {
	case "https", "wss":
		return nil
	case "http", "ws":
		if host == "localhost" || host == "127.0.0.1" || host == "::1" {
			return nil
		}
		return fmt.Errorf("%w: scheme %s to %s", ErrEndpointInsecure, u.Scheme, host)
	default:
		return fmt.Errorf("%w: scheme %q", ErrEndpointInvalid, u.Scheme)
	}
}
