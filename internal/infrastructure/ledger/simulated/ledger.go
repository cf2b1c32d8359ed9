// Package simulated provides an in-process passport ledger for development
// and tests. References and transaction hashes are derived deterministically
// from their inputs so that replays produce the same identifiers.
package simulated

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/dreschagin/device-lifecycle/internal/application/port"
	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
	"github.com/dreschagin/device-lifecycle/pkg/logger"
)

const defaultExplorer = "https://explorer.solana.com/tx/%s?cluster=%s"

// Ledger keeps minted passports and their event trails in memory
type Ledger struct {
	network string
	logger  *logger.Logger

	mu      sync.RWMutex
	minted  map[string]string // device id -> ledger ref
	entries map[string][]string
}

// New creates a simulated ledger for the given network name
func New(network string, log *logger.Logger) *Ledger {
	if network == "" {
		network = "devnet"
	}
	return &Ledger{
		network: network,
		logger:  log,
		minted:  make(map[string]string),
		entries: make(map[string][]string),
	}
}

// Mint registers a passport for the device. Minting twice returns ErrAlreadyMinted.
func (l *Ledger) Mint(ctx context.Context, deviceID string, profile entity.CircularityProfile) (port.MintReceipt, error) {
	if err := ctx.Err(); err != nil {
		return port.MintReceipt{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.minted[deviceID]; ok {
		return port.MintReceipt{}, domainerr.ErrAlreadyMinted
	}

	ref := "NFT" + digest("mint", deviceID)[:24]
	tx := digest("tx", ref, fmt.Sprintf("%d", profile.Score), profile.ComputedAt.UTC().String())
	l.minted[deviceID] = ref
	l.entries[ref] = []string{tx}

	l.logger.Info("Passport minted on simulated ledger",
		"device_id", deviceID,
		"ledger_ref", ref,
		"network", l.network,
	)

	return port.MintReceipt{
		LedgerRef: ref,
		TxHash:    tx,
		Explorer:  l.ExplorerURL(tx),
	}, nil
}

// RecordEvent appends an event to the passport trail
func (l *Ledger) RecordEvent(ctx context.Context, ledgerRef string, event port.LedgerEvent) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	trail, ok := l.entries[ledgerRef]
	if !ok {
		return "", fmt.Errorf("%w: ledger reference %s", domainerr.ErrNotFound, ledgerRef)
	}

	// Re-recording the same event yields the same hash
	tx := digest("event", ledgerRef, event.EventID, event.Kind)
	for _, existing := range trail {
		if existing == tx {
			return tx, nil
		}
	}
	l.entries[ledgerRef] = append(trail, tx)
	return tx, nil
}

// Trail returns the transaction hashes recorded for a passport, mint first
func (l *Ledger) Trail(ledgerRef string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.entries[ledgerRef]...)
}

// ExplorerURL returns a block explorer link for the transaction
func (l *Ledger) ExplorerURL(txHash string) string {
	return fmt.Sprintf(defaultExplorer, txHash, l.network)
}

func digest(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
