package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
)

func newPassportDeps(f *fixture, ledger *mockLedger) PassportDeps {
	return PassportDeps{
		Devices:   f.devices,
		Events:    f.events,
		Passports: f.passports,
		Ledger:    ledger,
	}
}

func TestMintPassport_ReMintFails(t *testing.T) {
	f := newFixture(t, TelemetryStoreConfig{})
	f.registerDevice(t, "D1", testNow.AddDate(-1, 0, 0))
	ledger := newMockLedger()
	uc := NewMintPassportUseCase(newPassportDeps(f, ledger), testLogger(), fixedNow)

	passport, err := uc.Execute(context.Background(), "D1")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if passport.ID != entity.PassportIDFor("D1") || passport.LedgerRef != "ledger-D1" {
		t.Fatalf("unexpected passport: %+v", passport)
	}

	before, _ := f.devices.FindByID(context.Background(), "D1")

	_, err = uc.Execute(context.Background(), "D1")
	if !errors.Is(err, domainerr.ErrAlreadyMinted) {
		t.Fatalf("expected ErrAlreadyMinted, got %v", err)
	}
	if ledger.mintCalls != 1 {
		t.Fatalf("re-mint must not reach the ledger, got %d calls", ledger.mintCalls)
	}

	after, _ := f.devices.FindByID(context.Background(), "D1")
	if after.PassportID() != before.PassportID() || !after.UpdatedAt().Equal(before.UpdatedAt()) {
		t.Fatal("local state must be unchanged after failed re-mint")
	}
}

func TestMintPassport_RemoteAlreadyMinted(t *testing.T) {
	f := newFixture(t, TelemetryStoreConfig{})
	f.registerDevice(t, "D1", testNow.AddDate(-1, 0, 0))
	ledger := newMockLedger()
	ledger.minted["D1"] = true
	uc := NewMintPassportUseCase(newPassportDeps(f, ledger), testLogger(), fixedNow)

	_, err := uc.Execute(context.Background(), "D1")
	if !errors.Is(err, domainerr.ErrAlreadyMinted) {
		t.Fatalf("expected ErrAlreadyMinted, got %v", err)
	}

	device, _ := f.devices.FindByID(context.Background(), "D1")
	if device.PassportID() != "" {
		t.Fatal("device must not reference a passport")
	}
	if _, err := f.passports.FindByDeviceID(context.Background(), "D1"); !errors.Is(err, domainerr.ErrNotFound) {
		t.Fatalf("no local passport expected, got %v", err)
	}
}

func TestTransferOwnership(t *testing.T) {
	f := newFixture(t, TelemetryStoreConfig{})
	f.registerDevice(t, "D1", testNow.AddDate(-1, 0, 0))
	ledger := newMockLedger()
	deps := newPassportDeps(f, ledger)
	deps.Syncer = NewSyncPassportUseCase(ledger, newMockOutbox(), f.passports, nil, SyncPassportConfig{}, testLogger(), fixedNow)

	if _, err := NewMintPassportUseCase(deps, testLogger(), fixedNow).Execute(context.Background(), "D1"); err != nil {
		t.Fatalf("mint error = %v", err)
	}

	uc := NewTransferOwnershipUseCase(deps, testLogger(), fixedNow)
	device, err := uc.Execute(context.Background(), "D1", TransferOwnershipRequest{NewOwner: "bob"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if device.Owner != "bob" {
		t.Fatalf("owner = %s", device.Owner)
	}

	passport, _ := f.passports.FindByDeviceID(context.Background(), "D1")
	if passport.Owner() != "bob" {
		t.Fatalf("passport owner = %s", passport.Owner())
	}
	if len(ledger.recorded) != 1 || ledger.recorded[0].Kind != LedgerKindOwnershipTransfer {
		t.Fatalf("expected ownership transfer on ledger, got %+v", ledger.recorded)
	}

	if _, err := uc.Execute(context.Background(), "D1", TransferOwnershipRequest{NewOwner: "  "}); !errors.Is(err, domainerr.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank owner, got %v", err)
	}
}
