package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
)

// PassportRepository хранит локальные копии паспортов
type PassportRepository struct {
	db *sql.DB
}

// NewPassportRepository создает новый repository
func NewPassportRepository(db *sql.DB) *PassportRepository {
	return &PassportRepository{db: db}
}

// Create сохраняет паспорт; повторный выпуск - ErrAlreadyMinted
func (r *PassportRepository) Create(ctx context.Context, passport *entity.Passport) error {
	m, err := ToPassportDBModel(passport)
	if err != nil {
		return fmt.Errorf("failed to convert passport to DB model: %w", err)
	}

	query := `INSERT INTO passports (` + passportColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = r.db.ExecContext(ctx, query,
		m.DeviceID, m.LedgerRef, m.TxHash, m.Owner, m.MintedAt, m.LastSyncedAt, m.Profile,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", domainerr.ErrAlreadyMinted, passport.DeviceID())
	}
	if err != nil {
		return fmt.Errorf("failed to insert passport: %w", err)
	}
	return nil
}

// Update сохраняет профиль, владельца и последнюю транзакцию
func (r *PassportRepository) Update(ctx context.Context, passport *entity.Passport) error {
	m, err := ToPassportDBModel(passport)
	if err != nil {
		return fmt.Errorf("failed to convert passport to DB model: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE passports
		SET tx_hash = $2, owner = $3, last_synced_at = $4, profile = $5
		WHERE device_id = $1
	`, m.DeviceID, m.TxHash, m.Owner, m.LastSyncedAt, m.Profile)
	if err != nil {
		return fmt.Errorf("failed to update passport: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: passport for %s", domainerr.ErrNotFound, passport.DeviceID())
	}
	return nil
}

// FindByDeviceID находит паспорт устройства
func (r *PassportRepository) FindByDeviceID(ctx context.Context, deviceID string) (*entity.Passport, error) {
	query := `SELECT ` + passportColumns + ` FROM passports WHERE device_id = $1`

	model, err := ScanPassportRow(r.db.QueryRowContext(ctx, query, deviceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: passport for %s", domainerr.ErrNotFound, deviceID)
		}
		return nil, fmt.Errorf("failed to scan passport: %w", err)
	}
	return ToPassport(model)
}
