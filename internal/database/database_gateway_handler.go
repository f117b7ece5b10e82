package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"vpngw/internal/domain"
	"vpngw/internal/ippool"

	"gorm.io/gorm"
)

const defaultQueryTimeout = 5 * time.Second

// GatewayRepository is the gorm backed gateway store.
type GatewayRepository struct {
	db      *gorm.DB
	timeout time.Duration
}

func NewGatewayRepository(db *gorm.DB, timeout time.Duration) *GatewayRepository {
	if db == nil {
		db = DB
	}
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &GatewayRepository{db: db, timeout: timeout}
}

func (r *GatewayRepository) FindByCommonName(ctx context.Context, commonName string) (*domain.Gateway, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var gateway domain.Gateway
	err := r.db.WithContext(ctx).Where("common_name = ?", commonName).Take(&gateway).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrGatewayNotFound, commonName)
	}
	if err != nil {
		return nil, fmt.Errorf("database: find gateway %s: %w", commonName, err)
	}
	return &gateway, nil
}

func (r *GatewayRepository) FindByIPAddress(ctx context.Context, ipAddress string) (*domain.Gateway, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var gateway domain.Gateway
	err := r.db.WithContext(ctx).Where("ip_address = ?", ipAddress).Take(&gateway).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: no gateway holds %s", domain.ErrGatewayNotFound, ipAddress)
	}
	if err != nil {
		return nil, fmt.Errorf("database: find gateway by ip %s: %w", ipAddress, err)
	}
	return &gateway, nil
}

func (r *GatewayRepository) ListAll(ctx context.Context) ([]domain.Gateway, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var gateways []domain.Gateway
	if err := r.db.WithContext(ctx).Order("common_name ASC").Find(&gateways).Error; err != nil {
		return nil, fmt.Errorf("database: list gateways: %w", err)
	}
	return gateways, nil
}

// ListAssignments feeds the ip pool reconciliation.
func (r *GatewayRepository) ListAssignments(ctx context.Context) ([]ippool.Assignment, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []struct {
		CommonName string
		IPAddress  *string
	}
	err := r.db.WithContext(ctx).
		Model(&domain.Gateway{}).
		Select("common_name", "ip_address").
		Where("ip_address IS NOT NULL").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("database: list gateway assignments: %w", err)
	}

	assignments := make([]ippool.Assignment, 0, len(rows))
	for _, row := range rows {
		if row.IPAddress == nil {
			continue
		}
		assignments = append(assignments, ippool.Assignment{CommonName: row.CommonName, IPAddress: *row.IPAddress})
	}
	return assignments, nil
}

// Save inserts a new gateway. Gateways are never updated in place.
func (r *GatewayRepository) Save(ctx context.Context, gateway domain.Gateway) (*domain.Gateway, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&gateway).Error; err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("%w: %s", domain.ErrGatewayExists, gateway.CommonName)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("database: save gateway %s: %w", gateway.CommonName, err)
	}
	return &gateway, nil
}

func (r *GatewayRepository) DeleteByCommonName(ctx context.Context, commonName string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result := r.db.WithContext(ctx).Where("common_name = ?", commonName).Delete(&domain.Gateway{})
	if result.Error != nil {
		return fmt.Errorf("database: delete gateway %s: %w", commonName, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrGatewayNotFound, commonName)
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key value violates unique constraint") ||
		strings.Contains(msg, "unique constraint failed")
}
