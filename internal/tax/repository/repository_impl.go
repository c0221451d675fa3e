package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/recurhq/recur/internal/tax/domain"
	"github.com/recurhq/recur/pkg/db/option"
	"gorm.io/gorm"
)

const rateColumns = `id, location, name, rate, active, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, rate *domain.TaxRate) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO tax_rates (`+rateColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rate.ID,
		rate.Location,
		rate.Name,
		rate.Rate,
		rate.Active,
		rate.CreatedAt,
		rate.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, rate *domain.TaxRate) error {
	return db.WithContext(ctx).Exec(
		`UPDATE tax_rates SET name = ?, rate = ?, active = ?, updated_at = ? WHERE id = ?`,
		rate.Name,
		rate.Rate,
		rate.Active,
		rate.UpdatedAt,
		rate.ID,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.TaxRate, error) {
	var rate domain.TaxRate
	err := db.WithContext(ctx).Raw(
		`SELECT `+rateColumns+` FROM tax_rates WHERE id = ?`, id,
	).Scan(&rate).Error
	if err != nil {
		return nil, err
	}
	if rate.ID == 0 {
		return nil, nil
	}
	return &rate, nil
}

func (r *repo) FindActiveByLocation(ctx context.Context, db *gorm.DB, location string) (*domain.TaxRate, error) {
	var rate domain.TaxRate
	err := db.WithContext(ctx).Raw(
		`SELECT `+rateColumns+` FROM tax_rates WHERE location = ? AND active = ?`, location, true,
	).Scan(&rate).Error
	if err != nil {
		return nil, err
	}
	if rate.ID == 0 {
		return nil, nil
	}
	return &rate, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListRateRequest) ([]domain.TaxRate, error) {
	var items []domain.TaxRate
	stmt := db.WithContext(ctx).Model(&domain.TaxRate{})

	if filter.Location != "" {
		stmt = stmt.Where("location = ?", filter.Location)
	}
	if filter.Active != nil {
		stmt = stmt.Where("active = ?", *filter.Active)
	}

	stmt = option.WithSortBy(option.WithQuerySortBy(filter.SortBy, filter.OrderBy, map[string]bool{
		"created_at": true,
		"updated_at": true,
		"location":   true,
		"rate":       true,
	})).Apply(stmt)

	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
