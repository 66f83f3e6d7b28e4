// Package domain contains persistence models for fiscal series.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Series identifies one numbering lineage of an organization. Documents in a
// series share a gap-free number sequence and a fingerprint chain.
type Series struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"not null;index;uniqueIndex:ux_series_org_code"`
	Code      string       `gorm:"type:text;not null;uniqueIndex:ux_series_org_code"`
	Name      string       `gorm:"type:text"`
	Locked    bool         `gorm:"not null;default:false"`
	CreatedAt time.Time    `gorm:"not null"`
	UpdatedAt time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Series) TableName() string { return "fiscal_series" }

type CreateSeriesRequest struct {
	Code string `json:"code" binding:"required"`
	Name string `json:"name"`
}

type Service interface {
	Create(ctx context.Context, req CreateSeriesRequest) (Series, error)
	List(ctx context.Context) ([]Series, error)
	Lock(ctx context.Context, code string) error
	Unlock(ctx context.Context, code string) error
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidSeriesCode   = errors.New("invalid_series_code")
	ErrSeriesExists        = errors.New("series_exists")
	ErrSeriesNotFound      = errors.New("series_not_found")
)
