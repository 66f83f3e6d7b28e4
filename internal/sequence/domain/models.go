// Package domain contains persistence models for gap-free document numbering.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// SequenceCounter stores the next number to issue for one numbering key.
// Rows are created lazily on first allocation and never deleted; the counter
// only moves forward.
type SequenceCounter struct {
	OrgID        snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	SeriesCode   string       `gorm:"primaryKey;type:text"`
	DocumentType string       `gorm:"primaryKey;type:text"`
	FiscalYear   int          `gorm:"primaryKey;autoIncrement:false"`
	NextNumber   int64        `gorm:"not null;default:1"`
	CreatedAt    time.Time    `gorm:"not null"`
	UpdatedAt    time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (SequenceCounter) TableName() string { return "sequence_counters" }

type AllocateRequest struct {
	OrgID        snowflake.ID
	SeriesCode   string
	DocumentType string
	FiscalYear   int
}

// Allocation is one issued number with its formatted label.
type Allocation struct {
	Number int64
	Label  string
}

type Service interface {
	// Allocate issues the next number inside its own transaction.
	Allocate(ctx context.Context, req AllocateRequest) (Allocation, error)
	// AllocateTx issues the next number inside the caller's transaction; the
	// series row lock it takes also serializes chain signing for the series.
	AllocateTx(ctx context.Context, tx *gorm.DB, req AllocateRequest) (Allocation, error)
}

var (
	ErrSeriesNotFound     = errors.New("series_not_found")
	ErrSeriesLocked       = errors.New("series_locked")
	ErrFiscalYearTooOld   = errors.New("fiscal_year_too_old")
	ErrAllocationConflict = errors.New("allocation_conflict")
)
