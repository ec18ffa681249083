package repo

import (
	"errors"

	"gorm.io/gorm"
)

var (
	// ErrStaleVersion means the row changed between read and conditional write.
	ErrStaleVersion = errors.New("stale version")
	// ErrQuotaFull means the conditional usage increment matched no row.
	ErrQuotaFull = errors.New("promotion quota full")
	// ErrAlreadyReleased means the usage was released before.
	ErrAlreadyReleased = errors.New("usage already released")
)

type GormRepo struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *GormRepo {
	return &GormRepo{DB: db}
}
