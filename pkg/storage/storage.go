package storage

import (
	"github.com/tphan267/arqut-relay/pkg/storage/repositories"
	"gorm.io/gorm"
)

// Storage is the database storage interface
type Storage interface {
	// DB returns the underlying GORM database instance
	DB() *gorm.DB

	// EventRepo returns the connection event repository
	EventRepo() *repositories.EventRepository

	Close() error
}
