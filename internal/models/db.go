// Package models provides GORM models with Django-style managers for users,
// projects, documents, revisions, assignments and annotations.
package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"constructionpro/internal/common"
)

// DB holds the database connection and all model managers
type DB struct {
	*gorm.DB
	Users       *UserManager
	Projects    *ProjectManager
	Documents   *DocumentManager
	Assignments *AssignmentManager
	Revisions   *RevisionManager
	Metadata    *MetadataManager
	Annotations *AnnotationManager
}

func newDB(gormDB *gorm.DB) *DB {
	return &DB{
		DB:          gormDB,
		Users:       NewUserManager(gormDB),
		Projects:    NewProjectManager(gormDB),
		Documents:   NewDocumentManager(gormDB),
		Assignments: NewAssignmentManager(gormDB),
		Revisions:   NewRevisionManager(gormDB),
		Metadata:    NewMetadataManager(gormDB),
		Annotations: NewAnnotationManager(gormDB),
	}
}

// Open creates a DB over any GORM dialector.
func Open(dialector gorm.Dialector, level logger.LogLevel) (*DB, error) {
	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return newDB(gormDB), nil
}

// NewPostgres wraps an existing pgx-backed *sql.DB.
func NewPostgres(sqlDB *sql.DB, level logger.LogLevel) (*DB, error) {
	return Open(postgres.New(postgres.Config{Conn: sqlDB}), level)
}

// ParseLogLevel maps a config string onto a GORM log level.
func ParseLogLevel(s string) logger.LogLevel {
	switch s {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// AutoMigrate runs GORM auto-migration for all models
func (db *DB) AutoMigrate() error {
	return db.DB.AutoMigrate(
		&User{},
		&Project{},
		&Document{},
		&DocumentAssignment{},
		&DocumentRevision{},
		&DocumentMetadata{},
		&Annotation{},
	)
}

// WithContext returns a copy whose managers run queries under ctx.
func (db *DB) WithContext(ctx context.Context) *DB {
	return newDB(db.DB.WithContext(ctx))
}

// Transaction runs a function within a database transaction
func (db *DB) Transaction(ctx context.Context, fn func(*DB) error) error {
	return db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(newDB(tx))
	})
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Django-like convenience methods

// GetObjectOr404 retrieves an object or returns common.ErrNotFound
func GetObjectOr404[T any](db *gorm.DB, conditions ...interface{}) (*T, error) {
	var obj T
	err := db.First(&obj, conditions...).Error
	if err != nil {
		return nil, translate(err)
	}
	return &obj, nil
}

// Exists checks if a record exists (similar to Django's exists())
func Exists[T any](db *gorm.DB, conditions ...interface{}) (bool, error) {
	var count int64
	err := db.Model(new(T)).Where(conditions[0], conditions[1:]...).Limit(1).Count(&count).Error
	return count > 0, err
}

// BulkCreate creates multiple records (similar to Django's bulk_create)
func BulkCreate[T any](db *gorm.DB, objects []T) error {
	if len(objects) == 0 {
		return nil
	}
	return translate(db.CreateInBatches(objects, 100).Error)
}

// Count returns the count of records (similar to Django's count())
func Count[T any](db *gorm.DB, conditions ...interface{}) (int64, error) {
	var count int64
	query := db.Model(new(T))
	if len(conditions) > 0 {
		query = query.Where(conditions[0], conditions[1:]...)
	}
	err := query.Count(&count).Error
	return count, err
}

// translate maps GORM errors onto the shared sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %v", common.ErrNotFound, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", common.ErrConflict, err)
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return fmt.Errorf("%w: %v", common.ErrValidation, err)
	default:
		return err
	}
}
