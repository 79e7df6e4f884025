package repository

import (
	"database/sql"

	"gorm.io/gorm"
)

// Repository is the read-only configuration-store facade spec.md §4.6
// names, holding both the teacher's DB layers side by side: gdb owns
// schema and the relational reads, sdb owns the current_values
// hot-path read.
type Repository struct {
	gdb *gorm.DB
	sdb *sql.DB
}

// Open opens both connections against the same SQLite file and
// migrates the GORM-owned schema.
func Open(path string) (*Repository, error) {
	gdb, err := openORM(path)
	if err != nil {
		return nil, err
	}
	if err := migrateORM(gdb); err != nil {
		return nil, err
	}
	sdb, err := openCurrentValuesDB(path)
	if err != nil {
		return nil, err
	}
	return &Repository{gdb: gdb, sdb: sdb}, nil
}

// Close releases both underlying connections.
func (r *Repository) Close() error {
	sqlDB, err := r.gdb.DB()
	if err == nil {
		_ = sqlDB.Close()
	}
	return r.sdb.Close()
}
