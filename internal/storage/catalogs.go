package storage

import (
	"context"
	"fmt"

	"github.com/Veraticus/notesync/internal/service"
)

// SaveCatalogVersion stores a catalog document. The newest version is active.
func (s *SQLiteStorage) SaveCatalogVersion(ctx context.Context, version service.CatalogVersion) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(version.Version, "version"); err != nil {
		return err
	}
	if err := validateString(version.Format, "format"); err != nil {
		return err
	}
	if len(version.Document) == 0 {
		return fmt.Errorf("%w: empty document", ErrInvalidCatalogEntry)
	}
	if version.CreatedAt.IsZero() {
		version.CreatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO catalog_versions (version, format, document, created_at)
		VALUES (?, ?, ?, ?)
	`, version.Version, version.Format, version.Document, version.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save catalog version: %w", err)
	}
	return nil
}

// GetActiveCatalogVersion returns the most recently saved catalog document.
func (s *SQLiteStorage) GetActiveCatalogVersion(ctx context.Context) (*service.CatalogVersion, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var v service.CatalogVersion
	err := s.db.QueryRowContext(ctx, `
		SELECT version, format, document, created_at
		FROM catalog_versions
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&v.Version, &v.Format, &v.Document, &v.CreatedAt)
	if err != nil {
		return nil, wrapNotFound(err, "catalog version", "active")
	}
	return &v, nil
}
