package models

import "gorm.io/gorm"

// CatalogTables are the rebuildable tables, dropped and re-created by a rebuild.
func CatalogTables() []interface{} {
	return []interface{}{
		&CanonicalItem{}, &Variant{}, &ItemVariantLink{}, &ItemAlias{}, &MergeHistory{},
	}
}

// CorpusTables survive rebuilds.
func CorpusTables() []interface{} {
	return []interface{}{
		&OrderLineItem{}, &SyncCursor{}, &SyncRun{}, &SyncError{},
	}
}

func MigrateTable(db *gorm.DB) error {
	tables := append(CatalogTables(), CorpusTables()...)
	return db.AutoMigrate(tables...)
}
