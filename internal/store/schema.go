package store

import (
	"fmt"

	"gorm.io/gorm"
)

// curatedSelect keeps rows anchored on an application that the report does
// not list as problematic.
const curatedSelect = `SELECT * FROM loan_portfolio
WHERE application_id IS NOT NULL
  AND application_id <> ''
  AND application_id NOT IN (SELECT application_id FROM data_quality_problematic_ids)`

// CuratedViewStatement returns the dialect's create-or-replace statement.
func CuratedViewStatement(dialect string) (string, error) {
	switch dialect {
	case "sqlite":
		return "CREATE VIEW IF NOT EXISTS " + CuratedViewName + " AS " + curatedSelect, nil
	case "mysql", "postgres":
		return "CREATE OR REPLACE VIEW " + CuratedViewName + " AS " + curatedSelect, nil
	default:
		return "", fmt.Errorf("curated view: unsupported dialect %q", dialect)
	}
}

// EnsureSchema creates the output tables and the curated view through gorm.
// Postgres deployments use the versioned migrations instead.
func EnsureSchema(conn *gorm.DB) error {
	stmt, err := CuratedViewStatement(conn.Dialector.Name())
	if err != nil {
		return err
	}
	// The view pins loan_portfolio's columns; drop it so column changes can apply.
	if err := conn.Exec("DROP VIEW IF EXISTS " + CuratedViewName).Error; err != nil {
		return fmt.Errorf("drop %s: %w", CuratedViewName, err)
	}
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if err := conn.Exec(stmt).Error; err != nil {
		return fmt.Errorf("create %s: %w", CuratedViewName, err)
	}
	return nil
}
