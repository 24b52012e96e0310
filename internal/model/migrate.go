package model

import "gorm.io/gorm"

// AutoMigrate runs GORM auto-migration for all models and creates custom indexes.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&ReferralCode{},
		&ReferralEdge{},
		&NetworkNode{},
		&NetworkStats{},
	); err != nil {
		return err
	}

	// One active code per owner; deactivated codes are kept for history.
	if err := db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_referral_codes_owner_active " +
			"ON referral_codes (owner_id) WHERE active",
	).Error; err != nil {
		return err
	}

	return db.Exec(
		"CREATE INDEX IF NOT EXISTS idx_network_nodes_parent_created " +
			"ON network_nodes (parent_id, created_at)",
	).Error
}
