package models

import (
	"log"

	"github.com/mmdatafocus/lg_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Business{}, &User{},
		&Bank{}, &Currency{}, &LgCategory{},
		&LgRecord{}, &LgChangeLog{},
		&StagingRecord{}, &MigrationBatch{},
		&Document{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
