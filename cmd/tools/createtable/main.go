package main

import (
	"log"
	"os"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func main() {
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatal("DB_DSN environment variable is required")
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get DB: %v", err)
	}

	sql := `
	CREATE TABLE IF NOT EXISTS payments (
	  id CHAR(36) NOT NULL,
	  creator CHAR(36) NOT NULL,
	  amount VARCHAR(32) NOT NULL,
	  currency CHAR(3) NULL,
	  service VARCHAR(64) NULL,
	  service_id VARCHAR(128) NULL,
	  status VARCHAR(16) NOT NULL,
	  validated TINYINT(1) NULL,
	  orders JSON NOT NULL,
	  error JSON NULL,
	  pending_key CHAR(36) NULL,
	  created DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
	  PRIMARY KEY (id),
	  KEY ix_payments_creator_status (creator, status),
	  UNIQUE KEY ux_payments_pending_key (pending_key)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
	`

	if _, err := sqlDB.Exec(sql); err != nil {
		log.Fatalf("Failed to create tables: %v", err)
	}

	log.Println("payments table ready")
}
