package main

import (
	"log"

	"github.com/minhvudev/dealerdesk/internal/config"
	"github.com/minhvudev/dealerdesk/internal/model"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Seeds demo dealer accounts for local development.
func main() {
	cfg := config.Load()

	db, err := gorm.Open(postgres.Open(cfg.DB.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	log.Println("✅ Connected to PostgreSQL")

	// Common password for all demo accounts
	hashed, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("❌ Failed to hash password: %v", err)
	}

	accounts := []model.Account{
		{DealerName: "Prime Motors Hanoi", Email: "prime.hanoi@dealerdesk.local", Phone: "0901234561"},
		{DealerName: "Saigon Auto Gallery", Email: "saigon.gallery@dealerdesk.local", Phone: "0901234562"},
		{DealerName: "Delta Trucks Can Tho", Email: "delta.cantho@dealerdesk.local", Phone: "0901234563"},
		{DealerName: "Highland Wheels", Email: "highland.wheels@dealerdesk.local", Phone: "0901234564"},
		{DealerName: "Coastal Riders Da Nang", Email: "coastal.danang@dealerdesk.local", Phone: "0901234565"},
	}

	created := 0
	for _, acc := range accounts {
		var existing model.Account
		if err := db.Where("email = ?", acc.Email).First(&existing).Error; err == nil {
			log.Printf("⏭️  Account already exists: %s", acc.Email)
			continue
		}

		acc.PasswordHash = string(hashed)
		acc.IsActive = true
		if err := db.Create(&acc).Error; err != nil {
			log.Printf("❌ Failed to create account %s: %v", acc.Email, err)
			continue
		}
		log.Printf("✅ Created account: %s (%s)", acc.DealerName, acc.Email)
		created++
	}

	log.Printf("🎉 Seeding complete: %d account(s) created, password is \"password123\"", created)
}
