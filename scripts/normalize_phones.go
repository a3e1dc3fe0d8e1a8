package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/AlexTLDR/evite-checkin/internal/database"
	"github.com/AlexTLDR/evite-checkin/internal/utils"
)

func main() {
	driver := os.Getenv("DATABASE_DRIVER")
	if driver == "" {
		driver = database.DriverSQLite
	}
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "./evite.db"
	}
	region := os.Getenv("PHONE_REGION")

	db, err := database.New(driver, dsn)
	if err != nil {
		logrus.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()

	phones, err := db.ListGuestPhones(ctx)
	if err != nil {
		logrus.Fatalf("Failed to query guests: %v", err)
	}

	fmt.Printf("Found %d guests with a phone number to process\n", len(phones))

	// Normalize each phone number
	updated := 0
	failed := 0
	for id, phone := range phones {
		normalized, err := utils.NormalizePhoneNumber(phone, region)
		if err != nil {
			logrus.Warnf("Failed to normalize phone %q (ID: %d): %v", phone, id, err)
			failed++
			continue
		}

		// Only update if the phone number changed
		if normalized != phone {
			if err := db.UpdateGuestPhone(ctx, id, normalized); err != nil {
				logrus.Errorf("Failed to update phone for ID %d: %v", id, err)
				failed++
				continue
			}
			fmt.Printf("Updated ID %d: %q -> %q\n", id, phone, normalized)
			updated++
		}
	}

	fmt.Printf("\nSummary:\n")
	fmt.Printf("  Total: %d\n", len(phones))
	fmt.Printf("  Updated: %d\n", updated)
	fmt.Printf("  Failed: %d\n", failed)
	fmt.Printf("  Unchanged: %d\n", len(phones)-updated-failed)
}
