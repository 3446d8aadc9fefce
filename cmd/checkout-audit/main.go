package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hotelease/checkout-backend/internal/config"
	"github.com/hotelease/checkout-backend/internal/database"
	"github.com/hotelease/checkout-backend/internal/models"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// checkout-audit prints the audit trail for a booking or session, or the charged-but-unconfirmed report
func main() {
	var (
		dbURLFlag string
		bookingID string
		sessionID string
		since     time.Duration
	)
	flag.StringVar(&dbURLFlag, "database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	flag.StringVar(&bookingID, "booking", "", "print every audit row for this booking id")
	flag.StringVar(&sessionID, "session", "", "print every audit row for this checkout session id")
	flag.DurationVar(&since, "since", 24*time.Hour, "with no booking or session, list reconciliation failures newer than this")
	flag.Parse()

	// Optional; avoids passing secrets on the command line
	_ = godotenv.Load()

	dbURL := dbURLFlag
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set and -database-url was not provided")
	}

	db, err := database.NewConnection(config.DatabaseConfig{
		URL:                dbURL,
		MaxConnections:     2,
		MaxIdleConnections: 1,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	repo := database.NewCheckoutAuditRepository(db, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var audits []*models.CheckoutAudit
	switch {
	case bookingID != "":
		audits, err = repo.GetByBooking(ctx, bookingID)
	case sessionID != "":
		id, parseErr := uuid.Parse(sessionID)
		if parseErr != nil {
			log.Fatalf("invalid -session: %v", parseErr)
		}
		audits, err = repo.GetBySession(ctx, id)
	default:
		audits, err = repo.ListReconciliationFailures(ctx, time.Now().Add(-since))
		if err == nil {
			fmt.Printf("Reconciliation failures in the last %s: %d\n", since, len(audits))
		}
	}
	if err != nil {
		log.Fatalf("query failed: %v", err)
	}

	fmt.Println("----------------------------------------------")
	for _, a := range audits {
		fmt.Printf("%s | %-24s | %-15s | booking=%s intent=%s",
			a.CreatedAt.Format(time.RFC3339), a.EventType, a.EventSource,
			deref(a.BookingID), deref(a.PaymentIntentID))
		if a.Amount != nil {
			fmt.Printf(" amount=%.2f %s", *a.Amount, deref(a.Currency))
		}
		if a.ErrorKind != nil {
			fmt.Printf(" error=%s: %s", *a.ErrorKind, deref(a.ErrorMessage))
		}
		fmt.Println()
	}
	fmt.Println("----------------------------------------------")
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
