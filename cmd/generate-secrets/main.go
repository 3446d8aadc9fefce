package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hotelease/checkout-backend/internal/utils"
	"github.com/hotelease/checkout-backend/pkg/jwt"
)

func main() {
	var (
		issueToken bool
		userID     string
		email      string
		ttl        time.Duration
	)
	flag.BoolVar(&issueToken, "token", false, "issue a guest access token signed with JWT_SECRET instead of generating secrets")
	flag.StringVar(&userID, "user", "", "guest user id for -token (random when empty)")
	flag.StringVar(&email, "email", "guest@example.com", "guest email for -token")
	flag.DurationVar(&ttl, "ttl", time.Hour, "token lifetime for -token")
	flag.Parse()

	if issueToken {
		printGuestToken(userID, email, ttl)
		return
	}

	fmt.Println("===========================================")
	fmt.Println("Secret generator for the HotelEase checkout")
	fmt.Println("===========================================")
	fmt.Println()

	jwtSecret, err := utils.GenerateSecret(32)
	if err != nil {
		log.Fatalf("Failed to generate secrets: %v", err)
	}

	fmt.Println("Add this to your .env file:")
	fmt.Println()
	fmt.Printf("JWT_SECRET=%s\n", jwtSecret)
	fmt.Println()
	fmt.Println("It must match the secret the auth service signs guest tokens with.")
	fmt.Println("===========================================")
}

// printGuestToken mints a token for local testing against a running server
func printGuestToken(userID, email string, ttl time.Duration) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is not set")
	}

	id := uuid.New()
	if userID != "" {
		parsed, err := uuid.Parse(userID)
		if err != nil {
			log.Fatalf("invalid -user: %v", err)
		}
		id = parsed
	}

	token, err := jwt.NewService(secret, ttl).GenerateAccessToken(id, email, []string{"guest"})
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}

	fmt.Printf("user_id: %s\n", id)
	fmt.Printf("Authorization: Bearer %s\n", token)
}
