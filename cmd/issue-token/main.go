package main

import (
	"flag"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/stemsi/exstem-exam-engine/internal/config"
	"github.com/stemsi/exstem-exam-engine/internal/service"
	"golang.org/x/term"
)

// issue-token signs a bearer token for local testing and for operators who
// need to act as a user without the identity provider.
func main() {
	var (
		userID int
		role   string
		ttl    time.Duration
	)
	flag.IntVar(&userID, "user", 0, "User ID to embed in the token")
	flag.StringVar(&role, "role", string(service.RoleStudent), "Role: student, instructor or admin")
	flag.DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to JWT_EXPIRY_HOURS)")
	flag.Parse()

	if userID <= 0 {
		fmt.Println("Error: -user must be a positive ID")
		flag.PrintDefaults()
		os.Exit(2)
	}

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// The config default secret is for development only; ask for the real
	// one when the environment does not carry it.
	if os.Getenv("JWT_SECRET") == "" {
		fmt.Print("Enter JWT secret: ")
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			fmt.Println("Error reading secret")
			os.Exit(1)
		}
		if len(secret) == 0 {
			fmt.Println("Error: secret is required")
			os.Exit(1)
		}
		cfg.JWTSecret = string(secret)
	}

	token, err := service.NewAuthService(cfg).GenerateToken(userID, service.Role(role), ttl)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
