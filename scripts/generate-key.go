// Package main is a development utility that generates a session signing
// secret and a service bypass key. When a user id is given and ORBIT_AUTH_SESSION_SECRET
// is set, it also prints a signed session token for that user so protected
// routes can be exercised locally without a login flow. Do not use generated
// tokens in production.
//
// Usage: go run scripts/generate-key.go [user-id]
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/orbit-workspaces/orbit/internal/auth"
)

func randomKey(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		log.Fatal(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func main() {
	fmt.Println("==========================================================")
	fmt.Println("Orbit keys")
	fmt.Println("==========================================================")
	fmt.Printf("\nORBIT_AUTH_SESSION_SECRET=%s\n", randomKey(48))
	fmt.Printf("ORBIT_AUTH_SERVICE_KEY=%s\n", randomKey(32))

	if len(os.Args) < 2 {
		return
	}

	userID, err := strconv.ParseInt(os.Args[1], 10, 64)
	if err != nil || userID <= 0 {
		log.Fatalf("invalid user id: %s", os.Args[1])
	}
	secret := os.Getenv("ORBIT_AUTH_SESSION_SECRET")
	if secret == "" {
		log.Fatal("ORBIT_AUTH_SESSION_SECRET must be set to sign a session token")
	}

	signer, err := auth.NewSessionSigner(secret, 24*time.Hour)
	if err != nil {
		log.Fatal(err)
	}
	token, err := signer.Issue(userID)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("\n==========================================================")
	fmt.Printf("Session token for user %d (24h)\n", userID)
	fmt.Println("==========================================================")
	fmt.Printf("\nAuthorization Header: Bearer %s\n", token)
}
