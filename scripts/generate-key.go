//go:build ignore

// generate-key prints a random access token signing secret.
//
//	go run scripts/generate-key.go
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
)

func main() {
	b := make([]byte, 48)
	if _, err := rand.Read(b); err != nil {
		log.Fatal(err)
	}
	secret := base64.RawURLEncoding.EncodeToString(b)

	fmt.Println("==========================================================")
	fmt.Println("Signing Secret Generated")
	fmt.Println("==========================================================")
	fmt.Printf("\nTNT_AUTH_JWT_SECRET=%s\n\n", secret)
	fmt.Println("Rotating the secret invalidates every issued token.")
	fmt.Println("==========================================================")
}
