// Package main prints the bcrypt hash of an admin password using the work factor
// the server is configured with. Operators use it to reset a locked-out admin by
// writing the hash straight into admins.password_hash.
//
//	go run ./cmd/hash 'new-password'
//	echo -n 'new-password' | go run ./cmd/hash
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/tenant-service/tenant-service/internal/auth"
)

func main() {
	defaultCost := auth.DefaultBcryptCost
	if v, err := strconv.Atoi(os.Getenv("TNT_AUTH_BCRYPT_COST")); err == nil {
		defaultCost = v
	}
	cost := flag.Int("cost", defaultCost, "bcrypt work factor (default TNT_AUTH_BCRYPT_COST)")
	flag.Parse()

	password := flag.Arg(0)
	if password == "" {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			log.Fatalf("usage: %s [-cost N] <password>", os.Args[0])
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if len(password) < 6 {
		log.Fatal("password must be at least 6 characters")
	}

	hasher, err := auth.NewPasswordHasher(*cost)
	if err != nil {
		log.Fatal(err)
	}
	hash, err := hasher.Hash(password)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(hash)
}
