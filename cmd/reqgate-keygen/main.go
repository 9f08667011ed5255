// Command reqgate-keygen prints a new API key and the bcrypt hash to put in
// api_key_hashes or admin_key_hashes.
package main

import (
	"fmt"
	"os"

	"github.com/sertdev/reqgate/internal/auth"
)

func main() {
	key, hash, err := auth.GenerateKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate key: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("key:  %s\nhash: %s\n", key, hash)
}
