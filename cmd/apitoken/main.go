// Command apitoken prints a bearer token and the bcrypt hash to put in API_TOKEN_HASH.
// With an argument it hashes that token instead of generating one.
package main

import (
	"fmt"
	"os"

	"github.com/note-capture/note-capture/internal/domain/apitoken"
)

func main() {
	token := ""
	if len(os.Args) > 1 {
		token = os.Args[1]
	} else {
		t, err := apitoken.Generate()
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate token: %v\n", err)
			os.Exit(1)
		}
		token = t
	}
	hash, err := apitoken.Hash(token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash token: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("token: %s\n", token)
	fmt.Printf("API_TOKEN_HASH=%s\n", hash)
}
