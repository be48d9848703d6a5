package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"ride-dispatch/internal/cli"
)

func main() {
	var (
		subjectID = flag.String("subject-id", "", "UUID of the passenger or driver (subject)")
		role      = flag.String("role", "PASSENGER", "Subject role: PASSENGER | DRIVER")
		secret    = flag.String("secret", "", "JWT HMAC secret (HS256)")
		ttl       = flag.Duration("ttl", 2*time.Hour, "Token lifetime")
	)
	flag.Parse()

	if *subjectID == "" || *secret == "" {
		fmt.Fprintln(os.Stderr, "usage: key --subject-id=<uuid> --role=PASSENGER --secret='<secret>' [--ttl=2h]")
		os.Exit(2)
	}

	token, claims, err := cli.GenerateToken(*secret, *subjectID, strings.ToUpper(*role), *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	fmt.Println("TOKEN:")
	fmt.Println(token)
	fmt.Println("\nCLAIMS:")
	fmt.Printf("  sub:  %s\n", claims.Subject)
	fmt.Printf("  role: %s\n", claims.Role)
	fmt.Printf("  iat:  %s\n", claims.IssuedAt.Time.UTC().Format(time.RFC3339))
	fmt.Printf("  exp:  %s\n", claims.ExpiresAt.Time.UTC().Format(time.RFC3339))
}
