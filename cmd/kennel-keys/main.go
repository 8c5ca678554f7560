// Command kennel-keys generates VAPID key pairs and signs bearer tokens for
// operators and relay peers.
//
//	kennel-keys vapid
//	kennel-keys token -user ops -role admin
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dukerupert/kennel/internal/auth"
	"github.com/dukerupert/kennel/internal/config"
	"github.com/dukerupert/kennel/internal/push"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "vapid":
		public, private, err := push.GenerateVAPIDKeys()
		if err != nil {
			slog.Error("generate vapid keys", "error", err)
			os.Exit(1)
		}
		fmt.Printf("KENNEL_VAPID_PUBLIC_KEY=%s\nKENNEL_VAPID_PRIVATE_KEY=%s\n", public, private)

	case "token":
		fs := flag.NewFlagSet("token", flag.ExitOnError)
		user := fs.String("user", "", "user id to put in sub")
		role := fs.String("role", "", "role claim, e.g. admin")
		ttl := fs.Duration("ttl", 0, "token lifetime (default KENNEL_JWT_EXPIRY)")
		fs.Parse(os.Args[2:])

		if *user == "" {
			fmt.Fprintln(os.Stderr, "-user is required")
			os.Exit(2)
		}
		cfg, err := config.Load()
		if err != nil {
			slog.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		if cfg.JWTSecret == "" {
			slog.Error("KENNEL_JWT_SECRET is required")
			os.Exit(1)
		}
		expiry := cfg.JWTExpiry
		if *ttl > 0 {
			expiry = *ttl
		}
		token, err := auth.NewJWTManager(cfg.JWTSecret, expiry).GenerateToken(*user, *role)
		if err != nil {
			slog.Error("sign token", "error", err)
			os.Exit(1)
		}
		fmt.Println(token)
		fmt.Fprintf(os.Stderr, "expires %s\n", time.Now().Add(expiry).Format(time.RFC3339))

	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: kennel-keys vapid | token -user ID [-role ROLE] [-ttl DURATION]")
}
