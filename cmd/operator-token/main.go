// Command operator-token mints a bearer token for the operator REST routes.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/climbclub/ticketdesk/pkg/auth"
	"github.com/climbclub/ticketdesk/pkg/config"
	"github.com/climbclub/ticketdesk/pkg/discord"
)

func main() {
	_ = godotenv.Load()

	id := flag.String("id", "", "operator chat user id")
	name := flag.String("name", "", "operator display name")
	flag.Parse()

	if !discord.IsSnowflake(*id) {
		fmt.Fprintln(os.Stderr, "missing or malformed -id")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	token, err := auth.MintOperatorToken(cfg.Operator, time.Now(), *id, *name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to mint token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
