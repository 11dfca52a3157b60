package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcdev12/qrhit/go/internal/models"
	"github.com/mcdev12/qrhit/go/internal/quiz/rpc"
)

const usage = `usage: scanctl [-server URL] <command> [args]

commands:
  create <channel_id> [-rounds N] [-timer SEC] [-host-plays]
  get <session_id>
  scan <channel_id> <content_id>
`

func main() {
	_ = godotenv.Load()

	server := flag.String("server", getEnv("QRHIT_URL", "http://localhost:8080"), "worker base URL")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	client := rpc.NewClient(&http.Client{Timeout: 10 * time.Second}, *server)
	ctx := context.Background()

	var (
		res any
		err error
	)
	switch cmd, args := flag.Arg(0), flag.Args()[1:]; cmd {
	case "create":
		res, err = create(ctx, client, args)
	case "get":
		if len(args) != 1 {
			fail("get needs a session id")
		}
		res, err = client.GetSession(ctx, &rpc.GetSessionRequest{SessionID: args[0]})
	case "scan":
		if len(args) != 2 {
			fail("scan needs a channel id and a content id")
		}
		res, err = client.HandleCardScan(ctx, &rpc.HandleCardScanRequest{
			ChannelID: parseID(args[0]),
			ContentID: parseID(args[1]),
		})
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fail(err.Error())
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		fail(err.Error())
	}
}

func create(ctx context.Context, client *rpc.Client, args []string) (*rpc.CreateSessionResponse, error) {
	if len(args) < 1 {
		fail("create needs a channel id")
	}
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	rounds := fs.Int("rounds", 0, "total rounds")
	timer := fs.Int("timer", 0, "round timer in seconds")
	hostPlays := fs.Bool("host-plays", false, "host answers too")
	if err := fs.Parse(args[1:]); err != nil {
		return nil, err
	}

	var patch models.GameSettingsPatch
	if *rounds > 0 {
		patch.TotalRounds = rounds
	}
	if *timer > 0 {
		patch.RoundTimer = timer
	}
	if *hostPlays {
		patch.HostPlays = hostPlays
	}
	return client.CreateSession(ctx, &rpc.CreateSessionRequest{
		ChannelID: parseID(args[0]),
		Settings:  patch,
	})
}

func parseID(s string) int64 {
	var id int64
	if _, err := fmt.Sscan(s, &id); err != nil || id <= 0 {
		fail(fmt.Sprintf("invalid id %q", s))
	}
	return id
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func fail(msg string) {
	fmt.Fprintf(os.Stderr, "scanctl: %s\n", msg)
	os.Exit(1)
}
