// Command autobotctl is an operator CLI for the draft pipeline: manual runs,
// sweeps, ledger inspection and account setup.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"

	"github.com/pkg/browser"

	"github.com/AdamTech2025/twitter-autobot/internal/app"
	"github.com/AdamTech2025/twitter-autobot/internal/auth"
	"github.com/AdamTech2025/twitter-autobot/internal/config"
	"github.com/AdamTech2025/twitter-autobot/internal/logging"
	"github.com/AdamTech2025/twitter-autobot/internal/store"
	"github.com/AdamTech2025/twitter-autobot/internal/types"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	args := os.Args[2:]
	switch os.Args[1] {
	case "run":
		runPipeline(ctx)
	case "sweep":
		runSweep(ctx)
	case "drafts":
		runDrafts(ctx, args)
	case "confirm":
		if len(args) < 1 {
			fmt.Println("Usage: autobotctl confirm <token>")
			os.Exit(1)
		}
		runConfirm(ctx, args[0])
	case "add-user":
		runAddUser(ctx, args)
	case "gen-seal-key":
		key, err := auth.GenerateKey()
		if err != nil {
			log.Fatalf("Failed to generate key: %v", err)
		}
		fmt.Println(key)
	case "open":
		if len(args) < 1 {
			fmt.Println("Usage: autobotctl open <config|cache>")
			os.Exit(1)
		}
		runOpen(args[0])
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: autobotctl <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run            Run the pipeline once as a manual trigger")
	fmt.Println("  sweep          Expire drafts whose confirmation window has passed")
	fmt.Println("  drafts         List drafts (-status, -user, -run, -limit)")
	fmt.Println("  confirm TOKEN  Confirm a draft and publish it")
	fmt.Println("  add-user       Register a user and their publishing credential")
	fmt.Println("  gen-seal-key   Print a fresh credential seal key")
	fmt.Println("  open config    Open config file in default editor")
	fmt.Println("  open cache     Open cache directory in file explorer")
}

func mustLoadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func mustApp(ctx context.Context) *app.App {
	cfg := mustLoadConfig()
	a, err := app.New(ctx, cfg, logging.New(cfg.Logging.Level, cfg.Logging.Format))
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	return a
}

func mustLedger(ctx context.Context) *store.Store {
	cfg := mustLoadConfig()
	ledger, err := app.OpenLedger(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open ledger: %v", err)
	}
	return ledger
}

func runPipeline(ctx context.Context) {
	a := mustApp(ctx)
	defer a.Close()

	go func() {
		<-ctx.Done()
		a.Coordinator.Cancel()
	}()

	summary, err := a.Coordinator.Trigger(ctx, types.TriggerManual)
	if err != nil {
		log.Fatalf("Run failed: %v", err)
	}
	printJSON(summary)
}

func runSweep(ctx context.Context) {
	ledger := mustLedger(ctx)
	defer ledger.Close()

	n, err := ledger.SweepExpired(ctx, ledger.Now())
	if err != nil {
		log.Fatalf("Sweep failed: %v", err)
	}
	fmt.Printf("Expired %d draft(s)\n", n)
}

func runDrafts(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("drafts", flag.ExitOnError)
	status := fs.String("status", "", "only drafts in this status")
	user := fs.Int64("user", 0, "only drafts for this user id")
	run := fs.Int64("run", 0, "only drafts from this run id")
	limit := fs.Uint64("limit", 50, "maximum drafts to list")
	_ = fs.Parse(args)

	ledger := mustLedger(ctx)
	defer ledger.Close()

	drafts, err := ledger.ListDrafts(ctx, store.DraftFilter{
		UserID: *user,
		RunID:  *run,
		Status: types.Status(*status),
		Limit:  *limit,
	})
	if err != nil {
		log.Fatalf("Failed to list drafts: %v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSER\tRUN\tTOPIC\tSTATUS\tEXPIRES\tPOST")
	for _, d := range drafts {
		fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\t%s\t%s\n",
			d.ID, d.UserID, d.RunID, d.Topic, d.Status,
			d.ExpiresAt.Format("2006-01-02 15:04"), d.ExternalPostID)
	}
	w.Flush()
}

func runConfirm(ctx context.Context, token string) {
	a := mustApp(ctx)
	defer a.Close()

	out, err := a.Confirm.Confirm(ctx, token)
	if err != nil {
		log.Fatalf("Confirm failed: %v", err)
	}
	printJSON(out)
}

func runAddUser(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("add-user", flag.ExitOnError)
	name := fs.String("name", "", "screen name (required)")
	email := fs.String("email", "", "address for confirmation mail")
	topics := fs.String("topics", "", "comma separated topics")
	platform := fs.String("platform", config.PlatformX, "publishing platform")
	token := fs.String("token", "", "platform access token")
	secret := fs.String("secret", "", "platform access token secret")
	inactive := fs.Bool("inactive", false, "register without scheduling runs")
	_ = fs.Parse(args)

	if *name == "" {
		fs.Usage()
		os.Exit(1)
	}

	cfg := mustLoadConfig()
	ledger, err := app.OpenLedger(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open ledger: %v", err)
	}
	defer ledger.Close()

	u, err := ledger.UpsertUser(ctx, types.User{
		ScreenName: *name,
		Email:      *email,
		Topics:     strings.Split(*topics, ","),
		Active:     !*inactive,
	})
	if err != nil {
		log.Fatalf("Failed to save user: %v", err)
	}

	if *token != "" {
		logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
		creds, err := app.NewCredentialStore(cfg, ledger, logging.Component(logger, "auth"))
		if err != nil {
			log.Fatalf("Failed to open credential store: %v", err)
		}
		err = creds.Put(ctx, types.Credential{UserID: u.ID, Platform: *platform, Token: *token, Secret: *secret})
		if err != nil {
			log.Fatalf("Failed to save credential: %v", err)
		}
	}
	printJSON(u)
}

func runOpen(target string) {
	var path string
	var err error

	switch target {
	case "config":
		path, err = config.ConfigPath()
	case "cache":
		path, err = config.CacheDir()
	default:
		fmt.Printf("Unknown target: %s\n", target)
		os.Exit(1)
	}

	if err != nil {
		log.Fatalf("Failed to get path: %v", err)
	}

	if err := browser.OpenFile(path); err != nil {
		log.Fatalf("Failed to open: %v", err)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("Failed to encode: %v", err)
	}
}
