package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"price_tracker/api"
	"price_tracker/bot"
	"price_tracker/config"
	"price_tracker/httputil"
	"price_tracker/logging"
	"price_tracker/models"
	"price_tracker/notify"
	"price_tracker/scheduler"
	"price_tracker/scraper"
	"price_tracker/services"
	"price_tracker/storage"
)

var (
	scrapeNow  = flag.Bool("scrape", false, "Run one fleet run and exit")
	trackID    = flag.Int64("track", 0, "Track a single product by id and exit")
	addURL     = flag.String("add", "", "Add a product URL, track it once and exit")
	target     = flag.Float64("target", 0, "Target price for -add")
	listAll    = flag.Bool("list", false, "List tracked products and exit")
	exportPath = flag.String("export", "", "Export price history as CSV to this path and exit")
	enqueue    = flag.String("enqueue", "", "Queue a command for a running daemon: track_all | track_one | pause | resume")
	commandID  = flag.Int64("id", 0, "Product id for -enqueue track_one")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logFile, err := logging.Setup(cfg.LogDir, "tracker.log")
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting price tracker...")
	log.Printf("Loaded %d store configs", len(cfg.Stores))
	for id, store := range cfg.Stores {
		log.Printf("  - %s (%s, %s)", store.Name, id, store.Handler)
	}

	ctx := context.Background()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	if err := store.SetupSchema(ctx); err != nil {
		log.Fatalf("Failed to set up schema: %v", err)
	}

	// Queueing only needs the database.
	if *enqueue != "" {
		if err := enqueueCommand(ctx, store, models.CommandType(*enqueue), *commandID); err != nil {
			log.Fatalf("Enqueue failed: %v", err)
		}
		return
	}

	registry, err := scraper.NewRegistryFromConfig(cfg.Stores, cfg.Scraper.ReadyTimeout)
	if err != nil {
		log.Fatalf("Failed to build extractors: %v", err)
	}

	clients, err := httputil.NewClients(cfg.Proxy)
	if err != nil {
		log.Fatalf("Invalid proxy config: %v", err)
	}
	if cfg.Proxy.URL != "" {
		log.Printf("Proxy: %s", maskConnectionString(cfg.Proxy.URL))
	}

	var tg *tgbotapi.BotAPI
	if cfg.Telegram.Token != "" {
		tg, err = bot.Init(cfg.Telegram.Token, clients.API)
		if err != nil {
			log.Printf("Warning: Telegram disabled: %v", err)
		}
	}

	dispatcher := notify.NewDispatcher(30 * time.Second)
	if tg != nil && cfg.Telegram.ChatID != 0 {
		dispatcher.Add(notify.Route{
			Notifier:  notify.NewTelegramNotifier(tg),
			Recipient: strconv.FormatInt(cfg.Telegram.ChatID, 10),
		})
	}
	if cfg.Email.Enabled() {
		dispatcher.Add(notify.Route{Notifier: notify.NewEmailNotifier(cfg.Email), Recipient: cfg.Email.To})
	}
	log.Printf("Notification routes: %d", dispatcher.Len())
	defer dispatcher.Wait()

	orchestrator := scraper.NewOrchestrator(cfg, store, registry, scraper.NewBrowserManager(cfg.Scraper), dispatcher)
	products := services.NewProductService(store, orchestrator)

	// Handle one-shot commands
	switch {
	case *scrapeNow:
		log.Println("Running fleet run...")
		status, err := orchestrator.TrackAll(ctx)
		if err != nil {
			log.Fatalf("Fleet run failed: %v", err)
		}
		log.Printf("Fleet run %s", status)
		return

	case *trackID > 0:
		log.Printf("Product %d: %s", *trackID, orchestrator.TrackOne(ctx, *trackID))
		return

	case *addURL != "":
		var t *float64
		if *target > 0 {
			t = target
		}
		product, err := products.Add(ctx, *addURL, t)
		if err != nil {
			log.Fatalf("Add failed: %v", err)
		}
		log.Printf("Added product %d (%s), tracking now", product.ID, product.Store)
		log.Printf("Product %d: %s", product.ID, products.Track(ctx, product.ID))
		return

	case *listAll:
		if err := printProducts(ctx, products); err != nil {
			log.Fatalf("List failed: %v", err)
		}
		return

	case *exportPath != "":
		if err := exportHistory(ctx, cfg, store, clients, *exportPath); err != nil {
			log.Fatalf("Export failed: %v", err)
		}
		return
	}

	// Daemon mode
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched := scheduler.New(cfg, orchestrator, store)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	botDone := make(chan struct{})
	if tg != nil && cfg.Telegram.ChatID != 0 {
		b := bot.New(tg, cfg.Telegram.ChatID, products, orchestrator, cfg.Currency)
		go func() {
			defer close(botDone)
			b.Run(ctx)
		}()
	} else {
		close(botDone)
		log.Println("Telegram bot disabled (TELEGRAM_TOKEN / TELEGRAM_CHAT_ID not set)")
	}

	var server *api.Server
	if cfg.HTTPAddr != "" {
		server = api.NewServer(cfg.HTTPAddr, store)
		server.Start()
	}

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	cancel()
	if server != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP shutdown: %v", err)
		}
		done()
	}
	// Both wait for in-flight fleet runs so the run lock is released.
	sched.Stop()
	<-botDone
	log.Println("Goodbye!")
}

// openStore picks Postgres when DATABASE_URL is set, SQLite otherwise.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	db := cfg.Database
	if db.URL != "" {
		pg, err := storage.NewPostgresStore(ctx, db.URL, db.PoolSize, db.AcquireTimeout)
		if err != nil {
			return nil, err
		}
		log.Printf("Connected to Postgres: %s", maskConnectionString(db.URL))
		return pg, nil
	}

	sqlite, err := storage.NewSQLiteStore(db.Path, storage.SQLiteOptions{
		PoolSize:       db.PoolSize,
		AcquireTimeout: db.AcquireTimeout,
		BusyTimeout:    db.BusyTimeout,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("SQLite database: %s (pool %d)", db.Path, db.PoolSize)
	return sqlite, nil
}

func enqueueCommand(ctx context.Context, store storage.Store, cmd models.CommandType, id int64) error {
	switch cmd {
	case models.CmdTrackAll, models.CmdPause, models.CmdResume:
	case models.CmdTrackOne:
		if id <= 0 {
			return fmt.Errorf("%s requires -id", cmd)
		}
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}

	queued, err := store.EnqueueCommand(ctx, cmd, models.CommandParams{ProductID: id})
	if err != nil {
		return err
	}
	log.Printf("Queued command %d: %s", queued, cmd)
	return nil
}

func printProducts(ctx context.Context, products *services.ProductService) error {
	summaries, err := products.List(ctx)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("No products tracked yet.")
		return nil
	}

	fmt.Printf("%-5s %-13s %-12s %-12s %-12s %s\n", "ID", "STORE", "STATUS", "LATEST", "TARGET", "NAME")
	for _, s := range summaries {
		fmt.Printf("%-5d %-13s %-12s %-12s %-12s %s\n",
			s.ID, s.Store, s.Status, formatPrice(s.LatestPrice), formatPrice(s.TargetPrice), s.DisplayName())
	}
	fmt.Printf("\n%d products\n", len(summaries))
	return nil
}

func exportHistory(ctx context.Context, cfg *config.Config, store storage.Store, clients *httputil.Clients, path string) error {
	var uploader services.Uploader
	if cfg.S3.Enabled() {
		s3, err := storage.NewS3Uploader(ctx, cfg.S3, clients.API)
		if err != nil {
			return err
		}
		uploader = s3
	}

	result, err := services.NewExportService(store, uploader).Export(ctx, path)
	if err != nil {
		return err
	}
	fmt.Printf("Exported %d observations to %s\n", result.Rows, result.Path)
	if result.RemoteURL != "" {
		fmt.Printf("Uploaded to %s\n", result.RemoteURL)
	}
	return nil
}

func formatPrice(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

// maskConnectionString masks password in connection string for logging
func maskConnectionString(connStr string) string {
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
