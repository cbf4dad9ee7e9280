package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	dedupapp "github.com/offerbook/dedup/internal/application/dedup"
	"github.com/offerbook/dedup/internal/domain/customer"
	"github.com/offerbook/dedup/internal/domain/dedup"
	"github.com/offerbook/dedup/internal/domain/offer"
	"github.com/offerbook/dedup/internal/domain/shared"
	"github.com/offerbook/dedup/internal/infrastructure/config"
	"github.com/offerbook/dedup/internal/infrastructure/logger"
	"github.com/offerbook/dedup/internal/infrastructure/persistence"
)

// dedupctl is the operator tool for the dedup engine. It inspects the live
// book and the intake backlog, and puts parked work back in line: batches and
// outbox events that exhaust their retries are requeued here after the
// underlying fault is fixed, and junk live-book entries are retired so their
// identifiers stop matching.
func main() {
	// Parse flags
	var (
		page     int
		pageSize int
		limit    int
		status   string
		search   string
		logLevel string
	)

	flag.IntVar(&page, "page", 1, "Page to list")
	flag.IntVar(&pageSize, "size", 20, "Page size for listings")
	flag.IntVar(&limit, "limit", 20, "Max dead batches to list")
	flag.StringVar(&status, "status", "", "Narrow the customer listing to a lifecycle status (active, inactive)")
	flag.StringVar(&search, "search", "", "Narrow the customer listing by name or email")
	flag.StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	flag.Parse()

	// Get command and arguments
	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	command := args[0]

	// Initialize logger; tables go to stdout, logs to stderr
	log, err := logger.New(&logger.Config{
		Level:      logLevel,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
	}()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Connect to the database
	db, err := persistence.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		_ = db.Close()
	}()

	customerRepo := persistence.NewGormCustomerRepository(db.DB)
	offerRepo := persistence.NewGormOfferRepository(db.DB)
	outboxRepo := persistence.NewGormOutboxRepository(db.DB)
	batchRepo := persistence.NewGormIntakeBatchRepository(db.DB)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Execute command
	switch command {
	case "status":
		if err := showStatus(ctx, customerRepo, offerRepo, batchRepo, outboxRepo); err != nil {
			log.Fatal("Failed to read engine status", zap.Error(err))
		}

	case "customer":
		id := parseID(log, args, "customer")
		if err := showCustomer(ctx, customerRepo, offerRepo, id); err != nil {
			log.Fatal("Failed to show customer", zap.Error(err))
		}

	case "customers":
		if err := listCustomers(ctx, customerRepo, status, search, page, pageSize); err != nil {
			log.Fatal("Failed to list customers", zap.Error(err))
		}

	case "retire-customer":
		id := parseID(log, args, "retire-customer")
		if err := retireCustomer(ctx, customerRepo, id); err != nil {
			log.Fatal("Failed to retire customer", zap.Error(err))
		}
		log.Info("Customer retired; its identifiers no longer match", zap.String("customer_id", id.String()))

	case "restore-customer":
		id := parseID(log, args, "restore-customer")
		if err := restoreCustomer(ctx, customerRepo, id); err != nil {
			log.Fatal("Failed to restore customer", zap.Error(err))
		}
		log.Info("Customer restored to the live book", zap.String("customer_id", id.String()))

	case "batch":
		id := parseID(log, args, "batch")
		if err := showBatch(ctx, batchRepo, offerRepo, id); err != nil {
			log.Fatal("Failed to show batch", zap.Error(err))
		}

	case "dead-events":
		if err := listDeadEvents(ctx, outboxRepo, page, pageSize); err != nil {
			log.Fatal("Failed to list dead events", zap.Error(err))
		}

	case "requeue-event":
		id := parseID(log, args, "requeue-event")
		if err := requeueEvent(ctx, outboxRepo, id); err != nil {
			log.Fatal("Failed to requeue event", zap.Error(err))
		}
		log.Info("Event requeued", zap.String("entry_id", id.String()))

	case "dead-batches":
		if err := listDeadBatches(ctx, batchRepo, limit); err != nil {
			log.Fatal("Failed to list dead batches", zap.Error(err))
		}

	case "requeue-batch":
		id := parseID(log, args, "requeue-batch")
		scope := persistence.NewGormTransactionScope(db.DB)
		matcher := dedupapp.NewLiveBookMatcher(scope)
		topupDeduper := dedupapp.NewTopupDeduper(scope)
		batchService := dedupapp.NewBatchService(scope, matcher, topupDeduper)
		if err := requeueBatch(ctx, batchRepo, batchService, id); err != nil {
			log.Fatal("Failed to requeue batch", zap.Error(err))
		}
		log.Info("Batch requeued for processing", zap.String("batch_id", id.String()))

	default:
		log.Error("Unknown command", zap.String("command", command))
		printUsage()
		os.Exit(1)
	}
}

// parseID reads the command's ID argument, exiting with usage help when it is
// missing or not a UUID.
func parseID(log *zap.Logger, args []string, command string) uuid.UUID {
	if len(args) < 2 {
		log.Fatal(fmt.Sprintf("ID required. Usage: dedupctl %s <id>", command))
	}
	id, err := uuid.Parse(args[1])
	if err != nil {
		log.Fatal("Invalid ID", zap.String("value", args[1]))
	}
	return id
}

// showStatus prints the live book and the per-status backlog of batches and
// outbox events.
func showStatus(ctx context.Context, customerRepo customer.Repository, offerRepo offer.Repository, batchRepo dedup.BatchRepository, outboxRepo shared.OutboxRepository) error {
	fmt.Println("Live book:")
	for _, status := range []customer.Status{customer.StatusActive, customer.StatusInactive} {
		count, err := customerRepo.CountByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("count customers: %w", err)
		}
		fmt.Printf("  %-12s %d\n", status, count)
	}

	fmt.Println("Offers by dedup status:")
	for _, status := range []offer.DedupStatus{offer.DedupNone, offer.DedupPrimary, offer.DedupSecondary} {
		count, err := offerRepo.CountByDedupStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("count offers: %w", err)
		}
		fmt.Printf("  %-12s %d\n", status, count)
	}

	batchCounts, err := batchRepo.CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("count batches: %w", err)
	}
	fmt.Println("Intake batches:")
	for _, status := range []dedup.BatchStatus{
		dedup.BatchStatusPending,
		dedup.BatchStatusProcessing,
		dedup.BatchStatusCompleted,
		dedup.BatchStatusFailed,
		dedup.BatchStatusDead,
	} {
		fmt.Printf("  %-12s %d\n", status, batchCounts[status])
	}

	outboxCounts, err := outboxRepo.CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("count outbox entries: %w", err)
	}
	fmt.Println("Outbox events:")
	for _, status := range []shared.OutboxStatus{
		shared.OutboxStatusPending,
		shared.OutboxStatusProcessing,
		shared.OutboxStatusSent,
		shared.OutboxStatusFailed,
		shared.OutboxStatusDead,
	} {
		fmt.Printf("  %-12s %d\n", status, outboxCounts[status])
	}
	return nil
}

// showCustomer prints one canonical customer and the offers attached to it.
func showCustomer(ctx context.Context, customerRepo customer.Repository, offerRepo offer.Repository, id uuid.UUID) error {
	c, err := customerRepo.FindByID(ctx, id)
	if err != nil {
		return err
	}

	fmt.Printf("Customer %s  %s  version=%d\n", c.ID, c.Status, c.Version)
	fmt.Printf("  name         %s\n", orDash(c.FullName()))
	fmt.Printf("  tax id       %s\n", orDash(c.TaxID))
	fmt.Printf("  phone        %s\n", orDash(c.Phone))
	fmt.Printf("  national id  %s\n", orDash(c.NationalID))
	fmt.Printf("  email        %s\n", orDash(c.Email))
	birthdate := "-"
	if c.Birthdate != nil {
		birthdate = c.Birthdate.Format("2006-01-02")
	}
	fmt.Printf("  birthdate    %s\n", birthdate)
	fmt.Printf("  segment      %s\n", orDash(c.Segment))
	fmt.Printf("  channel      %s\n", orDash(c.SourceChannel))
	fmt.Printf("  created      %s\n", c.CreatedAt.Format("2006-01-02 15:04:05"))

	offers, err := offerRepo.FindByCustomer(ctx, id, shared.DefaultFilter())
	if err != nil {
		return fmt.Errorf("list offers: %w", err)
	}
	if len(offers) == 0 {
		fmt.Println("No offers attached")
		return nil
	}
	fmt.Printf("Offers (%d):\n", len(offers))
	for _, o := range offers {
		fmt.Println("  " + offerLine(o))
	}
	return nil
}

// listCustomers prints one page of the live book, optionally narrowed to a
// lifecycle status and a name/email search term.
func listCustomers(ctx context.Context, repo customer.Repository, status, search string, page, pageSize int) error {
	filter := shared.DefaultFilter()
	filter.Page = page
	filter.PageSize = pageSize
	filter.Search = search
	switch status {
	case "":
	case string(customer.StatusActive), string(customer.StatusInactive):
		filter.Filters["status"] = status
	default:
		return fmt.Errorf("unknown status %q, want active or inactive", status)
	}

	customers, err := repo.FindAll(ctx, filter)
	if err != nil {
		return err
	}
	total, err := repo.Count(ctx, filter)
	if err != nil {
		return fmt.Errorf("count customers: %w", err)
	}

	if total == 0 {
		fmt.Println("No customers")
		return nil
	}

	fmt.Printf("Customers (page %d, %d total):\n", page, total)
	for _, c := range customers {
		fmt.Printf("  %s  %-8s %-24s tax=%-12s phone=%s\n",
			c.ID, c.Status, truncate(c.FullName(), 24), orDash(c.TaxID), orDash(c.Phone))
	}
	return nil
}

// retireCustomer deactivates a live-book entry. Its identifier uniqueness
// claims are released, so the next batch carrying those identifiers opens a
// fresh customer instead of matching the retired one.
func retireCustomer(ctx context.Context, repo customer.Repository, id uuid.UUID) error {
	c, err := repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := c.Deactivate(); err != nil {
		return err
	}
	return repo.SaveWithLock(ctx, c)
}

// restoreCustomer puts a retired customer back in the live book. The save
// fails on the uniqueness check if another active customer claimed one of its
// identifiers in the meantime.
func restoreCustomer(ctx context.Context, repo customer.Repository, id uuid.UUID) error {
	c, err := repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := c.Activate(); err != nil {
		return err
	}
	return repo.SaveWithLock(ctx, c)
}

// showBatch prints one intake batch and the offers it materialized.
func showBatch(ctx context.Context, batchRepo dedup.BatchRepository, offerRepo offer.Repository, id uuid.UUID) error {
	batch, err := batchRepo.FindByID(ctx, id)
	if err != nil {
		return err
	}

	fmt.Printf("Batch %s  %s  version=%d\n", batch.ID, batch.Status, batch.Version)
	fmt.Printf("  channel      %s\n", batch.Channel)
	fmt.Printf("  records      %d\n", batch.RecordCount)
	fmt.Printf("  offers       %d\n", batch.OfferCount)
	fmt.Printf("  retries      %d/%d\n", batch.RetryCount, batch.MaxRetries)
	if batch.LastError != "" {
		fmt.Printf("  last error   %s\n", truncate(batch.LastError, 80))
	}
	fmt.Printf("  received     %s\n", batch.CreatedAt.Format("2006-01-02 15:04:05"))
	if batch.CompletedAt != nil {
		fmt.Printf("  completed    %s\n", batch.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	if s := batch.Summary; s != nil {
		fmt.Printf("  outcome      groups=%d created=%d merged=%d rejected=%d topup=%d+%d\n",
			s.Groups, s.CustomersCreated, s.RecordsMerged, s.RecordsRejected, s.TopupPrimaries, s.TopupSecondaries)
	}

	offers, err := offerRepo.FindByBatch(ctx, id)
	if err != nil {
		return fmt.Errorf("list offers: %w", err)
	}
	if len(offers) == 0 {
		fmt.Println("No offers materialized")
		return nil
	}
	fmt.Printf("Offers (%d):\n", len(offers))
	for _, o := range offers {
		line := offerLine(o)
		if o.CustomerID == nil {
			line += "  unassigned"
		}
		fmt.Println("  " + line)
	}
	return nil
}

// offerLine renders one offer row for the customer and batch views.
func offerLine(o offer.Offer) string {
	line := fmt.Sprintf("%-20s %-9s %12s %s  %s",
		truncate(o.SourceRef, 20), o.ProductType, o.Amount.StringFixed(2), o.Currency, o.Status)
	if o.DedupStatus != offer.DedupNone {
		line += fmt.Sprintf("  dedup=%s", o.DedupStatus)
	}
	return line
}

// listDeadEvents prints one page of the outbox dead letter queue.
func listDeadEvents(ctx context.Context, outboxRepo shared.OutboxRepository, page, pageSize int) error {
	entries, total, err := outboxRepo.FindDead(ctx, page, pageSize)
	if err != nil {
		return err
	}

	if total == 0 {
		fmt.Println("No dead events")
		return nil
	}

	fmt.Printf("Dead events (page %d, %d total):\n", page, total)
	for _, entry := range entries {
		fmt.Printf("  %s  %-24s retries=%d  %s\n",
			entry.ID, entry.EventType, entry.RetryCount, truncate(entry.LastError, 60))
	}
	return nil
}

// requeueEvent resets one dead outbox entry so the relay picks it up again.
func requeueEvent(ctx context.Context, outboxRepo shared.OutboxRepository, id uuid.UUID) error {
	entry, err := outboxRepo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := entry.ResetForRetry(); err != nil {
		return err
	}
	return outboxRepo.Update(ctx, entry)
}

// listDeadBatches prints intake batches that spent their retry budget.
func listDeadBatches(ctx context.Context, batchRepo dedup.BatchRepository, limit int) error {
	batches, err := batchRepo.FindByStatus(ctx, dedup.BatchStatusDead, limit)
	if err != nil {
		return err
	}

	if len(batches) == 0 {
		fmt.Println("No dead batches")
		return nil
	}

	fmt.Printf("Dead batches (%d shown):\n", len(batches))
	for _, batch := range batches {
		fmt.Printf("  %s  %-16s records=%d retries=%d  %s\n",
			batch.ID, batch.Channel, batch.RecordCount, batch.RetryCount, truncate(batch.LastError, 60))
	}
	return nil
}

// requeueBatch puts one dead batch back in the poller's queue through the
// batch service, so the requeue is persisted with optimistic locking like
// any other batch transition.
func requeueBatch(ctx context.Context, batchRepo dedup.BatchRepository, batchService *dedupapp.BatchService, id uuid.UUID) error {
	batch, err := batchRepo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	return batchService.RequeueBatch(ctx, batch)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func printUsage() {
	fmt.Println(`Dedup Engine Operator Tool

Usage:
  dedupctl [flags] <command> [arguments]

Commands:
  status                  Show live book size and per-status backlogs
  customer <id>           Show a canonical customer and its offers
  customers               List customers (see -status, -search, -page, -size)
  retire-customer <id>    Retire a customer so its identifiers stop matching
  restore-customer <id>   Put a retired customer back in the live book
  batch <id>              Show an intake batch and the offers it materialized
  dead-events             List dead outbox events
  requeue-event <id>      Requeue a dead outbox event for delivery
  dead-batches            List dead intake batches
  requeue-batch <id>      Requeue a dead intake batch for processing

Flags:
  -page int               Page to list (default 1)
  -size int               Page size for listings (default 20)
  -limit int              Max dead batches to list (default 20)
  -status string          Narrow the customer listing to a lifecycle status
  -search string          Narrow the customer listing by name or email
  -log-level string       Log level: debug, info, warn, error (default warn)

Environment Variables:
  DEDUP_DATABASE_HOST, DEDUP_DATABASE_PORT, DEDUP_DATABASE_USER,
  DEDUP_DATABASE_PASSWORD, DEDUP_DATABASE_DBNAME, DEDUP_DATABASE_SSLMODE

Examples:
  # Inspect the backlog, then a customer someone complained about
  dedupctl status
  dedupctl customer 3f0e9c5a-7b1d-4e2f-8a9b-0c1d2e3f4a5b

  # Review retired entries
  dedupctl -status inactive customers

  # List parked outbox events, then requeue one
  dedupctl dead-events
  dedupctl requeue-event 6e1f0a1c-8f7d-4f0e-9f3a-2b4c5d6e7f80

  # Requeue a dead batch after fixing the underlying fault
  dedupctl requeue-batch 0b2d4f66-1a2b-4c3d-8e9f-0a1b2c3d4e5f`)
}
