package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"AgentFlow-Chain/internal/auth"
	"AgentFlow-Chain/internal/chain"
	"AgentFlow-Chain/internal/config"
	"AgentFlow-Chain/internal/events"
	"AgentFlow-Chain/internal/journal"
	"AgentFlow-Chain/internal/payment"
	"AgentFlow-Chain/internal/wallet"
	"AgentFlow-Chain/internal/workflow"
	"AgentFlow-Chain/pkg/logger"
)

const usage = `usage: agentflow [-config path] <command> [args]

commands:
  health                 check orchestrator health
  list [studio]          list workflows, optionally filtered by studio
  watch <workflow-id>    poll a workflow until it reaches a terminal state
  journal [limit]        print the latest payment journal records
  retry-fee <intent-id>  retry the protocol fee leg of a partial settlement
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "agentflow: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("agentflow", flag.ContinueOnError)
	configPath := flags.String("config", "", "path to the YAML configuration")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() == 0 {
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("no command given")
	}

	path := *configPath
	if path == "" {
		path = os.Getenv("AGENTFLOW_CONFIG")
	}
	if path == "" {
		path = filepath.Join("configs", "agentflow.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()

	var signer wallet.Signer
	if key := cfg.Wallet.ResolveKey(); key != "" {
		local, err := wallet.NewLocalSigner(key)
		if err != nil {
			return err
		}
		signer = local
	}

	authenticator, err := auth.New(cfg.Auth, signer)
	if err != nil {
		return err
	}

	publisher, err := buildPublisher(cfg)
	if err != nil {
		return err
	}
	if publisher != nil {
		defer publisher.Close()
	}

	clientOpts := []workflow.ClientOption{workflow.WithAuthenticator(authenticator)}
	if publisher != nil {
		clientOpts = append(clientOpts, workflow.WithEventPublisher(publisher))
	}
	client, err := workflow.NewClient(cfg.Orchestrator.Build(), clientOpts...)
	if err != nil {
		return err
	}

	command := flags.Arg(0)
	switch command {
	case "health":
		return runHealth(ctx, client)
	case "list":
		return runList(ctx, client, flags.Arg(1))
	case "watch":
		if flags.Arg(1) == "" {
			return fmt.Errorf("watch requires a workflow id")
		}
		return runWatch(ctx, client, flags.Arg(1))
	case "journal":
		return runJournal(ctx, cfg, flags.Arg(1))
	case "retry-fee":
		if flags.Arg(1) == "" {
			return fmt.Errorf("retry-fee requires an intent id")
		}
		return runRetryFee(ctx, cfg, signer, flags.Arg(1))
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func buildPublisher(cfg *config.Config) (events.Publisher, error) {
	switch cfg.Events.Driver {
	case config.DriverNone:
		return nil, nil
	case config.DriverMemory:
		return events.NewMemoryPublisher(cfg.Events.Limit), nil
	case config.DriverAMQP:
		return events.NewAMQPPublisher(cfg.Events.AMQP)
	default:
		return nil, fmt.Errorf("unknown events driver %q", cfg.Events.Driver)
	}
}

func buildJournal(ctx context.Context, cfg *config.Config) (journal.Store, error) {
	switch cfg.Journal.Driver {
	case config.DriverMemory:
		return journal.NewMemoryStore(), nil
	case config.DriverMySQL:
		return journal.NewMySQLStore(ctx, cfg.Journal.MySQL.Build())
	default:
		return nil, fmt.Errorf("unknown journal driver %q", cfg.Journal.Driver)
	}
}

func runHealth(ctx context.Context, client *workflow.Client) error {
	health, err := client.HealthCheck(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s at %s\n", health.Status, health.Timestamp)
	return nil
}

func runList(ctx context.Context, client *workflow.Client, studio string) error {
	workflows, err := client.List(ctx, workflow.ListFilter{Studio: studio})
	if err != nil {
		return err
	}
	for _, wf := range workflows {
		fmt.Printf("%s\t%s\t%s\t%s\n", wf.ID, wf.Type, wf.State, wf.Step)
	}
	return nil
}

func runWatch(ctx context.Context, client *workflow.Client, workflowID string) error {
	status, err := client.WaitForCompletion(ctx, workflowID, workflow.WaitOptions{
		OnProgress: func(s *workflow.Status) {
			fmt.Printf("%s\t%s\t%s\n", s.ID, s.State, s.Step)
		},
	})
	if err != nil {
		return err
	}
	fmt.Printf("completed: tx=%s block=%d confirmations=%d\n",
		status.Progress.TxHash, status.Progress.BlockNumber, status.Progress.Confirmations)
	return nil
}

func runJournal(ctx context.Context, cfg *config.Config, limitArg string) error {
	store, err := buildJournal(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	limit := 0
	if limitArg != "" {
		if _, err := fmt.Sscanf(limitArg, "%d", &limit); err != nil {
			return fmt.Errorf("invalid limit %q", limitArg)
		}
	}
	records, err := store.ListLatest(ctx, limit)
	if err != nil {
		return err
	}
	for _, record := range records {
		fmt.Printf("%s\t%s\t%s\t%s\t%s\n",
			record.IntentID, record.Currency, record.Amount, record.Status, record.TxHash)
	}
	return nil
}

func runRetryFee(ctx context.Context, cfg *config.Config, signer wallet.Signer, intentID string) error {
	if signer == nil {
		return fmt.Errorf("retry-fee requires a wallet key")
	}
	store, err := buildJournal(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	record, err := store.Get(ctx, intentID)
	if err != nil {
		return err
	}

	backend, err := chain.Dial(ctx, cfg.Chain.Build(), signer)
	if err != nil {
		return err
	}
	defer backend.Close()

	engine, err := payment.NewEngine(cfg.Payment.Build(), signer, backend, nil, payment.WithJournal(store))
	if err != nil {
		return err
	}
	proof := &payment.Proof{
		IntentID:  record.IntentID,
		Currency:  record.Currency,
		Recipient: record.Recipient,
		Amount:    record.Amount,
		FeeAmount: record.FeeAmount,
		TxHash:    record.TxHash,
		TxHashFee: record.TxHashFee,
		ChainID:   record.ChainID,
		Status:    payment.SettlementStatus(record.Status),
	}
	updated, err := engine.RetryFeeTransfer(ctx, proof)
	if err != nil {
		return err
	}
	fmt.Printf("fee settled: tx=%s status=%s\n", updated.TxHashFee, updated.Status)
	return nil
}
