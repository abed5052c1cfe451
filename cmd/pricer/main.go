// Package main resolves fiat prices for a normalized transaction CSV.
// Executes: manifest scan → graph construction → price resolution → cache save
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"crypto-price-lab/internal/converter"
	"crypto-price-lab/internal/domain"
	"crypto-price-lab/internal/manifest"
	"crypto-price-lab/internal/observability"
	"crypto-price-lab/internal/pricesource"
	"crypto-price-lab/internal/storage"
	"crypto-price-lab/internal/storage/disk"
	"crypto-price-lab/internal/storage/postgres"
)

func main() {
	// Parse flags
	transactionsPath := flag.String("transactions", "transactions.csv", "Normalized transaction CSV (kind,asset,timestamp,exchange[,to_exchange])")
	cacheDir := flag.String("cache-dir", disk.DefaultDir, "Price cache directory")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres DSN for the price cache (overrides -cache-dir)")
	nativeFiat := flag.String("native-fiat", "USD", "Target fiat currency")
	fiatPriority := flag.String("fiat-priority", "USD", "Comma-separated fiat priority list")
	fiatAPI := flag.String("fiat-api", "https://api.exchangerate.host", "Historical fiat rate API base URL")
	candleAPI := flag.String("candle-api", "", "OHLCV candle API base URL template with one %s for the exchange")
	workers := flag.Int("workers", 4, "Manifest scan parallelism")
	priceType := flag.String("price-type", "nearest", "Bar dimension for rates: open, high, low, close, nearest")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (empty disables)")
	flag.Parse()

	logger := log.New(os.Stderr, "pricer: ", log.LstdFlags)

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("received signal %v, cancelling run", sig)
		cancel()
	}()

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Printf("metrics server: %v", err)
			}
		}()
	}

	transactions, err := loadTransactions(*transactionsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading transactions: %v\n", err)
		os.Exit(1)
	}
	logger.Printf("loaded %d transactions from %s", len(transactions), *transactionsPath)

	started := time.Now()
	m, err := manifest.Build(ctx, transactions, *workers, *nativeFiat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building manifest: %v\n", err)
		os.Exit(1)
	}
	observability.RecordManifestBuild(len(m.Assets()), len(m.Exchanges()), time.Since(started).Seconds())
	logger.Printf("manifest: %d assets, %d exchanges, history from %s",
		len(m.Assets()), len(m.Exchanges()), m.FirstTransactionTime().Format(time.RFC3339))

	store, cleanup, err := openStore(ctx, *postgresDSN, *cacheDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening price store: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	sources := make(map[string]pricesource.BarSource)
	if *candleAPI != "" {
		for _, exchange := range m.Exchanges() {
			slug := strings.ToLower(strings.ReplaceAll(exchange, " ", "-"))
			sources[exchange] = pricesource.NewRESTSource(exchange, fmt.Sprintf(*candleAPI, slug))
		}
	}

	fiat := converter.NewFiatRateSource(*fiatAPI, strings.Split(*fiatPriority, ","))
	conv, err := converter.NewExchange(converter.Options{
		Name:       "pricer",
		NativeFiat: *nativeFiat,
		PriceType:  domain.PriceType(*priceType),
		Sources:    sources,
		Fiat:       fiat,
		Store:      store,
		Logger:     logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating converter: %v\n", err)
		os.Exit(1)
	}
	conv.Optimize(m)

	if err := conv.LoadHistoricalPriceCache(ctx); err != nil {
		if errors.Is(err, storage.ErrCacheFormat) {
			fmt.Fprintf(os.Stderr, "Corrupted price cache, delete it and rerun: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "Error loading price cache: %v\n", err)
		}
		os.Exit(1)
	}

	writer := csv.NewWriter(os.Stdout)
	writer.Write([]string{"timestamp", "asset", "exchange", "fiat", "rate"})

	var unresolved int
	for i := range transactions {
		tx := &transactions[i]
		exchange, err := tx.PricingExchange()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		rate, err := conv.GetConversionRate(ctx, tx.Timestamp, tx.Asset, *nativeFiat, exchange)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error resolving %s on %s: %v\n", tx.Asset, exchange, err)
			os.Exit(1)
		}

		value := ""
		if rate != nil {
			value = rate.String()
		} else {
			unresolved++
		}
		writer.Write([]string{tx.Timestamp.Format(time.RFC3339), tx.Asset, exchange, *nativeFiat, value})
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
		os.Exit(1)
	}

	if err := conv.SaveHistoricalPriceCache(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving price cache: %v\n", err)
		os.Exit(1)
	}

	logger.Printf("resolved %d/%d transactions", len(transactions)-unresolved, len(transactions))
	if unresolved > 0 {
		logger.Printf("%d transactions had no price data or path", unresolved)
	}
}

// openStore picks the postgres store when a DSN is given, the disk
// store otherwise.
func openStore(ctx context.Context, dsn, cacheDir string) (storage.PriceStore, func(), error) {
	if dsn == "" {
		return disk.New(cacheDir), func() {}, nil
	}
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return postgres.NewPriceStore(pool), pool.Close, nil
}

// loadTransactions reads the normalized transaction CSV. Columns:
// kind,asset,timestamp,exchange and, for INTRA rows, a fifth column
// with the destination exchange.
func loadTransactions(path string) ([]domain.Transaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var transactions []domain.Transaction
	line := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line+1, err)
		}
		line++
		if line == 1 && strings.EqualFold(row[0], "kind") {
			continue
		}
		if len(row) < 4 {
			return nil, fmt.Errorf("%s line %d: want at least 4 columns, got %d", path, line, len(row))
		}

		ts, err := time.Parse(time.RFC3339, row[2])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: bad timestamp %q: %w", path, line, row[2], err)
		}

		tx := domain.Transaction{
			Kind:      domain.TransactionKind(strings.ToUpper(row[0])),
			Asset:     row[1],
			Timestamp: ts.UTC(),
		}
		switch tx.Kind {
		case domain.KindIn, domain.KindOut:
			tx.Exchange = row[3]
		case domain.KindIntra:
			tx.FromExchange = row[3]
			if len(row) > 4 {
				tx.ToExchange = row[4]
			}
		default:
			return nil, fmt.Errorf("%s line %d: %w: %q", path, line, domain.ErrUnknownKind, row[0])
		}
		transactions = append(transactions, tx)
	}
	return transactions, nil
}
