package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/stakecert/aggregator/pkg/buffer"
	"github.com/stakecert/aggregator/pkg/certifier"
	"github.com/stakecert/aggregator/pkg/chainer"
	"github.com/stakecert/aggregator/pkg/config"
	"github.com/stakecert/aggregator/pkg/crypto/bls"
	"github.com/stakecert/aggregator/pkg/database"
	"github.com/stakecert/aggregator/pkg/entities"
	"github.com/stakecert/aggregator/pkg/epoch"
	"github.com/stakecert/aggregator/pkg/keystore"
	"github.com/stakecert/aggregator/pkg/kvdb"
	"github.com/stakecert/aggregator/pkg/metrics"
	"github.com/stakecert/aggregator/pkg/openmessage"
	"github.com/stakecert/aggregator/pkg/protoparams"
	"github.com/stakecert/aggregator/pkg/registerer"
	"github.com/stakecert/aggregator/pkg/runtime"
	"github.com/stakecert/aggregator/pkg/scanner"
	"github.com/stakecert/aggregator/pkg/server"
	"github.com/stakecert/aggregator/pkg/singlesig"
	"github.com/stakecert/aggregator/pkg/stakestore"
	"github.com/stakecert/aggregator/pkg/upkeep"
	"github.com/stakecert/aggregator/pkg/uploader"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("starting stakecert aggregator")

	var (
		signerID = flag.String("signer-id", "", "signer ID (overrides SIGNER_ID env var)")
		showHelp = flag.Bool("help", false, "show help message")
	)
	flag.Parse()

	if *showHelp {
		printHelp()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}
	if *signerID != "" {
		cfg.SignerID = *signerID
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("configuration validation failed, falling back to development validation: %v", err)
		if err := cfg.ValidateForDevelopment(); err != nil {
			log.Fatalf("configuration invalid: %v", err)
		}
	}

	log.Printf("[Phase 1] loading BLS identity for %s", cfg.SignerID)
	km, err := bls.InitializeSignerKey(cfg.SignerID, cfg.NetworkName, cfg.BLSKeyPath)
	if err != nil {
		log.Fatalf("[Phase 1] initialize BLS key: %v", err)
	}
	log.Printf("[Phase 1] aggregator identity public key: %s", km.GetPublicKeyHex())

	log.Printf("[Phase 2] connecting to PostgreSQL database")
	dbClient, err := database.NewClient(cfg, database.WithLogger(
		log.New(log.Writer(), "[Database] ", log.LstdFlags),
	))
	if err != nil {
		log.Fatalf("[Phase 2] database connection required but failed: %v", err)
	}
	if err := dbClient.MigrateUp(context.Background()); err != nil {
		log.Fatalf("[Phase 2] run migrations: %v", err)
	}
	log.Printf("[Phase 2] database connected and migrated")

	stake := stakestore.New(dbClient)
	keys := keystore.New(dbClient)
	params := protoparams.New(dbClient)
	openMessages := openmessage.New(dbClient)
	signatures := singlesig.New(dbClient)
	certificates := chainer.New(dbClient)

	log.Printf("[Phase 3] opening auxiliary buffer store at %s", cfg.BufferStoreDir)
	levelDB, err := dbm.NewGoLevelDB("buffer", cfg.BufferStoreDir)
	var aux *kvdb.KVAdapter
	if err != nil {
		log.Printf("[Phase 3] WARNING: auxiliary buffer store unavailable, buffered signatures will not survive restart: %v", err)
		aux = kvdb.NewKVAdapter(nil)
	} else {
		aux = kvdb.NewKVAdapter(levelDB)
	}

	metricsReg := metrics.New()

	sigBuffer := buffer.New(cfg.BufferCapPerEntity, aux, func(discriminant entities.SignedEntityDiscriminant) {
		metricsReg.BufferEvictedTotal.Inc()
		log.Printf("evicted oldest buffered signature for %s at capacity %d", discriminant, cfg.BufferCapPerEntity)
	})
	if err := sigBuffer.Restore(); err != nil {
		log.Printf("WARNING: restore buffered signatures from disk: %v", err)
	}

	epochContext := certifier.NewStoreEpochContextProvider(keys, stake, params)
	baseCertifier := certifier.New(openMessages, signatures, certificates, epochContext)
	certifierSvc := certifier.NewBuffered(baseCertifier, sigBuffer)

	blockScanner := &unconfiguredScanner{}

	oracle := registerer.NewScannerStakeOracle(blockScanner)
	reg := registerer.New(dbClient, keys, stake, oracle)

	planner := runtime.NewDefaultPlanner(cfg.NetworkName, keys, stake, params)

	var fileUploader uploader.FileUploader
	switch cfg.UploaderKind {
	case "gcs":
		gcsUploader, err := uploader.NewGCSUploader(context.Background(), cfg.GCSBucket, cfg.GCSCredentialsFile)
		if err != nil {
			log.Fatalf("[Phase 4] initialize GCS uploader: %v", err)
		}
		fileUploader = gcsUploader
		log.Printf("[Phase 4] artifact uploader: GCS bucket %s", cfg.GCSBucket)
	default:
		fileUploader = uploader.NewLocalUploader(cfg.ServerURLPrefix, cfg.LocalUploadDir)
		log.Printf("[Phase 4] artifact uploader: local directory %s", cfg.LocalUploadDir)
	}

	rt := runtime.New(
		certifierSvc,
		blockScanner,
		planner,
		fileUploader,
		stake,
		params,
		metricsReg,
		cfg.CyclePeriod,
		cfg.CycleDeadline,
		epochDurationToDeadline(cfg.ExpirationEpochs, cfg.CyclePeriod),
	)

	log.Printf("[Phase 5] wiring HTTP surface")
	registerHandlers := server.NewRegisterHandlers(reg, rt, nil)
	signatureHandlers := server.NewSignatureHandlers(certifierSvc, nil)
	epochHandlers := server.NewEpochSettingsHandler(keys, params, rt, nil)
	artifactHandlers := server.NewArtifactHandlers(certificates, nil)
	certificateHandlers := server.NewCertificateHandlers(certificates, nil)
	proofHandlers := server.NewProofHandlers(certificates, nil)

	httpHandler := server.New(
		registerHandlers,
		signatureHandlers,
		epochHandlers,
		artifactHandlers,
		certificateHandlers,
		proofHandlers,
		metricsReg.Handler(),
		nil,
	)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: httpHandler.Handler(),
	}

	ctx, cancel := context.WithCancel(context.Background())

	upkeepSvc := upkeep.New(dbClient, aux, cfg.UpkeepInterval, stake, keys, rt, cfg.RetentionEpochs)
	go upkeepSvc.Run(ctx)
	log.Printf("[Phase 6] upkeep scheduled every %s", cfg.UpkeepInterval)

	go func() {
		if err := rt.Run(ctx); err != nil {
			log.Fatalf("runtime state machine exited with a critical error: %v", err)
		}
	}()
	log.Printf("[Phase 6] runtime state machine started, cycle period %s", cfg.CyclePeriod)

	go func() {
		log.Printf("aggregator HTTP API listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down aggregator")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if levelDB != nil {
		if err := levelDB.Close(); err != nil {
			log.Printf("close buffer store: %v", err)
		}
	}
	if err := dbClient.Close(); err != nil {
		log.Printf("close database client: %v", err)
	}

	log.Printf("aggregator stopped")
}

// epochDurationToDeadline approximates an open-message expiration
// deadline in wall-clock time from a count of epochs, since
// Certifier.MarkOpenMessageIfExpired takes a time.Duration rather than
// an epoch count. One epoch is assumed to span 100 cycle periods,
// matching a devnet-scale epoch length.
func epochDurationToDeadline(expirationEpochs uint64, cyclePeriod time.Duration) time.Duration {
	if expirationEpochs == 0 {
		expirationEpochs = 1
	}
	return time.Duration(expirationEpochs) * 100 * cyclePeriod
}

func printHelp() {
	fmt.Println("stakecert aggregator")
	fmt.Println()
	fmt.Println("Usage: aggregatord [flags]")
	fmt.Println()
	flag.PrintDefaults()
}

// unconfiguredScanner is a placeholder scanner.BlockScanner that lets
// the aggregator start up and serve its signer-facing API even when
// no on-chain indexer has been wired in yet. Every method reports a
// descriptive error instead of silently returning zero values, so a
// runtime cycle that hits it surfaces in logs and metrics rather than
// certifying against fabricated chain state.
type unconfiguredScanner struct{}

var errScannerNotConfigured = fmt.Errorf("block scanner not configured: wire a scanner.BlockScanner implementation for this deployment")

func (unconfiguredScanner) ChainTip(ctx context.Context) (scanner.ChainTip, error) {
	return scanner.ChainTip{}, errScannerNotConfigured
}

func (unconfiguredScanner) ScanStakeDistribution(ctx context.Context, e epoch.Epoch) (entities.StakeDistribution, error) {
	return nil, errScannerNotConfigured
}

func (unconfiguredScanner) ScanImmutableFiles(ctx context.Context, beacon entities.Beacon) (string, error) {
	return "", errScannerNotConfigured
}
