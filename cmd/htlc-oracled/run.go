package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/term"

	"github.com/atomicbridge/timeoracle/chainclient"
	"github.com/atomicbridge/timeoracle/config"
	"github.com/atomicbridge/timeoracle/crypto"
	"github.com/atomicbridge/timeoracle/nonce"
	"github.com/atomicbridge/timeoracle/observability/logging"
	telemetry "github.com/atomicbridge/timeoracle/observability/otel"
	"github.com/atomicbridge/timeoracle/oracle"
	"github.com/atomicbridge/timeoracle/server"
	"github.com/atomicbridge/timeoracle/submitter"
	"github.com/atomicbridge/timeoracle/verifier"
)

// Run loads configuration, wires every oracle component, and serves until
// the process receives SIGINT/SIGTERM.
func Run() error {
	var cfgPath, verifyChain, verifyTxHash, verifyPaymentID, verifyAmount string
	flag.StringVar(&cfgPath, "config", "config.yaml", "path to oracle configuration")
	flag.StringVar(&verifyChain, "verify-chain", "", "run a one-shot Cross-Chain Verifier check against \"asset\" or \"payment\" instead of starting the oracle")
	flag.StringVar(&verifyTxHash, "verify-tx", "", "payment-release transaction hash to verify")
	flag.StringVar(&verifyPaymentID, "verify-payment-id", "", "expected paymentId (decimal)")
	flag.StringVar(&verifyAmount, "verify-amount", "0", "transferred amount in wei, used to select the confirmation tier")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(os.Getenv("ORACLE_ENV"))
	log, runLog := logging.Setup("htlc-oracled", env, cfg.LogFilePath)

	otlpEndpoint := cfg.OTLPEndpoint
	if otlpEndpoint == "" {
		otlpEndpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	}
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "htlc-oracled",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Metrics:     otlpEndpoint != "",
		Traces:      otlpEndpoint != "",
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	assetClient, err := chainclient.Dial(ctx, cfg.Asset.RPCURL, 0, 0, cfg.Asset.ExpectedChainID)
	cancel()
	if err != nil {
		return fmt.Errorf("dial asset chain: %w", err)
	}
	defer assetClient.Close()

	ctx, cancel = context.WithTimeout(context.Background(), 15*time.Second)
	paymentClient, err := chainclient.Dial(ctx, cfg.Payment.RPCURL, 0, 0, cfg.Payment.ExpectedChainID)
	cancel()
	if err != nil {
		return fmt.Errorf("dial payment chain: %w", err)
	}
	defer paymentClient.Close()

	if verifyChain != "" {
		return runVerify(verifyChain, verifyTxHash, verifyPaymentID, verifyAmount, cfg, assetClient, paymentClient)
	}

	assetSigner, err := loadSigner(cfg.Asset)
	if err != nil {
		return fmt.Errorf("load asset signer: %w", err)
	}
	paymentSigner, err := loadSigner(cfg.Payment)
	if err != nil {
		return fmt.Errorf("load payment signer: %w", err)
	}

	assetContract := common.HexToAddress(cfg.Asset.ContractAddress)
	paymentContract := common.HexToAddress(cfg.Payment.ContractAddress)

	metrics := oracle.NewMetrics()

	assetNonces := nonce.New(assetClient, assetSigner.PubKey().Address(), nonce.WithLogger(log))
	paymentNonces := nonce.New(paymentClient, paymentSigner.PubKey().Address(), nonce.WithLogger(log))

	assetSubmitter := submitter.New("asset", assetClient, assetNonces, assetSigner, assetContract, cfg.CallbackGasLimit, cfg.SubmitMaxRetries,
		submitter.WithLogger(log), submitter.WithMetrics(metrics))
	paymentSubmitter := submitter.New("payment", paymentClient, paymentNonces, paymentSigner, paymentContract, cfg.CallbackGasLimit, cfg.SubmitMaxRetries,
		submitter.WithLogger(log), submitter.WithMetrics(metrics))

	assetState := oracle.NewChainState(oracle.ChainAsset)
	paymentState := oracle.NewChainState(oracle.ChainPayment)
	pairs := oracle.NewPairIndex()

	coordinator := oracle.NewCoordinator(assetState, paymentState, assetSubmitter, paymentSubmitter, pairs, oracle.SystemClock{}, metrics, log)

	assetDispatcher := oracle.NewDispatcher(oracle.ChainAsset, assetState, coordinator, log)
	paymentDispatcher := oracle.NewDispatcher(oracle.ChainPayment, paymentState, coordinator, log)

	ctx, cancel = context.WithTimeout(context.Background(), 15*time.Second)
	assetStartBlock, err := assetClient.BlockNumber(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("read asset chain head: %w", err)
	}
	ctx, cancel = context.WithTimeout(context.Background(), 15*time.Second)
	paymentStartBlock, err := paymentClient.BlockNumber(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("read payment chain head: %w", err)
	}

	assetPump := oracle.NewPump(oracle.ChainAsset, assetClient, assetContract, assetDispatcher, cfg.EventPollInterval.Duration, assetStartBlock+1, log)
	paymentPump := oracle.NewPump(oracle.ChainPayment, paymentClient, paymentContract, paymentDispatcher, cfg.EventPollInterval.Duration, paymentStartBlock+1, log)

	sweeper := oracle.NewSweeper(coordinator, assetClient, paymentClient, assetContract, paymentContract, cfg.SweepInterval.Duration, oracle.SystemClock{}, log)

	statusServer := server.New(server.Config{
		Coordinator:         coordinator,
		Asset:               server.ChainEndpoint{Client: assetClient, Contract: assetContract},
		Payment:             server.ChainEndpoint{Client: paymentClient, Contract: paymentContract},
		AssetPump:           assetPump,
		PaymentPump:         paymentPump,
		RunLog:              runLog,
		LogFilePath:         cfg.LogFilePath,
		LogsEndpointEnabled: cfg.LogsEndpointEnabled,
	})

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runUntilCancelled(runCtx, "asset pump", log, assetPump.Run)
	go runUntilCancelled(runCtx, "payment pump", log, paymentPump.Run)
	go runUntilCancelled(runCtx, "sweeper", log, sweeper.Run)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      statusServer.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.Info("status surface listening", "addr", httpServer.Addr)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-runCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		assetDispatcher.Wait()
		paymentDispatcher.Wait()
		return nil
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func runUntilCancelled(ctx context.Context, name string, log interface {
	Error(msg string, args ...any)
}, run func(context.Context) error) {
	if err := run(ctx); err != nil && ctx.Err() == nil {
		log.Error(name+" stopped unexpectedly", "error", err)
	}
}

func loadSigner(cc config.ChainConfig) (*crypto.PrivateKey, error) {
	if strings.TrimSpace(cc.SignerKey) != "" {
		return crypto.PrivateKeyFromHex(cc.SignerKey)
	}
	if strings.TrimSpace(cc.SignerKeystore) == "" {
		return nil, fmt.Errorf("no signer key or keystore configured")
	}
	passphrase := cc.SignerPassphrase
	if passphrase == "" {
		fmt.Fprintf(os.Stderr, "keystore passphrase for %s: ", cc.SignerKeystore)
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("read passphrase: %w", err)
		}
		passphrase = string(raw)
	}
	return crypto.LoadFromKeystore(cc.SignerKeystore, passphrase)
}

// runVerify services the -verify-chain one-shot flag. The Swap Coordinator
// does not call the Cross-Chain Verifier, so it is exposed here as an
// explicit operator/test invocation rather than wired into the automatic
// pipeline.
func runVerify(chainName, txHashHex, paymentIDDecimal, amountDecimal string, cfg config.Config, assetClient, paymentClient *chainclient.Client) error {
	txHash := common.HexToHash(txHashHex)
	paymentID, ok := new(big.Int).SetString(paymentIDDecimal, 10)
	if !ok {
		return fmt.Errorf("invalid -verify-payment-id %q", paymentIDDecimal)
	}
	amount, ok := new(big.Int).SetString(amountDecimal, 10)
	if !ok {
		return fmt.Errorf("invalid -verify-amount %q", amountDecimal)
	}

	var v *verifier.Verifier
	switch chainName {
	case "asset":
		v = verifier.New(assetClient, common.HexToAddress(cfg.Asset.ContractAddress), confirmationTiers(cfg.VerifierConfirmationTable)...)
	case "payment":
		v = verifier.New(paymentClient, common.HexToAddress(cfg.Payment.ContractAddress), confirmationTiers(cfg.VerifierConfirmationTable)...)
	default:
		return fmt.Errorf("-verify-chain must be \"asset\" or \"payment\", got %q", chainName)
	}

	outcome := v.Verify(context.Background(), txHash, paymentID, amount)
	return json.NewEncoder(os.Stdout).Encode(outcome)
}

func confirmationTiers(table []config.ConfirmationTier) []verifier.ConfirmationTier {
	out := make([]verifier.ConfirmationTier, 0, len(table))
	for _, tier := range table {
		minWei, ok := new(big.Int).SetString(tier.MinWei, 10)
		if !ok {
			continue
		}
		out = append(out, verifier.ConfirmationTier{MinWei: minWei, Confirmations: tier.RequiredConfirmations})
	}
	return out
}
