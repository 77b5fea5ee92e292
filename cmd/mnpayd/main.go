package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cmwaters/mnpay"
	"github.com/cmwaters/mnpay/config"
	"github.com/cmwaters/mnpay/payments"
	"github.com/cmwaters/mnpay/pkg/chain"
	"github.com/cmwaters/mnpay/pkg/mnsync"
	"github.com/cmwaters/mnpay/pkg/registry"
	"github.com/cmwaters/mnpay/pkg/sign"
	"github.com/cmwaters/mnpay/tx"
	"github.com/joho/godotenv"
	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := mainE(); err != nil {
		os.Exit(1)
	}
}

func mainE() error {
	// Try to load .env from CWD if present; otherwise use environment as-is
	if _, statErr := os.Stat(".env"); statErr == nil {
		_ = godotenv.Load(".env")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger(os.Getenv("MNPAY_DEBUG") != "")

	root := NewRootCmd(logger)
	if err := root.ExecuteContext(ctx); err != nil {
		logger.Error().Err(err).Msg("failure")
		return err
	}
	return nil
}

func newLogger(debug bool) zerolog.Logger {
	if debug {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			Level(zerolog.DebugLevel).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).Level(zerolog.InfoLevel).With().Timestamp().Logger()
}

func NewRootCmd(logger zerolog.Logger) *cobra.Command {
	rootCmd := &cobra.Command{
		Use: "mnpayd SUBCOMMAND",

		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},

		SilenceUsage: true,

		Long: `mnpayd runs a node of the masternode payments network on a devnet chain.

Initial setup involves:

1. Generate a key for every masternode and its registry entry:
     $ mnpayd keygen --outpoint <txid>:<index> --payee <hex script>
2. Collect the entries into a JSON array, e.g. masternodes.json.
3. Configure each node through MNPAY_ environment variables or a .env file.
   Masternodes set MNPAY_OUTPOINT and MNPAY_KEY.
4. Run the node:
     $ mnpayd run
`,
	}

	rootCmd.AddCommand(
		NewKeygenCmd(logger),
		NewRunCmd(logger),
	)

	return rootCmd
}

func NewKeygenCmd(_ zerolog.Logger) *cobra.Command {
	var (
		outpoint    string
		payee       string
		startHeight int64
	)

	cmd := &cobra.Command{
		Use: "keygen",

		Short: "Generate a masternode key, optionally printing its registry entry",

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			signer, err := sign.GenerateKeySigner()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "MNPAY_KEY=%s\n", signer.PrivateKeyHex())
			fmt.Fprintf(out, "pubkey: %x\n", signer.PubKey())

			if outpoint == "" {
				return nil
			}
			op, err := payments.ParseOutpoint(outpoint)
			if err != nil {
				return err
			}
			script, err := hex.DecodeString(payee)
			if err != nil {
				return fmt.Errorf("payee: %w", err)
			}
			if len(script) == 0 {
				return fmt.Errorf("a payee is required with --outpoint")
			}
			entry := registry.NewEntry(payments.MasternodeInfo{
				Outpoint:        op,
				PubKey:          signer.PubKey(),
				Payee:           tx.Script(script),
				ProtocolVersion: payments.ProtocolVersion,
				StartHeight:     startHeight,
			})
			data, err := json.MarshalIndent(entry, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "MNPAY_OUTPOINT=%s\n", outpoint)
			fmt.Fprintln(out, string(data))
			return nil
		},
	}

	cmd.Flags().StringVar(&outpoint, "outpoint", "", "collateral outpoint as txid:index")
	cmd.Flags().StringVar(&payee, "payee", "", "hex encoded payee script")
	cmd.Flags().Int64Var(&startHeight, "start-height", 0, "height the masternode became active")
	return cmd
}

func NewRunCmd(logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use: "run",

		Short: "Run a payments node configured from the environment",

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.Debug {
				logger = newLogger(true)
			}
			logger.Info().Str("config", cfg.DebugString()).Msg("config loaded")
			return run(cmd.Context(), cfg, logger)
		},
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	params := cfg.Parameters()

	devnet := chain.New(chain.DefaultParams(), []byte(cfg.ChainSeed))
	devnet.ExtendTo(cfg.StartHeight)

	reg, err := registry.LoadFile(cfg.RegistryFile, devnet,
		registry.WithMinProtocol(params.MinProtocolVersion),
		registry.WithAskForHandler(logAskFor(logger)),
	)
	if err != nil {
		return fmt.Errorf("loading registry: %w", err)
	}
	logger.Info().Int("masternodes", reg.Size()).Str("file", cfg.RegistryFile).Msg("registry loaded")

	// the devnet chain is local and the registry static, so only the winners
	// list needs syncing from peers
	tracker := mnsync.New(cfg.SyncTimeout, logger.With().Str("module", "mnsync").Logger())
	tracker.SetStage(mnsync.StageWinners)

	var engineOpts []payments.Option
	if cfg.IsMasternode() {
		signer, err := sign.NewKeySignerFromHex(cfg.Key)
		if err != nil {
			return fmt.Errorf("masternode key: %w", err)
		}
		mn, ok := reg.Masternode(*cfg.Outpoint)
		if !ok {
			return fmt.Errorf("masternode %s not in registry", cfg.Outpoint)
		}
		if !bytes.Equal(mn.PubKey, signer.PubKey()) {
			return fmt.Errorf("key does not match the pubkey of masternode %s", cfg.Outpoint)
		}
		engineOpts = append(engineOpts, payments.WithActiveMasternode(*cfg.Outpoint, signer))
	}

	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddr))
	if err != nil {
		return fmt.Errorf("creating libp2p host: %w", err)
	}
	defer func() {
		if err := h.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing libp2p host")
		}
	}()
	for _, addr := range h.Addrs() {
		logger.Info().Str("addr", fmt.Sprintf("%s/p2p/%s", addr, h.ID())).Msg("listening")
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return fmt.Errorf("creating gossipsub: %w", err)
	}

	node, err := mnpay.New(ctx, h, ps, reg, devnet, tracker, params,
		mnpay.WithLogger(logger),
		mnpay.WithEngineOptions(engineOpts...),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := node.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing node")
		}
	}()

	bootstrap(ctx, h, node, cfg.Bootstrap, logger)
	node.UpdatedBlockTip(ctx, devnet.Tip())

	ticker := time.NewTicker(cfg.BlockInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down")
			return nil
		case now := <-ticker.C:
			produceBlock(ctx, devnet, reg, node, logger)
			tracker.Tick(now)
		}
	}
}

// logAskFor reports votes from masternodes missing in the static registry.
// The registry file is the only source of masternodes, so the operator has to
// add the entry.
func logAskFor(logger zerolog.Logger) func(peer.ID, payments.Outpoint) {
	return func(from peer.ID, outpoint payments.Outpoint) {
		logger.Warn().
			Str("peer", from.String()).
			Str("outpoint", outpoint.String()).
			Msg("vote from masternode missing in registry")
	}
}

// bootstrap connects to the configured peers and asks each for the votes it
// holds.
func bootstrap(ctx context.Context, h host.Host, node *mnpay.Node, addrs []string, logger zerolog.Logger) {
	for _, addr := range addrs {
		info, err := peer.AddrInfoFromString(addr)
		if err != nil {
			logger.Error().Err(err).Str("addr", addr).Msg("invalid bootstrap address")
			continue
		}
		if err := h.Connect(ctx, *info); err != nil {
			logger.Warn().Err(err).Str("peer", info.ID.String()).Msg("connecting to bootstrap peer")
			continue
		}
		if err := node.Network.Send(ctx, info.ID, payments.NewSyncRequestMessage()); err != nil {
			logger.Warn().Err(err).Str("peer", info.ID.String()).Msg("requesting votes")
		}
	}
}

// produceBlock extends the devnet chain by a block paying the masternode the
// engine picks, and checks the block the way a validating node would.
func produceBlock(ctx context.Context, devnet *chain.MemChain, reg *registry.Static, node *mnpay.Node, logger zerolog.Logger) {
	height := devnet.Tip() + 1
	output, fallback, err := node.FillBlockPayee(height, node.RequiredPayment(height, 0))
	if err != nil {
		logger.Error().Err(err).Int64("height", height).Msg("no masternode to pay")
	}
	coinbase := &tx.Transaction{Outputs: []tx.Output{output}}
	if !node.IsTransactionValid(coinbase, height, 0) {
		logger.Warn().Int64("height", height).Msg("produced block does not pay the tallied payee")
	}

	height, hash := devnet.Extend()
	if err == nil {
		reg.MarkPaidByPayee(output.Script, height)
	}
	logger.Info().
		Int64("height", height).
		Str("hash", hash.String()).
		Str("payee", output.Script.String()).
		Bool("fallback", fallback).
		Str("votes", node.String()).
		Msg("new block")
	node.UpdatedBlockTip(ctx, height)
}
