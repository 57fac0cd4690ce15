package main

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/custody-keyengine/api"
	"github.com/ruteri/custody-keyengine/api/keyhandler"
	"github.com/ruteri/custody-keyengine/api/server"
	"github.com/ruteri/custody-keyengine/cmd/flags"
	"github.com/ruteri/custody-keyengine/field"
	"github.com/ruteri/custody-keyengine/hdkey"
	"github.com/ruteri/custody-keyengine/kms"
	"github.com/ruteri/custody-keyengine/params"
	"github.com/ruteri/custody-keyengine/recovery"
	"github.com/ruteri/custody-keyengine/shamir"
	"github.com/ruteri/custody-keyengine/shardseal"
	"github.com/urfave/cli/v2"
)

func mnemonicAction(cCtx *cli.Context) error {
	phrase, err := kms.NewMnemonic(cCtx.Int(BitsFlag.Name))
	if err != nil {
		return err
	}
	fmt.Println(phrase)
	return nil
}

func deviceKeygenAction(cCtx *cli.Context) error {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return err
	}
	return writeJSON("-", map[string]hexutil.Bytes{
		"device_key":    key.Serialize(),
		"device_pubkey": key.PubKey().SerializeCompressed(),
	})
}

// masterFromFlags loads the seed and builds the master key.
func masterFromFlags(cCtx *cli.Context) (params.Params, []byte, *hdkey.Key, error) {
	p, err := flags.Params(cCtx)
	if err != nil {
		return p, nil, nil, err
	}
	source, err := flags.SeedSource(cCtx)
	if err != nil {
		return p, nil, nil, err
	}
	seed, err := source.Seed()
	if err != nil {
		return p, nil, nil, err
	}
	master, err := hdkey.NewMaster(seed, p.Network())
	if err != nil {
		return p, nil, nil, err
	}
	return p, seed, master, nil
}

type deriveOutput struct {
	Path        string        `json:"path"`
	ExtendedKey string        `json:"extended_key"`
	ExtendedPub string        `json:"extended_pub"`
	PublicKey   hexutil.Bytes `json:"public_key"`
	Address     string        `json:"address"`
}

func deriveAction(cCtx *cli.Context) error {
	p, _, master, err := masterFromFlags(cCtx)
	if err != nil {
		return err
	}

	var path hdkey.Path
	if s := cCtx.String(PathFlag.Name); s != "" {
		path, err = hdkey.ParsePath(s)
	} else {
		var raw []uint32
		raw, err = p.PurposePath(params.Purpose(cCtx.String(PurposeFlag.Name)))
		path = hdkey.PathFromUint32(raw)
	}
	if err != nil {
		return err
	}

	key, err := master.Derive(path)
	if err != nil {
		return err
	}

	out := deriveOutput{
		Path:        path.String(),
		ExtendedPub: key.Neuter().String(),
		PublicKey:   key.PublicKeyBytes(),
		Address:     key.EthereumAddress().Hex(),
	}
	if cCtx.Bool(PrivateFlag.Name) {
		out.ExtendedKey = key.String()
	}
	return writeJSON("-", out)
}

func signAction(cCtx *cli.Context) error {
	p, _, master, err := masterFromFlags(cCtx)
	if err != nil {
		return err
	}
	key, err := hdkey.DerivePurpose(master, p, params.Purpose(cCtx.String(PurposeFlag.Name)))
	if err != nil {
		return err
	}

	var sig []byte
	switch {
	case cCtx.IsSet(DigestFlag.Name) && cCtx.IsSet(MessageFlag.Name):
		return errors.New("only one of --message and --digest may be set")
	case cCtx.IsSet(DigestFlag.Name):
		digest, err := hex.DecodeString(cCtx.String(DigestFlag.Name))
		if err != nil {
			return fmt.Errorf("invalid digest: %w", err)
		}
		sig, err = key.SignHash(digest)
		if err != nil {
			return err
		}
	case cCtx.IsSet(MessageFlag.Name):
		sig, err = key.Sign([]byte(cCtx.String(MessageFlag.Name)))
		if err != nil {
			return err
		}
	default:
		return errors.New("one of --message and --digest is required")
	}
	return writeJSON("-", api.SignResponse{Signature: sig})
}

func loadCustodyConfig(cCtx *cli.Context) (custodyConfigJSON, error) {
	var cfg custodyConfigJSON
	path := cCtx.String(CustodyConfigFlag.Name)
	if path == "" {
		return cfg, fmt.Errorf("--%s is required", CustodyConfigFlag.Name)
	}
	return cfg, readJSON(path, &cfg)
}

// splitAction shards the seed through a generation-mode engine so the
// recovery config carries the master fingerprint the engine will check.
func splitAction(cCtx *cli.Context) error {
	p, seed, _, err := masterFromFlags(cCtx)
	if err != nil {
		return err
	}
	policy, err := loadCustodyConfig(cCtx)
	if err != nil {
		return err
	}

	engine, level, err := kms.NewCustodyKMS(seed, p, policy.config())
	if err != nil {
		return err
	}
	defer engine.Lock()

	status := engine.Status()
	bundle, err := newBundle(engine.Field(), status.MasterFingerprint[:], policy, level)
	if err != nil {
		return err
	}
	return writeJSON(cCtx.String(OutFlag.Name), bundle)
}

func newBundle(f *field.Field, fingerprint []byte, policy custodyConfigJSON, level *recovery.Level) (*bundleJSON, error) {
	bundle := &bundleJSON{Recovery: recoveryConfigJSON{MasterFingerprint: fingerprint}}
	if err := bundle.Recovery.addLevel(f, level, policy.Participants); err != nil {
		return nil, err
	}
	shards, err := sealLevel(shardseal.NewSealer(), f, policy, level)
	if err != nil {
		return nil, err
	}
	bundle.Shards = shards
	return bundle, nil
}

func sharerFromFlags(cCtx *cli.Context) (*shamir.Sharer, error) {
	p, err := flags.Params(cCtx)
	if err != nil {
		return nil, err
	}
	return shamir.NewSharer(p)
}

func openAction(cCtx *cli.Context) error {
	sharer, err := sharerFromFlags(cCtx)
	if err != nil {
		return err
	}
	var bundle bundleJSON
	if err := readJSON(cCtx.String(InFlag.Name), &bundle); err != nil {
		return err
	}
	deviceKey, err := hex.DecodeString(cCtx.String(DeviceKeyFlag.Name))
	if err != nil {
		return fmt.Errorf("invalid device key: %w", err)
	}

	opened, err := openShards(sharer.Field(), bundle.Shards, cCtx.Uint64(ParticipantIDFlag.Name), deviceKey)
	if err != nil {
		return err
	}
	return writeJSON(cCtx.String(OutFlag.Name), opened)
}

// reshareAction runs entirely offline: the root seed is never rebuilt.
func reshareAction(cCtx *cli.Context) error {
	sharer, err := sharerFromFlags(cCtx)
	if err != nil {
		return err
	}
	f := sharer.Field()

	var opened []api.SubmitShardRequest
	if err := readJSON(cCtx.String(InFlag.Name), &opened); err != nil {
		return err
	}
	entries, err := decodeOpened(f, opened)
	if err != nil {
		return err
	}
	policy, err := loadCustodyConfig(cCtx)
	if err != nil {
		return err
	}

	var rc recoveryConfigJSON
	if path := cCtx.String(RecoveryConfigFlag.Name); path != "" {
		if err := readJSON(path, &rc); err != nil {
			return err
		}
	}

	level, err := recovery.NewSharder(sharer).ReshareLevel(entries, cCtx.Int(ThresholdFlag.Name), policy.config().Policy())
	if err != nil {
		return err
	}

	bundle := &bundleJSON{Recovery: rc}
	if err := bundle.Recovery.addLevel(f, level, policy.Participants); err != nil {
		return err
	}
	if bundle.Shards, err = sealLevel(shardseal.NewSealer(), f, policy, level); err != nil {
		return err
	}
	return writeJSON(cCtx.String(OutFlag.Name), bundle)
}

type recoverOutput struct {
	Seed              hexutil.Bytes `json:"seed"`
	MasterFingerprint hexutil.Bytes `json:"master_fingerprint"`
}

func recoverAction(cCtx *cli.Context) error {
	p, err := flags.Params(cCtx)
	if err != nil {
		return err
	}
	sharer, err := shamir.NewSharer(p)
	if err != nil {
		return err
	}
	f := sharer.Field()

	var rc recoveryConfigJSON
	if err := readJSON(cCtx.String(RecoveryConfigFlag.Name), &rc); err != nil {
		return err
	}

	var opened []api.SubmitShardRequest
	for _, path := range cCtx.StringSlice(InsFlag.Name) {
		var batch []api.SubmitShardRequest
		if err := readJSON(path, &batch); err != nil {
			return err
		}
		opened = append(opened, batch...)
	}
	leaves, err := decodeOpened(f, opened)
	if err != nil {
		return err
	}

	tree, err := rc.tree(f, leaves)
	if err != nil {
		return err
	}
	seed, err := recovery.NewReducer(sharer).RecoverSeed(tree)
	if err != nil {
		return err
	}
	master, err := hdkey.NewMaster(seed, p.Network())
	if err != nil {
		return err
	}
	fp := master.Fingerprint()
	if !bytes.Equal(fp[:], rc.MasterFingerprint) {
		return kms.ErrFingerprintMismatch
	}
	return writeJSON("-", recoverOutput{Seed: seed, MasterFingerprint: fp[:]})
}

func submitAction(cCtx *cli.Context) error {
	var opened []api.SubmitShardRequest
	if err := readJSON(cCtx.String(InFlag.Name), &opened); err != nil {
		return err
	}

	client := keyhandler.NewClient(cCtx.String(EngineURLFlag.Name))
	var status *api.StatusResponse
	for _, req := range opened {
		var err error
		status, err = client.SubmitShard(req)
		if err != nil {
			return fmt.Errorf("shard %s: %w", req.Shard.ShardID, err)
		}
	}
	return writeJSON("-", status)
}

// serveAction starts an unlocked engine when a seed is given, otherwise a
// locked one that waits for shard submissions.
func serveAction(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	p, err := flags.Params(cCtx)
	if err != nil {
		return err
	}

	var engine *kms.CustodyKMS
	if cCtx.IsSet(flags.SeedHexFlag.Name) || cCtx.IsSet(flags.MnemonicFlag.Name) {
		_, seed, _, err := masterFromFlags(cCtx)
		if err != nil {
			return err
		}
		policy, err := loadCustodyConfig(cCtx)
		if err != nil {
			return err
		}
		var level *recovery.Level
		engine, level, err = kms.NewCustodyKMS(seed, p, policy.config())
		if err != nil {
			logger.Error("Failed to initialize engine", "err", err)
			return err
		}
		status := engine.Status()
		bundle, err := newBundle(engine.Field(), status.MasterFingerprint[:], policy, level)
		if err != nil {
			return err
		}
		if err := writeJSON(cCtx.String(OutFlag.Name), bundle); err != nil {
			return err
		}
		logger.Info("Engine initialized from seed", "shards", len(bundle.Shards))
	} else {
		var rc recoveryConfigJSON
		if err := readJSON(cCtx.String(RecoveryConfigFlag.Name), &rc); err != nil {
			return err
		}
		sharer, err := shamir.NewSharer(p)
		if err != nil {
			return err
		}
		cfg, err := rc.config(sharer.Field())
		if err != nil {
			return err
		}
		engine, err = kms.NewCustodyKMSRecovery(p, cfg)
		if err != nil {
			logger.Error("Failed to initialize engine", "err", err)
			return err
		}
		logger.Info("Engine started locked, waiting for shards", "participants", len(cfg.Participants))
	}
	engine.SetLogger(logger)
	defer engine.Lock()

	handler := keyhandler.NewHandler(engine, logger)
	srv, err := server.New(flags.ConfigureServer(cCtx, logger, cCtx.String(ListenAddrFlag.Name)), handler)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}
	handler.SetMetrics(srv.Metrics())
	srv.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server is running, press Ctrl+C to stop")
	<-exit
	logger.Info("Shutdown signal received")

	srv.Shutdown()
	logger.Info("Server shutdown complete")
	return nil
}
