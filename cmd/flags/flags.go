package flags

import (
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/custody-keyengine/api"
	"github.com/ruteri/custody-keyengine/common"
	"github.com/ruteri/custody-keyengine/interfaces"
	"github.com/ruteri/custody-keyengine/kms"
	"github.com/ruteri/custody-keyengine/params"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *api.HTTPServerConfig {
	cfg := api.DefaultHTTPServerConfig(listenAddr, logger)
	cfg.MetricsAddr = cCtx.String(MetricsAddrFlag.Name)
	cfg.EnablePprof = cCtx.Bool(PprofFlag.Name)
	cfg.DrainDuration = time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second
	return cfg
}

// Params builds engine parameters from --network and --field-prime.
func Params(cCtx *cli.Context) (params.Params, error) {
	network, err := params.ParseNetwork(cCtx.String(NetworkFlag.Name))
	if err != nil {
		return params.Params{}, err
	}
	opts := []params.Option{params.WithNetwork(network)}

	if s := cCtx.String(FieldPrimeFlag.Name); s != "" {
		prime, ok := new(big.Int).SetString(s, 0)
		if !ok {
			return params.Params{}, fmt.Errorf("invalid field prime %q", s)
		}
		opts = append(opts, params.WithFieldPrime(prime))
	}
	return params.New(opts...)
}

// SeedSource picks the seed source from --seed-hex or --mnemonic.
func SeedSource(cCtx *cli.Context) (interfaces.SeedSource, error) {
	seedHex := cCtx.String(SeedHexFlag.Name)
	mnemonic := cCtx.String(MnemonicFlag.Name)
	switch {
	case seedHex != "" && mnemonic != "":
		return nil, fmt.Errorf("only one of --%s and --%s may be set", SeedHexFlag.Name, MnemonicFlag.Name)
	case seedHex != "":
		return kms.HexSeed(seedHex), nil
	case mnemonic != "":
		return kms.MnemonicSeed{Mnemonic: mnemonic, Passphrase: cCtx.String(PassphraseFlag.Name)}, nil
	default:
		return nil, fmt.Errorf("one of --%s and --%s is required", SeedHexFlag.Name, MnemonicFlag.Name)
	}
}

var NetworkFlag = &cli.StringFlag{
	Name:    "network",
	Value:   "mainnet",
	Usage:   "extended key network: mainnet or testnet",
	EnvVars: []string{"KEYENGINE_NETWORK"},
}

var FieldPrimeFlag = &cli.StringFlag{
	Name:  "field-prime",
	Usage: "override the sharing field prime (decimal or 0x hex, at least 513 bits)",
}

var SeedHexFlag = &cli.StringFlag{
	Name:    "seed-hex",
	Usage:   "hex-encoded 64-byte root seed",
	EnvVars: []string{"KEYENGINE_SEED_HEX"},
}
var MnemonicFlag = &cli.StringFlag{
	Name:    "mnemonic",
	Usage:   "BIP-39 mnemonic to derive the root seed from",
	EnvVars: []string{"KEYENGINE_MNEMONIC"},
}
var PassphraseFlag = &cli.StringFlag{
	Name:    "passphrase",
	Usage:   "optional BIP-39 passphrase",
	EnvVars: []string{"KEYENGINE_PASSPHRASE"},
}

var EngineFlags = []cli.Flag{
	NetworkFlag,
	FieldPrimeFlag,
}

var SeedFlags = []cli.Flag{
	SeedHexFlag,
	MnemonicFlag,
	PassphraseFlag,
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}
