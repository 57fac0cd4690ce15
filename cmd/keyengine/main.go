package main

import (
	"log"
	"os"

	"github.com/ruteri/custody-keyengine/cmd/flags"
	"github.com/urfave/cli/v2"
)

var KeyengineServiceLogFlag = flags.LogServiceFlagFn("keyengine")

var PurposeFlag = &cli.StringFlag{
	Name:  "purpose",
	Value: "ethereum",
	Usage: "derivation purpose: bitcoin, ethereum or custody",
}
var PathFlag = &cli.StringFlag{
	Name:  "path",
	Usage: "explicit derivation path (e.g. m/44'/60'/0'/0/0), overrides --purpose",
}
var PrivateFlag = &cli.BoolFlag{
	Name:  "private",
	Usage: "print the extended private key as well",
}
var MessageFlag = &cli.StringFlag{
	Name:  "message",
	Usage: "message to sign; it is hashed with SHA-256",
}
var DigestFlag = &cli.StringFlag{
	Name:  "digest",
	Usage: "hex-encoded 32-byte digest to sign",
}
var BitsFlag = &cli.IntFlag{
	Name:  "bits",
	Value: 256,
	Usage: "mnemonic entropy bits (128 to 256, multiple of 32)",
}
var CustodyConfigFlag = &cli.StringFlag{
	Name:  "custody-config",
	Usage: "JSON file with the threshold and participant device keys",
}
var RecoveryConfigFlag = &cli.StringFlag{
	Name:  "recovery-config",
	Usage: "JSON recovery config (root id, ancestors, thresholds, fingerprint)",
}
var InFlag = &cli.StringFlag{
	Name:  "in",
	Value: "-",
	Usage: "input file, - for stdin",
}
var InsFlag = &cli.StringSliceFlag{
	Name:     "in",
	Required: true,
	Usage:    "opened shard files; may be repeated",
}
var OutFlag = &cli.StringFlag{
	Name:  "out",
	Value: "-",
	Usage: "output file, - for stdout",
}
var ThresholdFlag = &cli.IntFlag{
	Name:     "threshold",
	Required: true,
	Usage:    "number of opened shards consumed from each group",
}
var ParticipantIDFlag = &cli.Uint64Flag{
	Name:     "participant-id",
	Required: true,
	Usage:    "participant id whose shards to open",
}
var DeviceKeyFlag = &cli.StringFlag{
	Name:     "device-key",
	Required: true,
	Usage:    "hex-encoded 32-byte device private key",
	EnvVars:  []string{"KEYENGINE_DEVICE_KEY"},
}
var EngineURLFlag = &cli.StringFlag{
	Name:  "engine-url",
	Value: "http://127.0.0.1:8080",
	Usage: "key engine API base URL",
}
var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

func withFlags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func main() {
	app := &cli.App{
		Name:  "keyengine",
		Usage: "Threshold custody key engine",
		Commands: []*cli.Command{
			{
				Name:   "mnemonic",
				Usage:  "generate a BIP-39 mnemonic",
				Flags:  []cli.Flag{BitsFlag},
				Action: mnemonicAction,
			},
			{
				Name:   "device-keygen",
				Usage:  "generate a participant device key pair",
				Action: deviceKeygenAction,
			},
			{
				Name:   "derive",
				Usage:  "derive a purpose or path key from the root seed",
				Flags:  withFlags(flags.EngineFlags, flags.SeedFlags, []cli.Flag{PurposeFlag, PathFlag, PrivateFlag}),
				Action: deriveAction,
			},
			{
				Name:   "sign",
				Usage:  "sign with a purpose key",
				Flags:  withFlags(flags.EngineFlags, flags.SeedFlags, []cli.Flag{PurposeFlag, MessageFlag, DigestFlag}),
				Action: signAction,
			},
			{
				Name:   "split",
				Usage:  "shard the root seed and seal each shard to its holder",
				Flags:  withFlags(flags.EngineFlags, flags.SeedFlags, []cli.Flag{CustodyConfigFlag, OutFlag}),
				Action: splitAction,
			},
			{
				Name:   "open",
				Usage:  "open and sign the shards of one participant",
				Flags:  withFlags(flags.EngineFlags, []cli.Flag{InFlag, OutFlag, ParticipantIDFlag, DeviceKeyFlag}),
				Action: openAction,
			},
			{
				Name:   "reshare",
				Usage:  "re-share opened shards to a new policy without the root seed",
				Flags:  withFlags(flags.EngineFlags, []cli.Flag{InFlag, OutFlag, ThresholdFlag, CustodyConfigFlag, RecoveryConfigFlag}),
				Action: reshareAction,
			},
			{
				Name:   "recover",
				Usage:  "collapse opened shards back into the root seed",
				Flags:  withFlags(flags.EngineFlags, []cli.Flag{InsFlag, RecoveryConfigFlag}),
				Action: recoverAction,
			},
			{
				Name:   "submit",
				Usage:  "submit opened shards to a running engine",
				Flags:  []cli.Flag{InFlag, EngineURLFlag},
				Action: submitAction,
			},
			{
				Name:  "serve",
				Usage: "serve the key engine API",
				Flags: withFlags(flags.EngineFlags, flags.SeedFlags, flags.CommonFlags, []cli.Flag{
					ListenAddrFlag, CustodyConfigFlag, RecoveryConfigFlag, OutFlag, KeyengineServiceLogFlag,
				}),
				Action: serveAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
