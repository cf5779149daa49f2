// Command revaultctl builds, signs, finalizes and verifies the transactions
// of a Revault-style vault. In-progress transactions are kept as PSBTs in a
// bbolt database under the data directory, so participants can sign in
// separate sessions and exchange PSBTs with `show` and `merge`.
package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/urfave/cli/v2"

	"github.com/bitfsorg/librevault-go/amount"
	"github.com/bitfsorg/librevault-go/config"
	"github.com/bitfsorg/librevault-go/keystore"
	"github.com/bitfsorg/librevault-go/psbtstore"
)

const envKey = "env"

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "revaultctl:", err)
		os.Exit(1)
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "revaultctl",
		Usage:     "Build and sign the transactions of a vault",
		Writer:    stdout,
		ErrWriter: stderr,
		Metadata:  map[string]interface{}{},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "datadir",
				Usage:   "directory holding the config file and the PSBT database",
				Value:   config.DefaultDataDir(),
				EnvVars: []string{"REVAULT_DATADIR"},
			},
		},
		Before: func(c *cli.Context) error { return setup(c, stdout, stderr) },
		After: func(c *cli.Context) error {
			if e, ok := c.App.Metadata[envKey].(*env); ok {
				return e.store.Close()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write a default config file to the data directory",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "network", Value: "mainnet"},
					&cli.BoolFlag{Name: "force", Usage: "overwrite an existing config"},
				},
				Action: initConfig,
			},
			{
				Name:  "build",
				Usage: "Build graph transactions",
				Subcommands: []*cli.Command{
					{
						Name:  "chain",
						Usage: "Build the Unvault, Cancel, Emergency and UnvaultEmergency of a deposit",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "deposit-tx", Usage: "hex-encoded signed deposit transaction", Required: true},
							&cli.UintFlag{Name: "vout", Usage: "deposit output index"},
							labelFlag(),
						},
						Action: func(c *cli.Context) error {
							raw, err := hex.DecodeString(c.String("deposit-tx"))
							if err != nil {
								return fmt.Errorf("deposit-tx: %w", err)
							}
							chain, err := envFrom(c).buildChain(raw, uint32(c.Uint("vout")), c.String("label"))
							if err != nil {
								return err
							}
							for _, tx := range chain.All() {
								fmt.Fprintf(c.App.Writer, "%s %s\n", tx.Txid(), tx.Role())
							}
							return nil
						},
					},
					{
						Name:  "spend",
						Usage: "Build a Spend of stored Unvault transactions",
						Flags: []cli.Flag{
							&cli.StringSliceFlag{Name: "unvault", Usage: "txid of a stored Unvault", Required: true},
							&cli.StringSliceFlag{Name: "output", Usage: "<address>=<sats>"},
							&cli.Int64Flag{Name: "change", Usage: "sats returned to the deposit descriptor"},
							labelFlag(),
						},
						Action: buildSpend,
					},
				},
			},
			{
				Name:  "sign",
				Usage: "Sign every input of a stored transaction the key can sign",
				Flags: []cli.Flag{
					txidFlag(),
					&cli.StringFlag{Name: "key", Usage: "WIF or hex private key", EnvVars: []string{"REVAULT_KEY"}},
					&cli.PathFlag{Name: "keyfile", Usage: "encrypted key file from key generate or key import"},
					passwordFlag(),
				},
				Action: func(c *cli.Context) error {
					txid, err := parseTxid(c.String("txid"))
					if err != nil {
						return err
					}
					priv, err := signingKey(c)
					if err != nil {
						return err
					}
					n, err := envFrom(c).sign(txid, priv)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "signed %d input(s)\n", n)
					return nil
				},
			},
			{
				Name:  "key",
				Usage: "Manage encrypted participant keys",
				Subcommands: []*cli.Command{
					{
						Name:  "generate",
						Usage: "Create a new key and write it encrypted",
						Flags: []cli.Flag{keyOutFlag(), passwordFlag()},
						Action: func(c *cli.Context) error {
							priv, err := btcec.NewPrivateKey()
							if err != nil {
								return err
							}
							return saveKey(c, priv)
						},
					},
					{
						Name:  "import",
						Usage: "Encrypt an existing WIF or hex key",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "key", Usage: "WIF or hex private key", Required: true, EnvVars: []string{"REVAULT_KEY"}},
							keyOutFlag(),
							passwordFlag(),
						},
						Action: func(c *cli.Context) error {
							priv, err := parsePrivKey(c.String("key"))
							if err != nil {
								return err
							}
							return saveKey(c, priv)
						},
					},
					{
						Name:  "show",
						Usage: "Print the public key of a key file",
						Flags: []cli.Flag{
							&cli.PathFlag{Name: "keyfile", Required: true},
							passwordFlag(),
						},
						Action: func(c *cli.Context) error {
							priv, err := keystore.Load(c.Path("keyfile"), c.String("password"))
							if err != nil {
								return err
							}
							fmt.Fprintln(c.App.Writer, hex.EncodeToString(priv.PubKey().SerializeCompressed()))
							return nil
						},
					},
				},
			},
			{
				Name:  "merge",
				Usage: "Merge the signatures of a base64 PSBT into a stored transaction",
				Flags: []cli.Flag{
					txidFlag(),
					&cli.StringFlag{Name: "psbt", Usage: "base64 PSBT", Required: true},
				},
				Action: withTxid(func(e *env, txid chainhash.Hash, c *cli.Context) error {
					n, err := e.merge(txid, c.String("psbt"))
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "added %d signature(s)\n", n)
					return nil
				}),
			},
			{
				Name:  "finalize",
				Usage: "Build the final witnesses of a fully signed transaction",
				Flags: []cli.Flag{txidFlag()},
				Action: withTxid(func(e *env, txid chainhash.Hash, _ *cli.Context) error {
					return e.finalize(txid)
				}),
			},
			{
				Name:  "verify",
				Usage: "Run the script interpreter on a finalized transaction",
				Flags: []cli.Flag{txidFlag()},
				Action: withTxid(func(e *env, txid chainhash.Hash, _ *cli.Context) error {
					return e.verify(txid)
				}),
			},
			{
				Name:  "extract",
				Usage: "Print a verified transaction as network hex",
				Flags: []cli.Flag{txidFlag()},
				Action: withTxid(func(e *env, txid chainhash.Hash, c *cli.Context) error {
					raw, err := e.extract(txid)
					if err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, hex.EncodeToString(raw))
					return nil
				}),
			},
			{
				Name:  "show",
				Usage: "Describe a stored transaction and print its PSBT",
				Flags: []cli.Flag{txidFlag()},
				Action: withTxid(func(e *env, txid chainhash.Hash, _ *cli.Context) error {
					return e.show(txid)
				}),
			},
			{
				Name:  "list",
				Usage: "List stored transactions",
				Flags: []cli.Flag{labelFlag()},
				Action: func(c *cli.Context) error {
					return envFrom(c).list(c.String("label"))
				},
			},
		},
	}
}

// setup loads the config, opens the store and attaches the env to the app.
// A missing config file falls back to defaults so that init can run.
func setup(c *cli.Context, stdout, stderr io.Writer) error {
	dataDir := c.String("datadir")

	cfg, err := config.LoadConfig(config.ConfigPath(dataDir))
	missing := errors.Is(err, config.ErrConfigNotFound)
	if err != nil && !missing {
		return err
	}
	cfg.DataDir = dataDir
	if err := config.ValidateConfig(cfg); err != nil {
		return err
	}

	log, err := newLogger(stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	if missing {
		log.Debug().Str("datadir", dataDir).Msg("no config file, using defaults")
	}

	store, err := psbtstore.OpenBoltStore(filepath.Join(dataDir, "psbt.db"))
	if err != nil {
		return err
	}
	e, err := newEnv(cfg, store, log, stdout)
	if err != nil {
		_ = store.Close()
		return err
	}
	c.App.Metadata[envKey] = e
	return nil
}

func txidFlag() cli.Flag {
	return &cli.StringFlag{Name: "txid", Usage: "transaction id", Required: true}
}

func labelFlag() cli.Flag {
	return &cli.StringFlag{Name: "label", Usage: "group name for the stored transactions"}
}

func passwordFlag() cli.Flag {
	return &cli.StringFlag{Name: "password", Usage: "key file password", EnvVars: []string{"REVAULT_PASSWORD"}}
}

func keyOutFlag() cli.Flag {
	return &cli.PathFlag{Name: "out", Usage: "key file to create", Required: true}
}

// signingKey reads the key from --key or, failing that, --keyfile.
func signingKey(c *cli.Context) (*btcec.PrivateKey, error) {
	switch {
	case c.String("key") != "" && c.Path("keyfile") != "":
		return nil, errors.New("use either --key or --keyfile")
	case c.String("key") != "":
		return parsePrivKey(c.String("key"))
	case c.Path("keyfile") != "":
		return keystore.Load(c.Path("keyfile"), c.String("password"))
	default:
		return nil, errors.New("--key or --keyfile is required")
	}
}

func saveKey(c *cli.Context, priv *btcec.PrivateKey) error {
	path := c.Path("out")
	if err := keystore.Save(path, priv, c.String("password"), keystore.DefaultParams); err != nil {
		return err
	}
	envFrom(c).log.Info().Str("path", path).Msg("wrote key file")
	fmt.Fprintln(c.App.Writer, hex.EncodeToString(priv.PubKey().SerializeCompressed()))
	return nil
}

func envFrom(c *cli.Context) *env {
	return c.App.Metadata[envKey].(*env)
}

func withTxid(fn func(e *env, txid chainhash.Hash, c *cli.Context) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		txid, err := parseTxid(c.String("txid"))
		if err != nil {
			return err
		}
		return fn(envFrom(c), txid, c)
	}
}

func initConfig(c *cli.Context) error {
	e := envFrom(c)
	path := config.ConfigPath(e.cfg.DataDir)
	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		return fmt.Errorf("%s exists, use --force to overwrite", path)
	}

	cfg := config.DefaultConfig()
	cfg.DataDir = e.cfg.DataDir
	cfg.Network = c.String("network")
	if err := config.ValidateConfig(cfg); err != nil {
		return err
	}
	if err := config.SaveConfig(path, cfg); err != nil {
		return err
	}
	e.log.Info().Str("path", path).Msg("wrote config")
	return nil
}

func buildSpend(c *cli.Context) error {
	e := envFrom(c)

	var unvaults []chainhash.Hash
	for _, s := range c.StringSlice("unvault") {
		txid, err := parseTxid(s)
		if err != nil {
			return err
		}
		unvaults = append(unvaults, txid)
	}
	var outputs []*wire.TxOut
	for _, s := range c.StringSlice("output") {
		out, err := parseOutput(s, e.params)
		if err != nil {
			return err
		}
		outputs = append(outputs, out)
	}
	change, err := amount.New(c.Int64("change"))
	if err != nil {
		return fmt.Errorf("change: %w", err)
	}

	spend, err := e.buildSpend(unvaults, outputs, change, c.String("label"))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s %s\n", spend.Txid(), spend.Role())
	return nil
}
