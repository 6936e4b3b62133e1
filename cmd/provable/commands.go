package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"unicode/utf8"

	"github.com/urfave/cli/v2"

	"github.com/kuip/provable-sdk/internal/config"
	"github.com/kuip/provable-sdk/pkg/digest"
	"github.com/kuip/provable-sdk/pkg/logger"
	"github.com/kuip/provable-sdk/pkg/proofs"
	"github.com/kuip/provable-sdk/sdk/go/kayros"
)

var (
	algorithmFlag = &cli.StringFlag{
		Name:    "algorithm",
		Aliases: []string{"a"},
		Usage:   "keccak256 or sha256 (defaults to the configured algorithm)",
	}
	fileFlag = &cli.StringFlag{
		Name:    "file",
		Aliases: []string{"f"},
		Usage:   "read the payload from a file, - for stdin",
	}
	jsonFlag = &cli.BoolFlag{
		Name:  "json",
		Usage: "treat the payload as a JSON document and hash its canonical form",
	}
)

func hashCommand() *cli.Command {
	return &cli.Command{
		Name:      "hash",
		Usage:     "print the digest of a payload without contacting the authority",
		ArgsUsage: "[data]",
		Flags:     []cli.Flag{algorithmFlag, fileFlag, jsonFlag},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			alg, err := algorithm(c, cfg)
			if err != nil {
				return err
			}
			value, err := readPayload(c)
			if err != nil {
				return err
			}
			canonical, err := proofs.CanonicalBytes(value)
			if err != nil {
				return err
			}
			d, err := digest.Bytes(canonical, alg)
			if err != nil {
				return err
			}
			return printJSON(c, map[string]string{"hash": d.String(), "hashAlgorithm": string(alg)})
		},
	}
}

func proveCommand() *cli.Command {
	return &cli.Command{
		Name:      "prove",
		Usage:     "submit the payload digest and print the resulting proof envelope",
		ArgsUsage: "[data]",
		Flags:     []cli.Flag{algorithmFlag, fileFlag, jsonFlag},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			alg, err := algorithm(c, cfg)
			if err != nil {
				return err
			}
			value, err := readPayload(c)
			if err != nil {
				return err
			}
			client, err := newClient(cfg)
			if err != nil {
				return err
			}
			env, err := proofs.NewProver(client).Seal(c.Context, value, alg)
			if err != nil {
				return err
			}
			return printJSON(c, env)
		},
	}
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "verify a proof envelope, optionally against the authority record",
		ArgsUsage: "<envelope.json|->",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "remote", Aliases: []string{"r"}, Usage: "also check the authority record"},
			&cli.StringFlag{Name: "data", Usage: "verify this payload instead of the envelope's own data"},
			&cli.StringFlag{Name: "data-file", Usage: "verify the contents of this file instead of the envelope's own data"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("verify expects exactly one envelope argument", 2)
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			raw, err := readSource(c.Args().First())
			if err != nil {
				return err
			}
			var env proofs.Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				return fmt.Errorf("decode envelope: %w", err)
			}

			opts := proofs.VerifyOptions{CheckRemote: c.Bool("remote")}
			switch {
			case c.IsSet("data"):
				opts.Data = []byte(c.String("data"))
			case c.IsSet("data-file"):
				if opts.Data, err = readSource(c.String("data-file")); err != nil {
					return err
				}
			case env.Data != nil:
				if opts.Data, err = proofs.CanonicalBytes(env.Data); err != nil {
					return err
				}
			}

			var fetcher proofs.RecordFetcher
			if opts.CheckRemote {
				client, err := newClient(cfg)
				if err != nil {
					return err
				}
				fetcher = client
			}
			res, err := proofs.NewVerifier(fetcher).Verify(c.Context, env, opts)
			if err != nil {
				return err
			}
			if err := printJSON(c, res); err != nil {
				return err
			}
			if !res.Valid {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

func recordCommand() *cli.Command {
	return &cli.Command{
		Name:      "record",
		Usage:     "print the authority record stored for a digest",
		ArgsUsage: "<hash>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("record expects exactly one hash argument", 2)
			}
			d, err := digest.Parse(c.Args().First())
			if err != nil {
				return err
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			client, err := newClient(cfg)
			if err != nil {
				return err
			}
			rec, err := client.FetchRecord(c.Context, d)
			if err != nil {
				if kayros.IsNotFound(err) {
					return cli.Exit(fmt.Sprintf("no record for %s", d), 1)
				}
				return err
			}
			if len(rec.Raw) > 0 {
				return printJSON(c, json.RawMessage(rec.Raw))
			}
			return printJSON(c, rec)
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return nil, err
	}
	if url := c.String("authority"); url != "" {
		cfg.Authority.BaseURL = url
	}

	// stdout carries command output, logs always go to stderr.
	cfg.Log.OutputPaths = []string{"stderr"}
	cfg.Log.Audit.Enabled = false
	if c.Bool("verbose") {
		cfg.Log.Level = "debug"
	} else {
		cfg.Log.Level = "warn"
	}
	if err := logger.Init(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newClient(cfg *config.Config) (*kayros.Client, error) {
	return kayros.NewClient(cfg.Authority.ClientConfig(),
		&http.Client{Timeout: cfg.Authority.Timeout()},
		kayros.WithLogger(logger.Named("kayros")),
		kayros.WithUserAgent("provable-cli"),
	)
}

func algorithm(c *cli.Context, cfg *config.Config) (digest.Algorithm, error) {
	if name := c.String("algorithm"); name != "" {
		return digest.ParseAlgorithm(name)
	}
	return cfg.Authority.Algorithm(), nil
}

// readPayload returns the value to hash: the first argument or the file
// contents as a string, or a decoded document when --json is set.
func readPayload(c *cli.Context) (any, error) {
	var raw []byte
	switch {
	case c.IsSet("file"):
		b, err := readSource(c.String("file"))
		if err != nil {
			return nil, err
		}
		raw = b
	case c.NArg() == 1:
		raw = []byte(c.Args().First())
	default:
		return nil, cli.Exit("expected exactly one data argument or --file", 2)
	}

	if !c.Bool("json") {
		if !utf8.Valid(raw) {
			return raw, nil
		}
		return string(raw), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("decode json payload: %w", err)
	}
	if value == nil {
		return nil, errors.New("json payload must not be null")
	}
	return value, nil
}

func readSource(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(name)
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
