package main

import (
	"errors"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
)

const (
	defaultAddr             = ":8080"
	defaultMaxPayloadLength = 4 * 1024 * 1024
)

// flags defines wsecho's CLI surface. Every flag except config is also
// readable from configFilePath's [wsecho] TOML table and from a
// WSECHO_-prefixed environment variable, in that precedence order
// (CLI > env > file), matching cli/v3's ValueSourceChain resolution order.
// The config flag is parsed but its value is not read: the TOML file is
// always configFilePath, fixed by the caller before flags are parsed.
func flags(configFilePath altsrc.StringSourcer) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "addr",
			Usage: "address to listen on",
			Value: defaultAddr,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSECHO_ADDR"),
				toml.TOML("wsecho.addr", configFilePath),
			),
		},
		&cli.IntFlag{
			Name:  "max-payload-length",
			Usage: "maximum frame payload length in bytes",
			Value: defaultMaxPayloadLength,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSECHO_MAX_PAYLOAD_LENGTH"),
				toml.TOML("wsecho.max_payload_length", configFilePath),
			),
			Validator: validatePositive,
		},
		&cli.BoolFlag{
			Name:  "pretty-log",
			Usage: "human-readable console logging, instead of JSON",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSECHO_PRETTY_LOG"),
				toml.TOML("wsecho.pretty_log", configFilePath),
			),
		},
		&cli.StringFlag{
			Name:  "config",
			Usage: "path to the wsecho TOML config file",
			Value: "",
		},
	}
}

func validatePositive(n int) error {
	if n <= 0 {
		return errors.New("must be positive")
	}
	return nil
}
