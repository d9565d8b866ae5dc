// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/skolbin-ssi/azure-pipelines-agent/lib/sealed"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/secret"
)

func (c *cli) runSecrets(args []string) error {
	if len(args) < 1 {
		c.printSecretsUsage()
		return usageError("secrets subcommand required")
	}
	switch args[0] {
	case "keygen":
		return c.runKeygen(args[1:])
	case "seal":
		return c.runSeal(args[1:])
	case "-h", "--help", "help":
		c.printSecretsUsage()
		return nil
	default:
		c.printSecretsUsage()
		return usageError("unknown secrets subcommand: %q", args[0])
	}
}

func (c *cli) printSecretsUsage() {
	fmt.Fprintf(c.stderr, `Usage: agent-step secrets <subcommand> [flags]

Subcommands:
  keygen   Generate an agent keypair
  seal     Seal a JSON object of secret variables to agent public keys
`)
}

// runKeygen writes a new identity file and prints the public key. The
// identity never goes to stdout.
func (c *cli) runKeygen(args []string) error {
	var output string
	flagSet := pflag.NewFlagSet("agent-step secrets keygen", pflag.ContinueOnError)
	flagSet.SetOutput(c.stderr)
	flagSet.StringVarP(&output, "output", "o", "", "identity file to create (required)")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return usageError("%v", err)
	}
	if output == "" {
		return usageError("--output is required")
	}

	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return err
	}
	defer keypair.Close()

	file, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("creating identity file: %w", err)
	}
	_, writeErr := fmt.Fprintf(file, "# public key: %s\n%s\n", keypair.PublicKey, keypair.PrivateKey.Bytes())
	if err := errors.Join(writeErr, file.Close()); err != nil {
		return fmt.Errorf("writing identity file: %w", err)
	}
	fmt.Fprintln(c.stdout, keypair.PublicKey)
	return nil
}

// runSeal reads a JSON object of name to value from a file or stdin
// and prints the sealed bundle.
func (c *cli) runSeal(args []string) error {
	var recipients []string
	flagSet := pflag.NewFlagSet("agent-step secrets seal", pflag.ContinueOnError)
	flagSet.SetOutput(c.stderr)
	flagSet.StringArrayVarP(&recipients, "recipient", "r", nil, "agent public key (age1...); repeatable")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return usageError("%v", err)
	}
	if len(recipients) == 0 {
		return usageError("at least one --recipient is required")
	}
	for _, recipient := range recipients {
		if err := sealed.ParsePublicKey(recipient); err != nil {
			return usageError("%v", err)
		}
	}

	var (
		data []byte
		err  error
	)
	switch {
	case flagSet.NArg() == 0 || flagSet.Arg(0) == "-":
		data, err = io.ReadAll(c.stdin)
	default:
		data, err = os.ReadFile(flagSet.Arg(0))
	}
	if err != nil {
		return fmt.Errorf("reading secret variables: %w", err)
	}
	defer secret.Zero(data)

	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("secret variables must be a JSON object of strings: %w", err)
	}
	bundle, err := sealed.SealVariables(values, recipients)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, bundle)
	return nil
}
