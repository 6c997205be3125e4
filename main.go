package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hexresearch/hexstody-sub000/service"
	"github.com/hexresearch/hexstody-sub000/signature"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "hexstody",
		Short:         "Custodial wallet with operator approved withdrawals",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "YAML config file")
	root.AddCommand(newServeCmd(), newKeygenCmd(), newSignCmd(), newMnemonicCmd(), newLogCmd())
	return root
}

// ----------------- 密钥 -----------------

func newKeygenCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an operator P-256 key pair as PEM files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			priv, err := signature.GenerateKey()
			if err != nil {
				return err
			}
			privPEM, err := signature.EncodePrivateKeyPEM(priv)
			if err != nil {
				return err
			}
			pubPEM, err := signature.EncodePublicKeyPEM(&priv.PublicKey)
			if err != nil {
				return err
			}
			if dir := filepath.Dir(out); dir != "." {
				if err := os.MkdirAll(dir, 0o700); err != nil {
					return err
				}
			}
			if err := os.WriteFile(out+".pem", privPEM, 0o600); err != nil {
				return err
			}
			if err := os.WriteFile(out+".pub.pem", pubPEM, 0o644); err != nil {
				return err
			}
			id, err := signature.KeyID(&priv.PublicKey)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s.pem and %s.pub.pem\nkey id %s\n", out, out, id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "operator", "output path prefix")
	return cmd
}

func newSignCmd() *cobra.Command {
	var (
		keyPath string
		url     string
		body    string
		nonce   uint64
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print a Signature-Data header for an operator request",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if url == "" {
				return errors.New("--url is required")
			}
			raw, err := os.ReadFile(keyPath)
			if err != nil {
				return fmt.Errorf("read key: %w", err)
			}
			priv, err := signature.ParsePrivateKeyPEM(raw)
			if err != nil {
				return err
			}
			payload := []byte(body)
			if strings.HasPrefix(body, "@") {
				if payload, err = os.ReadFile(body[1:]); err != nil {
					return fmt.Errorf("read body: %w", err)
				}
			}
			if nonce == 0 {
				nonce = uint64(time.Now().UnixMilli())
			}
			hdr, err := signature.Sign(priv, url, payload, nonce)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", signature.HeaderName, hdr)
			return nil
		},
	}
	cmd.Flags().StringVarP(&keyPath, "key", "k", "operator.pem", "operator private key PEM")
	cmd.Flags().StringVar(&url, "url", "", "full request url, domain and path")
	cmd.Flags().StringVar(&body, "body", "", "request body, @file reads it from a file")
	cmd.Flags().Uint64Var(&nonce, "nonce", 0, "nonce, current unix millis when 0")
	return cmd
}

func newMnemonicCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mnemonic",
		Short: "Generate a BIP-39 mnemonic for hd.mnemonic",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := service.NewMnemonic()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), m)
			return nil
		},
	}
}
