package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tcpmsg/tcpmsg-go/pkg/secure"
)

func newFingerprintCmd(g *globalFlags) *cobra.Command {
	var curveName string
	cmd := &cobra.Command{
		Use:   "fingerprint [hex-public-key]",
		Short: "Print the fingerprint of a public key",
		Long: `Print the fingerprint of a public key for out-of-band comparison.
Without an argument a fresh keypair is generated on the configured curve
and its public key and fingerprint are printed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				pub, err := hex.DecodeString(strings.TrimPrefix(args[0], "0x"))
				if err != nil {
					return fmt.Errorf("invalid public key: %w", err)
				}
				fmt.Fprintln(out, secure.Fingerprint(pub))
				return nil
			}

			if curveName == "" {
				cfg, err := g.loadConfig()
				if err != nil {
					return err
				}
				curveName = cfg.Security.Curve
			}
			curve, err := secure.ParseCurve(curveName)
			if err != nil {
				return err
			}
			kp, err := secure.GenerateKeyPair(curve)
			if err != nil {
				return err
			}
			defer kp.Release()

			pub := kp.PublicKey()
			fmt.Fprintf(out, "Curve:       %s\n", curve)
			fmt.Fprintf(out, "Public key:  %s\n", hex.EncodeToString(pub))
			fmt.Fprintf(out, "Fingerprint: %s\n", secure.Fingerprint(pub))
			return nil
		},
	}
	cmd.Flags().StringVar(&curveName, "curve", "", "curve for a generated key (P-256, X25519, X448)")
	return cmd
}
