package commands

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	idpkg "qiyashash/internal/identity"
	"qiyashash/internal/primitives"
)

func identityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage the local long-term identity",
	}
	cmd.AddCommand(identityGenerateCmd(), identityFingerprintCmd(), identityRotateCmd(), identitySafetyNumberCmd())
	return cmd
}

func identityGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Generate a fresh identity and store it under a passphrase",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			db, err := stateDB()
			if err != nil {
				return err
			}
			id, err := idpkg.Generate()
			if err != nil {
				return err
			}
			if err := saveIdentity(ctx, db, id); err != nil {
				return err
			}
			fmt.Printf("Identity created.\nFingerprint: %s\n", id.Fingerprint())
			return nil
		},
	}
}

func identityFingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the local identity's fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			db, err := stateDB()
			if err != nil {
				return err
			}
			id, err := loadIdentity(ctx, db)
			if err != nil {
				return err
			}
			fmt.Printf("Fingerprint: %s\n", id.Fingerprint())
			return nil
		},
	}
}

func identityRotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Rotate the local identity, keeping a dual-signature proof binding old to new",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			db, err := stateDB()
			if err != nil {
				return err
			}
			old, err := loadIdentity(ctx, db)
			if err != nil {
				return err
			}
			next, proof, err := idpkg.Rotate(old, time.Now())
			if err != nil {
				return err
			}
			if err := idpkg.VerifyRotation(proof, time.Now()); err != nil {
				return fmt.Errorf("generated an unverifiable rotation proof: %w", err)
			}
			if err := saveIdentity(ctx, db, next); err != nil {
				return err
			}
			fmt.Printf("Identity rotated.\nOld fingerprint: %s\nNew fingerprint: %s\nRotation commitment: %s\n",
				old.Fingerprint(), next.Fingerprint(), hex.EncodeToString(proof.Commitment[:]))
			return nil
		},
	}
}

func identitySafetyNumberCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "safety-number <peer-full-fingerprint-hex>",
		Short: "Compute the out-of-band safety number shared with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			db, err := stateDB()
			if err != nil {
				return err
			}
			id, err := loadIdentity(ctx, db)
			if err != nil {
				return err
			}
			peerRaw, err := hex.DecodeString(args[0])
			if err != nil || len(peerRaw) != 32 {
				return fmt.Errorf("peer fingerprint must be 32 bytes of hex")
			}
			var peerFP [32]byte
			copy(peerFP[:], peerRaw)

			ourFP := primitives.FullFingerprint(id.EdPub[:])
			number, err := idpkg.SafetyNumber(ourFP, peerFP)
			if err != nil {
				return err
			}
			fmt.Println(number)
			return nil
		},
	}
}
