package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"qiyashash/internal/domain"
	"qiyashash/internal/prekeystore"
)

func registerCmd() *cobra.Command {
	var oneTimeCount int
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Generate pre-keys and publish this identity's bundle to the shared directory",
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

			store := prekeystore.New(db, domain.PeerID(username))
			if _, _, err := store.GenerateSignedPreKey(ctx, id.EdPriv, time.Now()); err != nil {
				return err
			}
			if _, err := store.GenerateOneTimePreKeys(ctx, oneTimeCount); err != nil {
				return err
			}
			bundle, err := store.BuildBundle(ctx, id.EdPub, id.XPub)
			if err != nil {
				return err
			}

			dir, err := directory()
			if err != nil {
				return err
			}
			if err := dir.PublishBundle(ctx, bundle); err != nil {
				return err
			}

			fmt.Printf("Published bundle for %q: 1 signed pre-key, %d one-time pre-keys\n", username, oneTimeCount)
			return nil
		},
	}
	cmd.Flags().IntVar(&oneTimeCount, "count", 10, "number of one-time pre-keys to generate")
	return cmd
}
