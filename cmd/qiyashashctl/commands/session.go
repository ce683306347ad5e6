package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"qiyashash/internal/domain"
	"qiyashash/internal/primitives"
	"qiyashash/internal/session"
)

func sessionKey(peer string) string          { return fmt.Sprintf("session/%s", peer) }
func pendingPreKeyKey(peer string) string    { return fmt.Sprintf("session/%s/pending-prekey", peer) }

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Establish sessions with peers",
	}
	cmd.AddCommand(sessionStartCmd())
	return cmd
}

func sessionStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <peer>",
		Short: "Run X3DH against a peer's published bundle and open a Double Ratchet session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer := args[0]
			ctx := context.Background()

			db, err := stateDB()
			if err != nil {
				return err
			}
			id, err := loadIdentity(ctx, db)
			if err != nil {
				return err
			}
			dir, err := directory()
			if err != nil {
				return err
			}

			sess, preKeyMsg, err := session.StartInitiator(
				ctx, id.EdPub, id.XPriv, id.XPub,
				primitives.AlgoXChaCha20Poly1305, dir, domain.PeerID(peer),
			)
			if err != nil {
				return fmt.Errorf("starting session with %q: %w", peer, err)
			}

			if err := sess.Save(ctx, db, sessionKey(peer)); err != nil {
				return err
			}
			pending, err := json.Marshal(preKeyMsg)
			if err != nil {
				return err
			}
			if err := db.SaveBlob(ctx, pendingPreKeyKey(peer), pending); err != nil {
				return err
			}

			fmt.Printf("Session established with %s\n", peer)
			return nil
		},
	}
}
