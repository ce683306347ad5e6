package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"qiyashash/internal/collab"
	"qiyashash/internal/domain"
	"qiyashash/internal/envelope"
	idpkg "qiyashash/internal/identity"
	"qiyashash/internal/prekeystore"
	"qiyashash/internal/primitives"
	"qiyashash/internal/session"
)

// mailboxKey addresses a single conversation's mailbox in the shared
// relay-dir transport: the envelope wire format carries no sender/recipient
// identity (SPEC_FULL.md §6 keeps routing metadata out of the ciphertext),
// so this demonstration CLI folds (to, from) into the transport address
// instead of trying to recover it from the envelope.
func mailboxKey(to, from string) domain.PeerID {
	return domain.PeerID(fmt.Sprintf("%s@@%s", to, from))
}

func messageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Send and receive ratcheted messages",
	}
	cmd.AddCommand(messageSendCmd(), messageRecvCmd())
	return cmd
}

func messageSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <peer> <text>",
		Short: "Encrypt and deliver a message to a peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, text := args[0], args[1]
			ctx := context.Background()

			db, err := stateDB()
			if err != nil {
				return err
			}
			sess, ok, err := session.Load(ctx, db, sessionKey(peer))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no session with %q; run 'session start %s' first", peer, peer)
			}

			var preKey *domain.PreKeyMessage
			pendingRaw, hasPending, err := db.LoadBlob(ctx, pendingPreKeyKey(peer))
			if err != nil {
				return err
			}
			if hasPending {
				var pm domain.PreKeyMessage
				if err := json.Unmarshal(pendingRaw, &pm); err != nil {
					return err
				}
				preKey = &pm
			}

			wire, err := sess.Encrypt(domain.PeerID(username), preKey, []byte(text), time.Now().Unix())
			if err != nil {
				return err
			}
			if err := sess.Save(ctx, db, sessionKey(peer)); err != nil {
				return err
			}
			if hasPending {
				if err := db.DeleteBlob(ctx, pendingPreKeyKey(peer)); err != nil {
					return err
				}
			}

			t, err := transport()
			if err != nil {
				return err
			}
			if err := t.Put(ctx, mailboxKey(peer, username), wire); err != nil {
				return err
			}
			fmt.Println("sent")
			return nil
		},
	}
}

func messageRecvCmd() *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "recv",
		Short: "Fetch and decrypt queued messages from a peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if from == "" {
				return fmt.Errorf("--from is required")
			}
			ctx := context.Background()

			db, err := stateDB()
			if err != nil {
				return err
			}
			id, err := loadIdentity(ctx, db)
			if err != nil {
				return err
			}

			t, err := transport()
			if err != nil {
				return err
			}
			wires, err := t.Get(ctx, mailboxKey(username, from))
			if err != nil {
				return err
			}

			for _, wire := range wires {
				sess, ok, err := session.Load(ctx, db, sessionKey(from))
				if err != nil {
					return err
				}
				if !ok {
					sess, err = bootstrapResponder(ctx, db, id, wire, from)
					if err != nil {
						return err
					}
				}

				_, plaintext, err := sess.Decrypt(wire)
				if err != nil {
					return err
				}
				if err := sess.Save(ctx, db, sessionKey(from)); err != nil {
					return err
				}
				fmt.Printf("[%s] %s\n", from, plaintext)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "peer whose mailbox to drain")
	return cmd
}

// bootstrapResponder establishes a Double Ratchet session from the pre-key
// message attached to a peer's first envelope. It looks up the initiator's
// signing key from their own published bundle, since the pre-key message
// itself only carries their X25519 identity key (used for X3DH), not the
// Ed25519 key that the X3DH associated data binds.
func bootstrapResponder(ctx context.Context, db *collab.FilePersistence, id idpkg.Identity, wire []byte, from string) (*session.Session, error) {
	env, err := envelope.Decode(wire)
	if err != nil {
		return nil, err
	}
	if env.PreKey == nil {
		return nil, fmt.Errorf("no session with %q and message carries no pre-key to bootstrap one", from)
	}

	dir, err := directory()
	if err != nil {
		return nil, err
	}
	peerBundle, err := dir.FetchBundle(ctx, domain.PeerID(from))
	if err != nil {
		return nil, fmt.Errorf("looking up %q's signing key to bootstrap the session: %w", from, err)
	}

	store := prekeystore.New(db, domain.PeerID(username))
	spkPriv, err := store.SignedPreKeyPrivateForHandshake(ctx, env.PreKey.SignedPreKeyID)
	if err != nil {
		return nil, err
	}

	return session.StartResponder(
		id.EdPub, id.XPriv, spkPriv,
		store, primitives.AlgoXChaCha20Poly1305,
		domain.PeerID(from), peerBundle.SigningKey, *env.PreKey,
	)
}
