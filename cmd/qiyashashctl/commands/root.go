package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"qiyashash/internal/collab"
	idpkg "qiyashash/internal/identity"
)

var (
	home       string
	relayDir   string
	passphrase string
	username   string
)

const identityKey = "identity"

func Execute() error {
	root := &cobra.Command{
		Use:   "qiyashashctl",
		Short: "QiyasHash end-to-end encrypted messaging core, demonstration CLI",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".qiyashashctl")
			}
			if relayDir == "" {
				relayDir = filepath.Join(home, "relay")
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "local state root (default ~/.qiyashashctl)")
	root.PersistentFlags().StringVar(&relayDir, "relay-dir", "", "shared directory standing in for a relay/directory service (default <home>/relay)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the local identity")
	root.PersistentFlags().StringVar(&username, "username", "", "local identity name (selects <home>/identities/<username>)")

	root.AddCommand(
		identityCmd(),
		registerCmd(),
		sessionCmd(),
		messageCmd(),
		fragmentCmd(),
	)
	return root.Execute()
}

// stateDir returns this identity's private state directory, requiring
// --username to be set so multiple local identities don't collide on one
// machine.
func stateDir() (string, error) {
	if username == "" {
		return "", fmt.Errorf("--username is required")
	}
	return filepath.Join(home, "identities", username), nil
}

func stateDB() (*collab.FilePersistence, error) {
	dir, err := stateDir()
	if err != nil {
		return nil, err
	}
	return collab.NewFilePersistence(dir)
}

func directory() (*collab.FileDirectory, error) {
	return collab.NewFileDirectory(filepath.Join(relayDir, "directory"))
}

func transport() (*collab.FileTransport, error) {
	return collab.NewFileTransport(filepath.Join(relayDir, "mailboxes"))
}

func loadIdentity(ctx context.Context, db *collab.FilePersistence) (idpkg.Identity, error) {
	if passphrase == "" {
		return idpkg.Identity{}, fmt.Errorf("passphrase required (-p)")
	}
	raw, ok, err := db.LoadBlob(ctx, identityKey)
	if err != nil {
		return idpkg.Identity{}, err
	}
	if !ok {
		return idpkg.Identity{}, fmt.Errorf("no identity found; run 'identity generate' first")
	}
	var wrapped idpkg.WrappedSecret
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return idpkg.Identity{}, err
	}
	return idpkg.Unwrap(wrapped, passphrase)
}

func saveIdentity(ctx context.Context, db *collab.FilePersistence, id idpkg.Identity) error {
	wrapped, err := idpkg.Wrap(id, passphrase)
	if err != nil {
		return err
	}
	data, err := json.Marshal(wrapped)
	if err != nil {
		return err
	}
	return db.SaveBlob(ctx, identityKey, data)
}
