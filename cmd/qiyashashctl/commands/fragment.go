package commands

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"qiyashash/internal/fragment"
)

// manifest records the metadata fragment.Decode needs (total shard count,
// per-shard size, original message size) alongside the shard files
// themselves, since a directory of raw shard bytes alone can't carry it.
type manifest struct {
	MessageID   string `json:"message_id"`
	Total       uint32 `json:"total"`
	ShardSize   uint32 `json:"shard_size"`
	MessageSize uint32 `json:"message_size"`
}

func fragmentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fragment",
		Short: "Split an encrypted envelope into recoverable shards, or reassemble one",
	}
	cmd.AddCommand(fragmentSplitCmd(), fragmentJoinCmd())
	return cmd
}

func fragmentSplitCmd() *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "split <file> <message-id-hex>",
		Short: "Erasure-code a file into k+m shards under outDir",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			messageID, err := hex.DecodeString(args[1])
			if err != nil {
				return fmt.Errorf("message-id must be hex: %w", err)
			}
			params := fragment.DefaultParams()
			shards, err := fragment.Encode(messageID, data, params, time.Now().Add(fragment.DefaultExpiry))
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o700); err != nil {
				return err
			}
			for _, f := range shards {
				name := fmt.Sprintf("shard-%02d.bin", f.Index)
				if err := os.WriteFile(filepath.Join(outDir, name), f.Data, 0o600); err != nil {
					return err
				}
			}
			m := manifest{
				MessageID:   args[1],
				Total:       uint32(params.DataShards + params.ParityShards),
				ShardSize:   shards[0].ShardSize,
				MessageSize: uint32(len(data)),
			}
			mdata, err := json.MarshalIndent(m, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(filepath.Join(outDir, "manifest.json"), mdata, 0o600); err != nil {
				return err
			}

			tag := sha256.Sum256(data)
			fmt.Printf("Wrote %d shards (k=%d, m=%d) to %s. Integrity tag: %x\n",
				len(shards), params.DataShards, params.ParityShards, outDir, tag)
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "shards", "directory to write shards into")
	return cmd
}

func fragmentJoinCmd() *cobra.Command {
	var outFile string
	var integrityHex string
	cmd := &cobra.Command{
		Use:   "join <shard-dir>",
		Short: "Reconstruct the original data from any k of its shards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			shardDir := args[0]

			mdata, err := os.ReadFile(filepath.Join(shardDir, "manifest.json"))
			if err != nil {
				return fmt.Errorf("reading manifest.json: %w", err)
			}
			var m manifest
			if err := json.Unmarshal(mdata, &m); err != nil {
				return err
			}

			entries, err := os.ReadDir(shardDir)
			if err != nil {
				return err
			}
			params := fragment.DefaultParams()
			var shards []fragment.Fragment
			for _, e := range entries {
				var index uint32
				if _, err := fmt.Sscanf(e.Name(), "shard-%02d.bin", &index); err != nil {
					continue
				}
				data, err := os.ReadFile(filepath.Join(shardDir, e.Name()))
				if err != nil {
					return err
				}
				shards = append(shards, fragment.Fragment{
					Index:       index,
					Total:       m.Total,
					IsParity:    index >= uint32(params.DataShards),
					ShardSize:   m.ShardSize,
					MessageSize: m.MessageSize,
					Data:        data,
				})
			}
			if len(shards) == 0 {
				return fmt.Errorf("no shards found in %s", shardDir)
			}

			var tag [32]byte
			if integrityHex != "" {
				raw, err := hex.DecodeString(integrityHex)
				if err != nil || len(raw) != 32 {
					return fmt.Errorf("--integrity-tag must be 32 bytes of hex")
				}
				copy(tag[:], raw)
			}

			out, err := fragment.Decode(shards, params, tag)
			if err != nil {
				return err
			}
			if err := os.WriteFile(outFile, out, 0o600); err != nil {
				return err
			}
			fmt.Printf("Reconstructed %d bytes to %s\n", len(out), outFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&outFile, "out", "reconstructed.bin", "output file path")
	cmd.Flags().StringVar(&integrityHex, "integrity-tag", "", "hex SHA-256 tag to verify reconstruction against")
	return cmd
}
