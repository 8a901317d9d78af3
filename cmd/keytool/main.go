// Command keytool generates and manages the offline key material the
// custody service is configured with: server secrets, execution wrap
// keys (whole or as Shamir shares), and operator key hashes.
package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/walletguard/walletguard/internal/crypto"
)

var rootCmd = &cobra.Command{
	Use:   "keytool",
	Short: "Generate and manage walletguard key material",
	Long: `keytool produces the secrets walletguard reads from its environment:

  generate            a random hex key for SERVER_SECRET or EXECUTION_WRAP_KEY
  split               Shamir shares of a wrap key for EXECUTION_WRAP_KEY_SHARES
  combine             recombine shares back into the key
  hash-operator-key   a bcrypt hash for OPERATOR_KEY_HASH

Secrets are printed to stdout and read from stdin or flags; nothing is
written to disk.`,
}

var generateBytes int

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a random hex-encoded key",
	RunE: func(cmd *cobra.Command, args []string) error {
		key := make([]byte, generateBytes)
		if _, err := rand.Read(key); err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}
		defer crypto.Wipe(key)

		fmt.Println(hex.EncodeToString(key))
		return nil
	},
}

var (
	splitShares    int
	splitThreshold int
	splitKeyHex    string
)

var splitCmd = &cobra.Command{
	Use:   "split",
	Short: "Split a wrap key into Shamir shares",
	Long: `Split a wrap key into shares for EXECUTION_WRAP_KEY_SHARES. Without
--key a fresh key is generated and only the shares are printed, so the
whole key never appears anywhere. Any threshold-sized subset of the
shares recombines into the key.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var key []byte
		if splitKeyHex != "" {
			decoded, err := hex.DecodeString(strings.TrimSpace(splitKeyHex))
			if err != nil {
				return fmt.Errorf("--key is not valid hex: %w", err)
			}
			key = decoded
		} else {
			key = make([]byte, crypto.KeySize)
			if _, err := rand.Read(key); err != nil {
				return fmt.Errorf("failed to generate key: %w", err)
			}
		}
		defer crypto.Wipe(key)

		shares, err := crypto.SplitKey(key, splitShares, splitThreshold)
		if err != nil {
			return err
		}

		for i, share := range shares {
			fmt.Printf("share %d: %s\n", i+1, hex.EncodeToString(share))
		}
		fmt.Fprintf(os.Stderr, "store each share separately; any %d of %d recombine the key\n",
			splitThreshold, splitShares)
		return nil
	},
}

var combineCmd = &cobra.Command{
	Use:   "combine <share-hex> <share-hex> [more shares]",
	Short: "Recombine Shamir shares into the wrap key",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		shares := make([][]byte, 0, len(args))
		for i, arg := range args {
			share, err := hex.DecodeString(strings.TrimSpace(arg))
			if err != nil {
				return fmt.Errorf("share %d is not valid hex: %w", i+1, err)
			}
			shares = append(shares, share)
		}

		key, err := crypto.CombineShares(shares)
		if err != nil {
			return err
		}
		defer crypto.Wipe(key)

		fmt.Println(hex.EncodeToString(key))
		return nil
	},
}

var hashOperatorKeyCmd = &cobra.Command{
	Use:   "hash-operator-key",
	Short: "Read an operator key from stdin and print its bcrypt hash",
	Long: `Read an operator key from stdin and print the bcrypt hash to set as
OPERATOR_KEY_HASH. Reading from stdin keeps the key out of shell
history:

  keytool hash-operator-key < key-file`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reader := bufio.NewReader(cmd.InOrStdin())
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read key from stdin: %w", err)
		}
		key := strings.TrimSpace(line)
		if key == "" {
			return fmt.Errorf("operator key must not be empty")
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash key: %w", err)
		}

		fmt.Println(string(hash))
		return nil
	},
}

func init() {
	generateCmd.Flags().IntVar(&generateBytes, "bytes", crypto.KeySize, "key length in bytes")
	splitCmd.Flags().IntVar(&splitShares, "shares", 3, "number of shares to produce")
	splitCmd.Flags().IntVar(&splitThreshold, "threshold", 2, "shares required to recombine")
	splitCmd.Flags().StringVar(&splitKeyHex, "key", "", "hex key to split (generated when omitted)")

	rootCmd.AddCommand(generateCmd, splitCmd, combineCmd, hashOperatorKeyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
