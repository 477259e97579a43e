package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/roffe/udsprobe/pkg/uds"
	"github.com/spf13/cobra"
)

const (
	flagSeedHeader = "seed-header"
	flagSeed       = "seed"
)

const (
	cipherXOR    = "xor"
	cipherInvert = "invert"
)

func init() {
	rootCmd.AddCommand(crackCmd)
	crackCmd.Flags().String(flagSeedHeader, "27 01", "SecurityAccess requestSeed header in hex")
	crackCmd.Flags().String(flagSeed, "", "use this seed (hex) instead of requesting one")
}

var crackCmd = &cobra.Command{
	Use:       "crack [xor|invert]",
	Short:     "try weak seed/key algorithms against SecurityAccess",
	Long:      `Requests a seed and submits candidate keys on the next sub-function. xor sweeps all 256 single byte XOR keys, invert tries the bitwise complement once.`,
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{cipherXOR, cipherInvert},
	RunE: func(cmd *cobra.Command, args []string) error {
		headerStr, _ := cmd.Flags().GetString(flagSeedHeader)
		seedHeader, err := uds.ParseHex(headerStr)
		if err != nil {
			return err
		}
		var manualSeed []byte
		if s, _ := cmd.Flags().GetString(flagSeed); s != "" {
			if manualSeed, err = uds.ParseHex(s); err != nil {
				return err
			}
		}
		cipher := ""
		if len(args) == 1 {
			cipher = args[0]
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			sess, err := captureSeed(ctx, s, seedHeader, manualSeed)
			if err != nil || sess == nil {
				return err
			}
			return crack(ctx, s, sess, cipher)
		})
	},
}

// captureSeed requests a seed, or wraps a seed given by the user, and returns
// nil when there is nothing to crack.
func captureSeed(ctx context.Context, s *session, seedHeader uds.Request, manualSeed []byte) (*uds.SecurityAccessSession, error) {
	if len(manualSeed) > 0 {
		keyHeader, err := uds.KeyHeader(seedHeader)
		if err != nil {
			return nil, err
		}
		return uds.NewSession(manualSeed, keyHeader), nil
	}
	fmt.Println(">> " + seedHeader.String())
	sess, ex, err := s.client.RequestSeed(ctx, seedHeader)
	if err != nil {
		return nil, err
	}
	printExchange(os.Stdout, ex)
	if sess == nil {
		return nil, ex.Err()
	}
	if sess.AlreadyUnlocked() {
		fmt.Println(green("seed is all zeroes, security access already granted"))
		return nil, nil
	}
	fmt.Println(yellow("seed % X, key header % X", sess.Seed, sess.Header))
	return sess, nil
}

func crack(ctx context.Context, s *session, sess *uds.SecurityAccessSession, cipher string) error {
	if cipher == "" {
		var err error
		if cipher, err = selectCipher(); err != nil {
			return err
		}
	}
	cracker := uds.NewCracker(s.client)
	cracker.OnAttempt = func(a uds.Attempt) {
		line := fmt.Sprintf("Candidate %02X: %s", a.Candidate, a.Request)
		switch a.Outcome.Kind {
		case uds.Positive:
			fmt.Println(green("%s  %s", line, a.Outcome))
		case uds.Negative:
			fmt.Println(red("%s  %s", line, a.Outcome.Description))
		default:
			fmt.Println(yellow("%s  %s", line, a.Outcome.Description))
		}
	}

	var strategy uds.Strategy
	switch cipher {
	case cipherXOR:
		strategy = uds.StrategyXOR
	case cipherInvert:
		strategy = uds.StrategyBitInversion
		seedHex := strings.ToUpper(hex.EncodeToString(sess.Seed))
		key, _ := uds.InvertHexSeed(seedHex)
		fmt.Printf("Original hex: %s\nBitwise inverted hex: %X\n", seedHex, key)
	default:
		return fmt.Errorf("unknown cipher %q", cipher)
	}

	if err := cracker.Run(ctx, sess, strategy); err != nil {
		return err
	}
	if !sess.Found() {
		fmt.Println(red("%s: no key accepted after %d attempt(s)", strategy, sess.Attempts))
		return nil
	}
	fmt.Println(green("Key found! Security access gained with key % X", sess.Key))
	if data := uds.ResponseData(uds.Request(sess.Header), sess.Response); len(data) > 0 {
		fmt.Printf("Response: % X\nDecoded data: %s\n", data, uds.Printable(data))
	}
	return nil
}

func selectCipher() (string, error) {
	prompt := promptui.Select{
		Label: "Cipher",
		Items: []string{cipherXOR, cipherInvert},
	}
	_, result, err := prompt.Run()
	return result, err
}
