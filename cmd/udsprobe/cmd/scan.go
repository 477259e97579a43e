package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/roffe/udsprobe/pkg/bar"
	"github.com/roffe/udsprobe/pkg/isotp"
	"github.com/roffe/udsprobe/pkg/uds"
	"github.com/spf13/cobra"
)

const (
	flagStart         = "start"
	flagEnd           = "end"
	flagPause         = "pause"
	flagNegative      = "negative"
	flagNoSubFunction = "no-subfunction"
	flagSubFunction   = "subfunction"
	flagAddrLen       = "addr-len"
	flagSizeLen       = "size-len"
	flagSize          = "size"
	flagStep          = "step"
)

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.AddCommand(scanDIDCmd, scanRIDCmd, scanMemCmd)

	pf := scanCmd.PersistentFlags()
	pf.String(flagStart, "0", "first value in hex")
	pf.String(flagEnd, "", "last value in hex (default FFFF for identifiers)")
	pf.Bool(flagPause, false, "ask before continuing after every positive response")
	pf.Bool(flagNegative, false, "also print negative responses")

	scanRIDCmd.Flags().Bool(flagNoSubFunction, false, "send 31 RIDhi RIDlo without the sub-function byte")
	scanRIDCmd.Flags().Uint8(flagSubFunction, uds.StartRoutine, "routine control sub-function")

	def := uds.DefaultScanConfig(uds.ScanMemory)
	scanMemCmd.Flags().Int(flagAddrLen, def.AddressLen, "address width in bytes")
	scanMemCmd.Flags().Int(flagSizeLen, def.SizeLen, "size width in bytes")
	scanMemCmd.Flags().String(flagSize, fmt.Sprintf("%X", def.Size), "bytes to read at every address, hex")
	scanMemCmd.Flags().String(flagStep, fmt.Sprintf("%X", def.Step), "address step, hex")
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "scan identifiers or memory",
}

var scanDIDCmd = &cobra.Command{
	Use:   "did",
	Short: "ReadDataByIdentifier over a DID range",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := scanConfig(cmd, uds.ScanDID)
		if err != nil {
			return err
		}
		return runScan(cmd, cfg)
	},
}

var scanRIDCmd = &cobra.Command{
	Use:   "rid",
	Short: "RoutineControl over a RID range",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := scanConfig(cmd, uds.ScanRID)
		if err != nil {
			return err
		}
		cfg.OmitSubFunction, _ = cmd.Flags().GetBool(flagNoSubFunction)
		cfg.RoutineSubFunction, _ = cmd.Flags().GetUint8(flagSubFunction)
		return runScan(cmd, cfg)
	},
}

var scanMemCmd = &cobra.Command{
	Use:   "mem",
	Short: "ReadMemoryByAddress over an address range",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := scanConfig(cmd, uds.ScanMemory)
		if err != nil {
			return err
		}
		if !cmd.Flags().Changed(flagEnd) {
			return fmt.Errorf("--%s is required for memory scans", flagEnd)
		}
		flags := cmd.Flags()
		cfg.AddressLen, _ = flags.GetInt(flagAddrLen)
		cfg.SizeLen, _ = flags.GetInt(flagSizeLen)
		size, _ := flags.GetString(flagSize)
		if cfg.Size, err = parseHexUint(size, 64); err != nil {
			return fmt.Errorf("--%s: %w", flagSize, err)
		}
		step, _ := flags.GetString(flagStep)
		if cfg.Step, err = parseHexUint(step, 64); err != nil {
			return fmt.Errorf("--%s: %w", flagStep, err)
		}
		return runScan(cmd, cfg)
	},
}

func scanConfig(cmd *cobra.Command, kind uds.ScanKind) (uds.ScanConfig, error) {
	cfg := uds.DefaultScanConfig(kind)
	flags := cmd.Flags()
	start, _ := flags.GetString(flagStart)
	v, err := parseHexUint(start, 64)
	if err != nil {
		return cfg, fmt.Errorf("--%s: %w", flagStart, err)
	}
	cfg.Start = v
	if end, _ := flags.GetString(flagEnd); end != "" {
		if cfg.End, err = parseHexUint(end, 64); err != nil {
			return cfg, fmt.Errorf("--%s: %w", flagEnd, err)
		}
	}
	cfg.PauseOnPositive, _ = flags.GetBool(flagPause)
	return cfg, nil
}

func runScan(cmd *cobra.Command, cfg uds.ScanConfig) error {
	negative, _ := cmd.Flags().GetBool(flagNegative)
	return withSession(cmd, func(ctx context.Context, s *session) error {
		return scan(ctx, s, cfg, negative)
	})
}

func scan(ctx context.Context, s *session, cfg uds.ScanConfig, negative bool) error {
	cfg.MaxRequestLen = isotp.MaxSingleFrame
	cfg.Confirm = func(res uds.ScanResult) bool {
		return confirm(fmt.Sprintf("Positive response for %s 0x%X, continue scanning", cfg.Kind, res.Value))
	}
	scanner, err := uds.NewScanner(s.client, cfg)
	if err != nil {
		return err
	}

	b := bar.New(int64(scanner.Count()), fmt.Sprintf("%s 0x%X-0x%X", cfg.Kind, cfg.Start, cfg.End))
	var positives, failures int
	resume := cfg.Start
	start := time.Now()
	err = scanner.Scan(ctx, func(res uds.ScanResult) bool {
		resume = res.Value + cfg.Step
		show := res.Err != nil || res.Outcome.Kind == uds.Positive || res.Outcome.Kind == uds.Malformed ||
			(negative && res.Outcome.Kind == uds.Negative)
		if res.Outcome.Kind == uds.Positive {
			positives++
		}
		if res.Err != nil {
			failures++
		}
		if show {
			b.Clear()
			printResult(os.Stdout, cfg.Kind, res)
		}
		b.Add(1)
		return true
	})
	b.Finish()

	summary := fmt.Sprintf("%d positive, %d transport failures, took %s", positives, failures, time.Since(start).Round(time.Millisecond))
	if errors.Is(err, context.Canceled) {
		fmt.Println(yellow("scan aborted: %s", summary))
		fmt.Println(yellow("resume with --start %X", resume))
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Println(green("scan done: %s", summary))
	return nil
}

func confirm(label string) bool {
	prompt := promptui.Select{
		Label:    label,
		HideHelp: true,
		Items:    []string{"Yes", "No"},
	}
	_, result, err := prompt.Run()
	if err != nil {
		return false
	}
	return result == "Yes"
}
