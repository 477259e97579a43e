package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/roffe/udsprobe/pkg/profile"
	"github.com/roffe/udsprobe/pkg/uds"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(shellCmd)
}

const (
	menuScanDID   = "Scan DIDs"
	menuScanRID   = "Scan RIDs"
	menuScanMem   = "Scan memory by address"
	menuSend      = "Send UDS service"
	menuUpdateIDs = "Update tester/ECU ids"
	menuTimeout   = "Configure timeout"
	menuExit      = "Exit"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "interactive menu",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, shell)
	},
}

func shell(ctx context.Context, s *session) error {
	menu := promptui.Select{
		Label: "Choose an option",
		Items: []string{menuScanDID, menuScanRID, menuScanMem, menuSend, menuUpdateIDs, menuTimeout, menuExit},
		Size:  7,
	}
	for ctx.Err() == nil {
		_, choice, err := menu.Run()
		if err != nil {
			if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
				return nil
			}
			return err
		}
		switch choice {
		case menuScanDID:
			err = scan(ctx, s, uds.DefaultScanConfig(uds.ScanDID), false)
		case menuScanRID:
			err = scan(ctx, s, uds.DefaultScanConfig(uds.ScanRID), false)
		case menuScanMem:
			err = shellMemScan(ctx, s)
		case menuSend:
			err = shellSend(ctx, s)
		case menuUpdateIDs:
			err = shellUpdateIDs(ctx, s)
		case menuTimeout:
			err = shellTimeout(ctx, s)
		case menuExit:
			return nil
		}
		if errors.Is(err, promptui.ErrInterrupt) {
			continue
		}
		if err != nil {
			fmt.Println(red("%v", err))
		}
	}
	return nil
}

func promptHex(label, def string) (uint64, error) {
	p := promptui.Prompt{
		Label:   label,
		Default: def,
		Validate: func(s string) error {
			_, err := parseHexUint(s, 64)
			return err
		},
	}
	s, err := p.Run()
	if err != nil {
		return 0, err
	}
	return parseHexUint(s, 64)
}

func shellMemScan(ctx context.Context, s *session) error {
	cfg := uds.DefaultScanConfig(uds.ScanMemory)
	var err error
	if cfg.Start, err = promptHex("Start address (hex)", "0"); err != nil {
		return err
	}
	if cfg.End, err = promptHex("End address (hex)", fmt.Sprintf("%X", cfg.Start+0xFFFF)); err != nil {
		return err
	}
	if cfg.Size, err = promptHex("Size (hex)", fmt.Sprintf("%X", cfg.Size)); err != nil {
		return err
	}
	return scan(ctx, s, cfg, false)
}

func shellSend(ctx context.Context, s *session) error {
	p := promptui.Prompt{
		Label: "UDS service (e.g. 10 01)",
		Validate: func(in string) error {
			_, err := uds.ParseHex(in)
			return err
		},
	}
	in, err := p.Run()
	if err != nil {
		return err
	}
	req, err := uds.ParseHex(in)
	if err != nil {
		return err
	}
	fmt.Println(">> " + req.String())
	ex, err := s.client.Exchange(ctx, req)
	if err != nil {
		return err
	}
	printExchange(os.Stdout, ex)
	return offerCrack(ctx, s, ex)
}

// offerCrack proposes the key crackers when ex carried a fresh seed.
func offerCrack(ctx context.Context, s *session, ex *uds.Exchange) error {
	sess, err := seedSession(ex)
	if err != nil || sess == nil {
		return err
	}
	if sess.AlreadyUnlocked() {
		fmt.Println(green("seed is all zeroes, security access already granted"))
		return nil
	}
	if !confirm(fmt.Sprintf("Seed % X received, try to crack the key", sess.Seed)) {
		return nil
	}
	return crack(ctx, s, sess, "")
}

// seedSession wraps the seed of a positive requestSeed exchange. The key
// header is derived from the whole request, as Client.RequestSeed does. It
// returns nil when ex is anything else.
func seedSession(ex *uds.Exchange) (*uds.SecurityAccessSession, error) {
	req := ex.Request
	if req.SID() != uds.SIDSecurityAccess || len(req) < 2 || req[1]%2 == 0 || ex.Outcome.Kind != uds.Positive {
		return nil, nil
	}
	seed := uds.ResponseData(req, ex.First())
	if len(seed) == 0 {
		return nil, nil
	}
	keyHeader, err := uds.KeyHeader(req)
	if err != nil {
		return nil, err
	}
	return uds.NewSession(seed, keyHeader), nil
}

func promptID(label string, def uint32) (string, error) {
	p := promptui.Prompt{
		Label:   label,
		Default: fmt.Sprintf("%X", def),
		Validate: func(s string) error {
			_, err := parseID(s)
			return err
		},
	}
	return p.Run()
}

func shellUpdateIDs(ctx context.Context, s *session) error {
	tester, err := promptID("Tester (source) id", s.profile.Addressing.Tester)
	if err != nil {
		return err
	}
	ecu, err := promptID("ECU (destination) id", s.profile.Addressing.ECU)
	if err != nil {
		return err
	}
	next, err := withIDs(s.profile, tester, ecu)
	if err != nil {
		return err
	}
	*s.profile = *next
	s.retarget(ctx)
	fmt.Println(yellow("tester 0x%X | ecu 0x%X | %s", next.Addressing.Tester, next.Addressing.ECU, idMode(next.Extended())))
	return nil
}

// withIDs returns a copy of p addressed to the given tester and ECU ids.
func withIDs(p *profile.Profile, tester, ecu string) (*profile.Profile, error) {
	next := *p
	var err error
	if next.Addressing.Tester, err = parseID(tester); err != nil {
		return nil, fmt.Errorf("tester: %w", err)
	}
	if next.Addressing.ECU, err = parseID(ecu); err != nil {
		return nil, fmt.Errorf("ecu: %w", err)
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return &next, nil
}

func shellTimeout(ctx context.Context, s *session) error {
	p := promptui.Prompt{
		Label:   "Idle timeout",
		Default: s.profile.Timing.Timeout.String(),
		Validate: func(in string) error {
			d, err := time.ParseDuration(in)
			if err == nil && d <= 0 {
				return fmt.Errorf("timeout must be positive")
			}
			return err
		},
	}
	in, err := p.Run()
	if err != nil {
		return err
	}
	d, err := time.ParseDuration(in)
	if err != nil {
		return err
	}
	s.profile.Timing.Timeout = d
	s.retarget(ctx)
	fmt.Println(yellow("idle timeout %s", d))
	return nil
}
