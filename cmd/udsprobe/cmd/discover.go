package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roffe/udsprobe"
	"github.com/roffe/udsprobe/pkg/discover"
	"github.com/roffe/udsprobe/pkg/profile"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(discoverCmd)
	discoverCmd.Flags().Duration("gap", discover.DefaultGap, "silence that ends listening on a broadcast id")
	discoverCmd.Flags().String("id", "", "broadcast on this functional id instead of 18DB33F1 and 7DF")
	discoverCmd.Flags().String("save", "", "write a profile for the first responder to this file")
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "find ECUs with a functional tester present broadcast",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		gap, _ := cmd.Flags().GetDuration("gap")
		custom, _ := cmd.Flags().GetString("id")
		save, _ := cmd.Flags().GetString("save")

		cfg := discover.Config{Gap: gap}
		if custom != "" {
			id, err := parseID(custom)
			if err != nil {
				return err
			}
			cfg.Candidates = []discover.Candidate{{ID: id, Extended: discover.AutoExtended(id)}}
		}
		return withAdapter(cmd, func(ctx context.Context, p *profile.Profile, dev udsprobe.Adapter) error {
			if p.Adapter.Debug {
				cfg.OnFrame = func(f *udsprobe.CANFrame) {
					fmt.Println(f.ColorString())
				}
			}
			for _, c := range candidates(cfg) {
				fmt.Println(yellow("broadcasting tester present on %s", c))
			}
			start := time.Now()
			res, err := discover.Run(ctx, dev, cfg)
			if errors.Is(err, discover.ErrNoResponders) {
				fmt.Println(red("no responses after %s", time.Since(start).Round(time.Millisecond)))
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Println(green("tester id 0x%X (%s) got %d responder(s)", res.TesterID, idMode(res.Extended), len(res.Responders)))
			for _, id := range res.Responders {
				if req, ok := discover.PhysicalRequestID(id); ok {
					fmt.Printf("  ecu 0x%X, physical request id 0x%X\n", id, req)
					continue
				}
				fmt.Printf("  ecu 0x%X\n", id)
			}
			if save == "" {
				return nil
			}
			req, ok := discover.PhysicalRequestID(res.Responders[0])
			if !ok {
				return fmt.Errorf("no physical request id known for 0x%X, not saving", res.Responders[0])
			}
			p.Addressing.Tester = req
			p.Addressing.ECU = res.Responders[0]
			p.Addressing.Extended = res.Extended
			if err := p.Save(save); err != nil {
				return err
			}
			fmt.Println("profile written to " + save)
			return nil
		})
	},
}

func candidates(cfg discover.Config) []discover.Candidate {
	if len(cfg.Candidates) > 0 {
		return cfg.Candidates
	}
	return discover.DefaultCandidates
}
