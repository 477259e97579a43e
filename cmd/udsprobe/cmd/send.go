package cmd

import (
	"context"
	"os"
	"strings"

	"github.com/roffe/udsprobe/pkg/uds"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <hex>",
	Short: "send a raw UDS service, e.g. send 10 03",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := uds.ParseHex(strings.Join(args, " "))
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			return sendRaw(ctx, s, req)
		})
	},
}

func sendRaw(ctx context.Context, s *session, req uds.Request) error {
	os.Stdout.WriteString(">> " + req.String() + "\n")
	ex, err := s.client.Exchange(ctx, req)
	if err != nil {
		return err
	}
	printExchange(os.Stdout, ex)
	return nil
}
