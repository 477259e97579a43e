package cmd

import (
	"fmt"

	"github.com/roffe/udsprobe"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(adaptersCmd)
	adaptersCmd.Flags().Bool("ports", false, "also list serial ports and CAN interfaces")
}

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "list supported adapters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, a := range udsprobe.ListAdapters() {
			fmt.Println(a.String())
		}
		if ports, _ := cmd.Flags().GetBool("ports"); !ports {
			return nil
		}
		fmt.Println()
		fmt.Println("Serial ports:")
		list, err := udsprobe.ListPorts()
		if err != nil {
			return err
		}
		for _, p := range list {
			fmt.Println("  " + p)
		}
		if ifaces := udsprobe.ListCANInterfaces(); len(ifaces) > 0 {
			fmt.Println("CAN interfaces:")
			for _, i := range ifaces {
				fmt.Println("  " + i)
			}
		}
		return nil
	},
}
