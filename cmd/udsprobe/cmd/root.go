package cmd

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/roffe/udsprobe/pkg/profile"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "udsprobe",
	Short:        "UDS diagnostic probe",
	Long:         `Scan identifiers, read memory and try weak seed/key algorithms on ECUs speaking ISO 14229 over CAN`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

const (
	flagProfile         = "profile"
	flagAdapter         = "adapter"
	flagPort            = "port"
	flagBaudrate        = "baudrate"
	flagCANRate         = "canrate"
	flagTester          = "tester"
	flagECU             = "ecu"
	flagExtended        = "extended"
	flagTimeout         = "timeout"
	flagPoll            = "poll"
	flagKeepAlive       = "keepalive"
	flagKeepAlivePeriod = "keepalive-period"
	flagDebug           = "debug"
)

func init() {
	log.SetFlags(log.Lshortfile | log.LstdFlags)

	def := profile.Default()
	pf := rootCmd.PersistentFlags()
	pf.String(flagProfile, "", "YAML profile, flags override its values")
	pf.StringP(flagAdapter, "a", def.Adapter.Name, "what adapter to use")
	pf.StringP(flagPort, "p", "", "com-port or can interface")
	pf.IntP(flagBaudrate, "b", def.Adapter.Baudrate, "com-port baudrate")
	pf.Float64(flagCANRate, def.Adapter.CANRate, "CAN bitrate in kbit/s")
	pf.StringP(flagTester, "t", fmt.Sprintf("%X", def.Addressing.Tester), "tester (request) id in hex")
	pf.StringP(flagECU, "e", fmt.Sprintf("%X", def.Addressing.ECU), "ECU (response) id in hex")
	pf.Bool(flagExtended, false, "force 29-bit identifiers")
	pf.Duration(flagTimeout, def.Timing.Timeout, "inter-frame idle timeout ending a response window")
	pf.Duration(flagPoll, def.Timing.Poll, "transport poll interval")
	pf.BoolP(flagKeepAlive, "k", false, "send tester present in the background")
	pf.Duration(flagKeepAlivePeriod, def.KeepAlive.Period, "tester present period")
	pf.BoolP(flagDebug, "d", false, "debug mode")
}

// loadProfile builds the session profile from --profile and any flags set
// on the command line.
func loadProfile(cmd *cobra.Command) (*profile.Profile, error) {
	flags := cmd.Flags()
	p := profile.Default()
	if path, _ := flags.GetString(flagProfile); path != "" {
		var err error
		if p, err = profile.Load(path); err != nil {
			return nil, err
		}
	}

	var err error
	if flags.Changed(flagAdapter) {
		p.Adapter.Name, _ = flags.GetString(flagAdapter)
	}
	if flags.Changed(flagPort) {
		p.Adapter.Port, _ = flags.GetString(flagPort)
	}
	if flags.Changed(flagBaudrate) {
		p.Adapter.Baudrate, _ = flags.GetInt(flagBaudrate)
	}
	if flags.Changed(flagCANRate) {
		p.Adapter.CANRate, _ = flags.GetFloat64(flagCANRate)
	}
	if flags.Changed(flagDebug) {
		p.Adapter.Debug, _ = flags.GetBool(flagDebug)
	}
	if flags.Changed(flagTester) {
		s, _ := flags.GetString(flagTester)
		if p.Addressing.Tester, err = parseID(s); err != nil {
			return nil, fmt.Errorf("--%s: %w", flagTester, err)
		}
	}
	if flags.Changed(flagECU) {
		s, _ := flags.GetString(flagECU)
		if p.Addressing.ECU, err = parseID(s); err != nil {
			return nil, fmt.Errorf("--%s: %w", flagECU, err)
		}
	}
	if flags.Changed(flagExtended) {
		p.Addressing.Extended, _ = flags.GetBool(flagExtended)
	}
	if flags.Changed(flagTimeout) {
		p.Timing.Timeout, _ = flags.GetDuration(flagTimeout)
	}
	if flags.Changed(flagPoll) {
		p.Timing.Poll, _ = flags.GetDuration(flagPoll)
	}
	if flags.Changed(flagKeepAlive) {
		p.KeepAlive.Enabled, _ = flags.GetBool(flagKeepAlive)
	}
	if flags.Changed(flagKeepAlivePeriod) {
		p.KeepAlive.Period, _ = flags.GetDuration(flagKeepAlivePeriod)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// parseID parses a hex arbitration id with or without 0x prefix.
func parseID(s string) (uint32, error) {
	v, err := parseHexUint(s, 32)
	if err != nil {
		return 0, err
	}
	if v > 0x1FFFFFFF {
		return 0, fmt.Errorf("id 0x%X does not fit in 29 bits", v)
	}
	return uint32(v), nil
}

func parseHexUint(s string, bits int) (uint64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid hex value %q", s)
	}
	return v, nil
}
