package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nerrad567/gray-logic-zigbee/internal/bridges/zigbee"
	"github.com/nerrad567/gray-logic-zigbee/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-zigbee/internal/infrastructure/mqtt"
)

// errNoResponse is returned when the bridge does not answer in time.
var errNoResponse = errors.New("no response from bridge")

// pairOptions holds the pair command flags.
type pairOptions struct {
	seconds int
	timeout time.Duration
	asJSON  bool
}

func newPairCmd(configPath *string) *cobra.Command {
	opts := pairOptions{}

	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Open the pairing window on a running bridge",
		Long: `Sends a start_pairing request to a running bridge over MQTT and waits
for its response. Devices may join the network while the window is open.`,
		Example: `  # Open for the configured default
  graylogic-zigbee pair

  # Open for two minutes
  graylogic-zigbee pair --time 120`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if !cmd.Flags().Changed("json") {
				opts.asJSON = !isTerminal(cmd.OutOrStdout())
			}
			return runPair(cmd, cfg, opts)
		},
	}
	cmd.Flags().IntVarP(&opts.seconds, "time", "t", 0,
		fmt.Sprintf("Pairing window in seconds (%d-%d, 0 uses the bridge default)", zigbee.MinPairingTime, zigbee.MaxPairingTime))
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "How long to wait for the bridge to respond")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print the raw response as JSON (default when not a terminal)")
	return cmd
}

// runPair publishes the request and prints the bridge's response.
func runPair(cmd *cobra.Command, cfg *config.Config, opts pairOptions) error {
	if opts.seconds != 0 && (opts.seconds < zigbee.MinPairingTime || opts.seconds > zigbee.MaxPairingTime) {
		return fmt.Errorf("%w: %d", zigbee.ErrInvalidPairingTime, opts.seconds)
	}

	requestID := uuid.NewString()

	// A separate client ID keeps the running bridge's session intact.
	mqttCfg := cfg.MQTT
	mqttCfg.Broker.ClientID = fmt.Sprintf("%s-pair-%s", cfg.MQTT.Broker.ClientID, requestID[:8])

	client, err := mqtt.Connect(mqttCfg)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer client.Close() //nolint:errcheck // best-effort disconnect of a short-lived client

	responses := make(chan zigbee.ResponseMessage, 1)
	err = client.Subscribe(zigbee.ResponseTopic(requestID), 1, func(_ string, payload []byte) error {
		var resp zigbee.ResponseMessage
		if err := json.Unmarshal(payload, &resp); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		select {
		case responses <- resp:
		default:
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribing to response: %w", err)
	}

	req := zigbee.RequestMessage{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Action:    zigbee.ActionStartPairing,
	}
	if opts.seconds != 0 {
		req.Params = map[string]any{"pairing_time": opts.seconds}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	if err := client.Publish(zigbee.RequestTopic(requestID), payload, 1, false); err != nil {
		return fmt.Errorf("publishing request: %w", err)
	}

	ctx := cmd.Context()
	timer := time.NewTimer(opts.timeout)
	defer timer.Stop()

	select {
	case resp := <-responses:
		return printPairResponse(cmd.OutOrStdout(), resp, opts.asJSON)
	case <-timer.C:
		return fmt.Errorf("%w after %s", errNoResponse, opts.timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// printPairResponse writes the response and maps a failed request to an error.
func printPairResponse(w io.Writer, resp zigbee.ResponseMessage, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return err
		}
	} else if resp.Success {
		fmt.Fprintln(w, resp.Message)
	}

	if !resp.Success {
		if resp.Error != nil {
			return fmt.Errorf("bridge rejected request: %s: %s", resp.Error.Code, resp.Error.Message)
		}
		return errors.New("bridge rejected request")
	}
	return nil
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
