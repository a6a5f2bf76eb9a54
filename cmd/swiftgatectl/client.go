package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/danmuck/swiftgate/internal/dispatch"
	"github.com/danmuck/swiftgate/internal/protocol/message"
	"github.com/spf13/cobra"
)

func sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one message to a gateway and print the reply",
		Long: `Send one message frame to host:port and print the ACK/NACK reply.
The message is read from --file, or stdin when --file is "-". With
--sample a generated customer transfer is sent instead.`,
		RunE: runSend,
	}
	cmd.Flags().String("host", "127.0.0.1", "destination host")
	cmd.Flags().Int("port", 5000, "destination port")
	cmd.Flags().StringP("file", "f", "", "message json file, - for stdin")
	cmd.Flags().Bool("sample", false, "send a generated sample transfer")
	cmd.Flags().Duration("timeout", 30*time.Second, "reply timeout")
	return cmd
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	file, _ := cmd.Flags().GetString("file")
	sample, _ := cmd.Flags().GetBool("sample")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	msg, err := readMessage(cmd.InOrStdin(), file, sample)
	if err != nil {
		return err
	}
	d := dispatch.New(cfg.SessionConfig(), nil)
	res, err := d.Send(context.Background(), host, port, msg, timeout)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}

func readMessage(stdin io.Reader, file string, sample bool) (message.Message, error) {
	if sample {
		return message.Sample(time.Now()), nil
	}
	var raw []byte
	var err error
	switch file {
	case "":
		return message.Message{}, fmt.Errorf("either --file or --sample is required")
	case "-":
		raw, err = io.ReadAll(stdin)
	default:
		raw, err = os.ReadFile(file)
	}
	if err != nil {
		return message.Message{}, fmt.Errorf("read message: %w", err)
	}
	_, msg, err := message.Decode(raw)
	if err != nil {
		return message.Message{}, err
	}
	return msg, nil
}

func probeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe host:port",
		Short: "Check that a counterpart gateway accepts connections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			host, port, err := splitHostPort(args[0])
			if err != nil {
				return err
			}
			timeout, _ := cmd.Flags().GetDuration("timeout")
			d := dispatch.New(cfg.SessionConfig(), nil)
			res, err := d.Probe(context.Background(), host, port, timeout)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("probe %s failed: %s", args[0], res.Error)
			}
			return nil
		},
	}
	cmd.Flags().Duration("timeout", 5*time.Second, "connect timeout")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
