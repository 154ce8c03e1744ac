package main

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hitme/protocol"
)

const controlTimeout = 30 * time.Second

var errControl = errors.New("server refused command")

// controlRequest sends one command to the control socket and returns the
// text after OK|.
func controlRequest(socket, line string) (string, error) {
	conn, err := net.DialTimeout("unix", socket, 5*time.Second)
	if err != nil {
		return "", fmt.Errorf("connect to %s: %w", socket, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(controlTimeout))

	if _, err := conn.Write([]byte(line)); err != nil {
		return "", err
	}

	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && reply == "" {
		return "", fmt.Errorf("read reply: %w", err)
	}
	reply = strings.TrimRight(reply, "\r\n")

	status, rest, _ := strings.Cut(reply, "|")
	if status != "OK" {
		return "", fmt.Errorf("%w: %s", errControl, rest)
	}
	return rest, nil
}

func runControl(cmd *cobra.Command, line string) error {
	out, err := controlRequest(viper.GetString("control_socket"), line)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show connected users and loaded accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runControl(cmd, protocol.FormatPacket("stats"))
		},
	}
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale requests now and print how many changed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runControl(cmd, protocol.FormatPacket("sweep"))
		},
	}
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <login> <path>",
		Short: "Write a user's state to a file on the server host",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			return runControl(cmd, protocol.FormatPacket("export", args[0], args[1], format))
		},
	}
	cmd.Flags().String("format", "", "json or yaml (default: from the file extension)")
	return cmd
}

func newShutdownCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shutdown",
		Short: "Disconnect every client and stop the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")
			back, _ := cmd.Flags().GetDuration("back-in")

			var completion string
			if back > 0 {
				completion = protocol.FormatTime(time.Now().Add(back))
			}
			return runControl(cmd, protocol.FormatPacket("shutdown", reason, completion))
		},
	}
	cmd.Flags().String("reason", "maintenance", "Reason sent to clients: maintenance or restart")
	cmd.Flags().Duration("back-in", 0, "Announce when the service is expected back")
	return cmd
}
