package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hitme/protocol"
)

var replCommands = []string{
	"ping", "reg", "auth", "bye", "help",
	"stat", "me", "prof", "onb", "pref",
	"add", "ren", "tag", "del", "list",
	"rinit", "rank", "rmov",
	"hit", "edit", "rdel", "rst", "dism", "ext", "views", "inbox",
	"live", "off", "tick",
}

func newConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Open an interactive session against the server",
		Long: "Lines are sent as typed when they contain '|'. Otherwise the words\n" +
			"are joined into a packet, so 'hit bob lunch high 30' sends\n" +
			"hit|bob|lunch|high|30.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := viper.GetString("addr")
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				return fmt.Errorf("connect to %s: %w", addr, err)
			}
			defer conn.Close()

			r := &repl{conn: conn, out: cmd.OutOrStdout()}
			return r.run()
		},
	}
}

type repl struct {
	conn  net.Conn
	out   io.Writer
	liner *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".hitctl_history")
}

func (r *repl) run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(completeCommand)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}
	defer r.saveHistory()

	go r.printIncoming()

	for {
		line, err := r.liner.Prompt("hitme> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Fprintln(r.out, "\nBye!")
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)

		if line == "quit" || line == "exit" {
			line = "bye"
		}
		if _, err := r.conn.Write([]byte(toPacket(line))); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		if line == "bye" {
			return nil
		}
	}
}

// printIncoming echoes every server line, replies and pushes alike.
func (r *repl) printIncoming() {
	reader := bufio.NewReader(r.conn)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			fmt.Fprint(r.out, "< "+line)
		}
		if err != nil {
			return
		}
	}
}

func (r *repl) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

// toPacket turns a typed line into a wire line.
func toPacket(line string) string {
	if strings.Contains(line, "|") {
		return line + "\n"
	}
	fields := strings.Fields(line)
	return protocol.FormatPacket(fields[0], fields[1:]...)
}

func completeCommand(line string) []string {
	var out []string
	for _, c := range replCommands {
		if strings.HasPrefix(c, strings.ToLower(line)) {
			out = append(out, c)
		}
	}
	return out
}
