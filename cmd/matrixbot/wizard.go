package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"matrixbot/internal/config"

	"github.com/spf13/cobra"
)

func wizardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wizard",
		Short: "Interactive setup: homeserver → account → commands → save config",
		Long:  "Asks for the homeserver URL, bot account, access token, command prefix and peer agent, then writes the config to the path used by --config or the default.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWizard(os.Stdin, os.Stdout, resolveConfigPath())
		},
	}
}

// prompter reads one answer per line, falling back to a default on an empty
// line.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func (p *prompter) ask(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	// Prefixes may end in a space, so only the newline is stripped when
	// the answer is not blank.
	s := strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(s) == "" {
		return def, nil
	}
	return s, nil
}

func runWizard(in io.Reader, out io.Writer, cfgPath string) error {
	cfg, err := config.LoadRaw(cfgPath)
	if err != nil {
		cfg = config.Defaults()
	}

	p := &prompter{in: bufio.NewReader(in), out: out}

	fmt.Fprintln(out, "\n--- Step 1: Homeserver ---")
	if cfg.Matrix.HomeserverURL, err = p.ask("Homeserver URL", cfg.Matrix.HomeserverURL); err != nil {
		return err
	}

	fmt.Fprintln(out, "\n--- Step 2: Bot account ---")
	if cfg.Matrix.UserID, err = p.ask("Bot user ID", cfg.Matrix.UserID); err != nil {
		return err
	}
	fmt.Fprintln(out, "Access token: paste the token or reference an env var (e.g. ${MATRIXBOT_ACCESS_TOKEN})")
	if cfg.Matrix.AccessToken, err = p.ask("Access token", cfg.Matrix.AccessToken); err != nil {
		return err
	}

	fmt.Fprintln(out, "\n--- Step 3: Commands ---")
	if cfg.Bot.CommandPrefix, err = p.ask("Command prefix in group rooms", cfg.Bot.CommandPrefix); err != nil {
		return err
	}
	if cfg.Bot.AgentID, err = p.ask("Peer agent user ID (for agent/kick)", cfg.Bot.AgentID); err != nil {
		return err
	}

	if _, err := config.Resolve(cfg); err != nil {
		return err
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", cfgPath)
	fmt.Fprintln(out, "Run 'matrixbot doctor' to check it, then 'matrixbot run'.")
	return nil
}
