package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/agentconsole/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("agentconsole setup")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.Telegram.Token = prompt(scanner, "Telegram bot token", cfg.Telegram.Token)

		users := prompt(scanner, "Allowed Telegram user IDs (comma separated, empty for anyone)", joinIDs(cfg.Telegram.AllowedUsers))
		ids, err := parseIDs(users)
		if err != nil {
			return err
		}
		cfg.Telegram.AllowedUsers = ids

		cfg.DefaultAgent = prompt(scanner, "Default agent", cfg.DefaultAgent)
		if _, ok := cfg.Agents[cfg.DefaultAgent]; !ok {
			return fmt.Errorf("no agent profile named %q", cfg.DefaultAgent)
		}

		host := prompt(scanner, "Enable read-only host commands (yes/no)", yesNo(cfg.Host.Enabled))
		cfg.Host.Enabled = strings.HasPrefix(strings.ToLower(host), "y")

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		if input := strings.TrimSpace(scanner.Text()); input != "" {
			return input
		}
	}
	return defaultVal
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q", f)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
