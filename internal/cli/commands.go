package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/gmsas95/pillpal/internal/app"
	"github.com/gmsas95/pillpal/internal/auth"
	"github.com/gmsas95/pillpal/internal/config"
	"github.com/gmsas95/pillpal/internal/store"
)

var Version = "dev"

func HandleUserCommand(args []string, application *app.App) {
	if len(args) == 0 {
		PrintUserHelp()
		return
	}

	ctx := context.Background()
	switch args[0] {
	case "add", "create":
		if len(args) < 3 {
			fmt.Println("Usage: pillpal user add <name> <email> [patient|caregiver]")
			os.Exit(1)
		}
		role := "patient"
		if len(args) > 3 {
			role = args[3]
		}
		password, err := terminalPassword("Password: ")
		if err != nil {
			fmt.Printf("Error reading password: %v\n", err)
			os.Exit(1)
		}
		user, err := addUser(ctx, application.Store, args[1], args[2], role, password)
		if err != nil {
			fmt.Printf("Error creating user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✓ Created %s %s (%s)\n", user.Role, user.Email, user.ID)

	case "list", "ls":
		if err := listUsers(ctx, application.Store, os.Stdout); err != nil {
			fmt.Printf("Error listing users: %v\n", err)
			os.Exit(1)
		}

	default:
		PrintUserHelp()
	}
}

func addUser(ctx context.Context, st *store.Store, name, email, role, password string) (*store.User, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" || email == "" {
		return nil, fmt.Errorf("name and email are required")
	}
	if role != "patient" && role != "caregiver" {
		return nil, fmt.Errorf("role must be patient or caregiver")
	}
	if err := auth.ValidatePassword(password); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &store.User{Name: name, Email: email, PasswordHash: hash, Role: role}
	if err := st.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func listUsers(ctx context.Context, st *store.Store, w io.Writer) error {
	users, err := st.ListUsers(ctx, 1000, 0)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Fprintln(w, "No users found. Create one with: pillpal user add <name> <email>")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tROLE")
	for _, u := range users {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.ID, u.Name, u.Email, u.Role)
	}
	return tw.Flush()
}

// terminalPassword prompts on a TTY and falls back to one stdin line
// when input is piped.
func terminalPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Print(prompt)
	b, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func HandleSummaryCommand(args []string, application *app.App) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		fmt.Println("Usage: pillpal summary <user_id> [--at RFC3339]")
		os.Exit(1)
	}

	at, err := parseSummaryFlags(args[1:], time.Now())
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if err := writeSummary(context.Background(), application, args[0], at, os.Stdout); err != nil {
		fmt.Printf("Error computing summary: %v\n", err)
		os.Exit(1)
	}
}

func parseSummaryFlags(args []string, now time.Time) (time.Time, error) {
	fs := flag.NewFlagSet("summary", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	atFlag := fs.String("at", "", "evaluate at this RFC3339 instant instead of now")
	if err := fs.Parse(args); err != nil {
		return time.Time{}, err
	}
	if *atFlag == "" {
		return now, nil
	}
	at, err := time.Parse(time.RFC3339, *atFlag)
	if err != nil {
		return time.Time{}, fmt.Errorf("--at must be an RFC3339 timestamp: %w", err)
	}
	return at, nil
}

func writeSummary(ctx context.Context, application *app.App, userID string, at time.Time, w io.Writer) error {
	sum, err := application.Summary(ctx, userID, at)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}

// HandleConfigCommand needs no store, so it takes the raw flags.
func HandleConfigCommand(args []string, configPath, dataDir string) {
	if len(args) == 0 {
		PrintConfigHelp()
		return
	}

	switch args[0] {
	case "init":
		path := configPath
		if len(args) > 1 {
			path = args[1]
		}
		if path == "" {
			path = defaultConfigPath(dataDir)
		}
		if err := config.WriteDefault(path); err != nil {
			fmt.Printf("Error writing config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✓ Wrote default config to %s\n", path)

	case "show", "view":
		cfg, err := config.Load(configPath, dataDir)
		if err != nil {
			fmt.Printf("Error loading config: %v\n", err)
			os.Exit(1)
		}
		printConfig(cfg, os.Stdout)

	case "path":
		if configPath != "" {
			fmt.Println(configPath)
			return
		}
		fmt.Println(defaultConfigPath(dataDir))

	default:
		PrintConfigHelp()
	}
}

func defaultConfigPath(dataDir string) string {
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}
	return filepath.Join(dataDir, "pillpal.yaml")
}

func printConfig(cfg *config.Config, w io.Writer) {
	fmt.Fprintln(w, "Server:")
	fmt.Fprintf(w, "  Address:  %s:%d\n", cfg.Server.Address, cfg.Server.Port)
	fmt.Fprintln(w, "Storage:")
	fmt.Fprintf(w, "  Driver:   %s\n", cfg.Storage.Driver)
	fmt.Fprintf(w, "  Data:     %s\n", cfg.Storage.DataDir)
	fmt.Fprintln(w, "Security:")
	fmt.Fprintf(w, "  JWT Secret: %s\n", maskToken(cfg.Security.JWTSecret))
	fmt.Fprintf(w, "  Token TTL:  %s\n", cfg.TokenTTL())
	fmt.Fprintln(w, "Adherence:")
	fmt.Fprintf(w, "  Timezone: %s\n", cfg.Location())
	fmt.Fprintf(w, "  Streak window: %d days\n", cfg.Adherence.StreakWindowDays)
	fmt.Fprintln(w, "Liveness:")
	fmt.Fprintf(w, "  Sweep: %s (%s, offline after %s)\n",
		channelStatus(cfg.Liveness.Enabled), cfg.Liveness.Schedule, cfg.Liveness.OfflineAfter)
	fmt.Fprintln(w, "Notifiers:")
	fmt.Fprintf(w, "  Telegram: %s\n", channelStatus(cfg.Notify.Telegram.Enabled))
	if cfg.Notify.Telegram.Enabled {
		fmt.Fprintf(w, "    Bot Token: %s\n", maskToken(cfg.Notify.Telegram.BotToken))
	}
	fmt.Fprintf(w, "  Discord:  %s\n", channelStatus(cfg.Notify.Discord.Enabled))
	if cfg.Notify.Discord.Enabled {
		fmt.Fprintf(w, "    Token: %s\n", maskToken(cfg.Notify.Discord.Token))
	}
}

func channelStatus(enabled bool) string {
	if enabled {
		return "✅ enabled"
	}
	return "❌ disabled"
}

func maskToken(token string) string {
	if len(token) < 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

func PrintHelp() {
	fmt.Println("pillpal - medication adherence backend")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  pillpal [serve] [-config path] [-data dir]   Run the API server")
	fmt.Println("  pillpal user add <name> <email> [role]       Create a user")
	fmt.Println("  pillpal user list                            List users")
	fmt.Println("  pillpal summary <user_id> [--at RFC3339]     Print an adherence summary")
	fmt.Println("  pillpal config init [path]                   Write a default config")
	fmt.Println("  pillpal config show                          Show the effective config")
	fmt.Println("  pillpal version                              Print the version")
}

func PrintUserHelp() {
	fmt.Println("Usage: pillpal user <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  add <name> <email> [patient|caregiver]   Create a user (prompts for password)")
	fmt.Println("  list                                     List users")
}

func PrintConfigHelp() {
	fmt.Println("Usage: pillpal config <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init [path]   Write a default config file")
	fmt.Println("  show          Show the effective config with secrets masked")
	fmt.Println("  path          Print the config file location")
}
