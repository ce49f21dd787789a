package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"syncservice/internal/app"
	"syncservice/internal/config"
	"syncservice/internal/encryption"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// readConfig reads the config file named by the environment defaults.
func readConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates a SyncApp. The caller must defer app.Close().
func newApp(ctx context.Context) (*app.SyncApp, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewSyncApp(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func newSnapshotManager(ctx context.Context) (*app.SnapshotManager, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}
	return app.NewSnapshotManagerFromConfig(ctx, cfg)
}

// readPassphrase prompts on the terminal without echo.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

var rootCmd = &cobra.Command{
	Use:   "syncservice",
	Short: "File metadata sync service",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		instanceID := uuid.New().String()
		cfg := config.NewConfig(instanceID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Instance ID: %s\n", instanceID)
		fmt.Printf("Base Dir:    %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Instance ID:   %s\n", cfg.InstanceID)
		fmt.Printf("Base Dir:      %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:       %s\n", cfg.LogDir)
		fmt.Printf("RPC Addr:      %s\n", cfg.Server.RPCAddr)
		fmt.Printf("API Addr:      %s\n", cfg.Server.APIAddr)
		fmt.Printf("Pool Size:     %d\n", cfg.Server.PoolSize)
		fmt.Printf("Storage:       %s\n", cfg.Storage.Type)
		fmt.Printf("Notifications: %s\n", cfg.Notifications.Mode)
		fmt.Printf("Archive:       %s (%s)\n", cfg.Archive.Name, cfg.Archive.Type)
		return nil
	},
}

// migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		if err := app.Migrate(cmd.Context(), cfg); err != nil {
			return err
		}
		fmt.Printf("Storage %s is up to date\n", cfg.Storage.Type)
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the RPC and web API servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Serve(ctx)
	},
}

// user command
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userAddCmd = &cobra.Command{
	Use:   "add NAME EMAIL",
	Short: "Create a user and their personal workspace",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		user, ws, err := a.CreateUser(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("creating user: %w", err)
		}

		fmt.Printf("User ID:      %s\n", user.ID)
		fmt.Printf("Workspace ID: %d\n", ws.ID)
		return nil
	},
}

// snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Archive the metadata database",
}

var snapshotKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Create the snapshot encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newSnapshotManager(cmd.Context())
		if err != nil {
			return err
		}

		passphrase, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Confirm passphrase: ")
		if err != nil {
			return err
		}
		if passphrase != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		if err := m.Keygen(passphrase); err != nil {
			if errors.Is(err, encryption.ErrAlreadyConfigured) {
				return fmt.Errorf("%w: remove the key files to start over", err)
			}
			return err
		}

		if age, ok := m.Encryptor().(*encryption.AgeEncryptor); ok {
			recipient, err := age.Recipient()
			if err != nil {
				return err
			}
			fmt.Printf("Public key: %s\n", recipient)
		}
		fmt.Println("Snapshot keys created")
		return nil
	},
}

var snapshotPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload an encrypted snapshot of the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newSnapshotManager(cmd.Context())
		if err != nil {
			return err
		}

		name, err := m.Push(cmd.Context())
		if err != nil {
			return fmt.Errorf("snapshot failed: %w", err)
		}
		fmt.Printf("Uploaded %s\n", name)
		return nil
	},
}

var snapshotPullCmd = &cobra.Command{
	Use:   "pull NAME DEST",
	Short: "Download and decrypt a snapshot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newSnapshotManager(cmd.Context())
		if err != nil {
			return err
		}

		passphrase, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}

		if err := m.Pull(cmd.Context(), args[0], args[1], passphrase); err != nil {
			return err
		}
		fmt.Printf("Restored %s to %s\n", args[0], args[1])
		return nil
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newSnapshotManager(cmd.Context())
		if err != nil {
			return err
		}

		entries, err := m.List(cmd.Context())
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No snapshots.")
			return nil
		}

		for _, e := range entries {
			fmt.Printf("%s  %10d  %s\n", e.ModTime.Format("2006-01-02 15:04:05"), e.Size, e.Name)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// user subcommands
	userCmd.AddCommand(userAddCmd)

	// snapshot subcommands
	snapshotCmd.AddCommand(snapshotKeygenCmd)
	snapshotCmd.AddCommand(snapshotPushCmd)
	snapshotCmd.AddCommand(snapshotPullCmd)
	snapshotCmd.AddCommand(snapshotListCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(snapshotCmd)
}
