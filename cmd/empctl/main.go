package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"empctl/internal/api"
	"empctl/internal/app"
	"empctl/internal/auth"
	"empctl/internal/config"
	"empctl/internal/emp"
	"empctl/internal/encryption"
	"empctl/internal/form"
	"empctl/internal/mockserver"
	"empctl/internal/model"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func readConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates an EmpApp. The caller must defer app.Close().
// command identifies the CLI command being run (e.g. "login", "list").
func newApp(ctx context.Context, command string) (*app.EmpApp, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.NewEmpApp(ctx, cfg, app.Options{
		Command:    command,
		Passphrase: app.PromptPassphrase("Passphrase: "),
	})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// userError reduces API failures to the message shown to the user.
func userError(err error) error {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return errors.New(api.Message(err))
	}
	return err
}

func printEmployee(e model.Employee) {
	fmt.Printf("ID:      %s\n", e.ID)
	fmt.Printf("Name:    %s\n", e.Name)
	fmt.Printf("Age:     %d\n", e.Age)
	fmt.Printf("Salary:  %g\n", float64(e.Salary))
	if e.DOB != "" {
		fmt.Printf("Born:    %s\n", e.DOB)
	}
	if e.Gender != "" {
		fmt.Printf("Gender:  %s\n", e.Gender)
	}
	if e.Phone != "" {
		fmt.Printf("Phone:   %s\n", e.Phone)
	}
	for _, s := range e.Skills {
		fmt.Printf("Skill:   %s (%s, %g years)\n", s.Name, s.Level, float64(s.Years))
	}
}

var rootCmd = &cobra.Command{
	Use:          "empctl",
	Short:        "Employee directory client",
	SilenceUsage: true,
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

		cfg := config.NewConfig(defaults.BaseDir)
		if baseURL, _ := cmd.Flags().GetString("base-url"); baseURL != "" {
			cfg.API.BaseURL = baseURL
		}

		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Base Dir: %s\n", defaults.BaseDir)
		fmt.Printf("API:      %s\n", cfg.API.BaseURL)
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
		cfg, err := config.ReadFromFile(defaults.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		fmt.Printf("Environment:  %s\n", cfg.Environment)
		fmt.Printf("API:          %s\n", cfg.API.BaseURL)
		fmt.Printf("Storage:      %s\n", cfg.Storage.Type)
		fmt.Printf("Secure:       %s (%s)\n", cfg.Secure.Type, strings.Join(cfg.Persist.SecurePartitions, ", "))
		fmt.Printf("Persist:      %s v%d\n", cfg.Persist.Key, cfg.Persist.Version)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage the keys protecting the session",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the key pair for secure storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return err
		}

		passphrase, err := app.PromptPassphrase("New passphrase: ")()
		if err != nil {
			return err
		}
		if os.Getenv(app.EnvPassphrase) == "" {
			confirm, err := app.PromptPassphrase("Confirm passphrase: ")()
			if err != nil {
				return err
			}
			if confirm != passphrase {
				return fmt.Errorf("passphrases do not match")
			}
		}

		if err := enc.Setup(passphrase); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}
		fmt.Printf("Keys written to %s\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Start a session",
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")

		a, err := newApp(cmd.Context(), "login")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Login(cmd.Context(), username, password)
		if err != nil {
			return userError(err)
		}
		fmt.Println(res.Message)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session and clear cached data",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "logout")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Logout(); err != nil {
			return err
		}
		fmt.Println("Logged out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the current session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "whoami")
		if err != nil {
			return err
		}
		defer a.Close()

		sess := a.Session()
		if !sess.IsLoggedIn {
			fmt.Println("Not logged in")
			return nil
		}
		fmt.Printf("Logged in as %s\n", sess.UserData["username"])
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List employees",
	RunE: func(cmd *cobra.Command, args []string) error {
		refresh, _ := cmd.Flags().GetBool("refresh")

		a, err := newApp(cmd.Context(), "list")
		if err != nil {
			return err
		}
		defer a.Close()

		employees, err := a.ListEmployees(cmd.Context(), refresh)
		if err != nil {
			return userError(err)
		}
		if len(employees) == 0 {
			fmt.Println("No employees found.")
			return nil
		}
		for _, e := range employees {
			fmt.Printf("%-6s %-30s %3d %12g\n", e.ID, e.Name, e.Age, float64(e.Salary))
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show one employee",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "show")
		if err != nil {
			return err
		}
		defer a.Close()

		e, err := a.GetEmployee(cmd.Context(), model.ID(args[0]))
		if err != nil {
			return userError(err)
		}
		printEmployee(e)
		return nil
	},
}

// applyFormFlags copies the form flags that were set on cmd into f.
func applyFormFlags(cmd *cobra.Command, f *form.Form) error {
	flags := cmd.Flags()
	if flags.Changed("first") {
		f.FirstName, _ = flags.GetString("first")
	}
	if flags.Changed("last") {
		f.LastName, _ = flags.GetString("last")
	}
	if flags.Changed("phone") {
		f.Phone, _ = flags.GetString("phone")
	}
	if flags.Changed("gender") {
		g, _ := flags.GetString("gender")
		f.Gender = model.Gender(g)
	}
	if flags.Changed("dob") {
		f.DOB, _ = flags.GetString("dob")
	}
	if flags.Changed("salary") {
		f.Salary, _ = flags.GetFloat64("salary")
	}
	if flags.Changed("skill") {
		specs, _ := flags.GetStringArray("skill")
		for _, sf := range f.Skills() {
			f.RemoveSkill(sf.Key)
		}
		for _, spec := range specs {
			s, err := form.ParseSkill(spec)
			if err != nil {
				return err
			}
			if err := f.SetSkill(f.AddSkill(), s); err != nil {
				return err
			}
		}
	}
	return nil
}

func addFormFlags(cmd *cobra.Command) {
	cmd.Flags().String("first", "", "First name")
	cmd.Flags().String("last", "", "Last name")
	cmd.Flags().String("phone", "", "Phone number (11 digits)")
	cmd.Flags().String("gender", "", "Gender: male, female or other")
	cmd.Flags().String("dob", "", "Date of birth, RFC 3339 (e.g. 1990-05-01T00:00:00Z)")
	cmd.Flags().Float64("salary", 0, "Salary")
	cmd.Flags().StringArray("skill", nil, "Skill as name:level:years (repeatable)")
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an employee",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "create")
		if err != nil {
			return err
		}
		defer a.Close()

		f := a.NewForm()
		if err := applyFormFlags(cmd, f); err != nil {
			return err
		}
		e, err := a.CreateEmployee(cmd.Context(), f)
		if err != nil {
			return userError(err)
		}
		fmt.Println("Employee created successfully")
		printEmployee(e)
		return nil
	},
}

var updateCmd = &cobra.Command{
	Use:   "update ID",
	Short: "Update an employee",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "update")
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := a.EditForm(cmd.Context(), model.ID(args[0]))
		if err != nil {
			return userError(err)
		}
		if err := applyFormFlags(cmd, f); err != nil {
			return err
		}
		e, err := a.UpdateEmployee(cmd.Context(), f)
		if err != nil {
			return userError(err)
		}
		fmt.Println("Employee updated successfully")
		printEmployee(e)
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Mark all cached employee data as stale",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "refresh")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Invalidate(); err != nil {
			return err
		}
		fmt.Println("Cache invalidated")
		return nil
	},
}

var mockServerCmd = &cobra.Command{
	Use:   "mock-server",
	Short: "Serve an in-memory employee API for local testing",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		startID, _ := cmd.Flags().GetInt("start-id")
		secret, _ := cmd.Flags().GetString("token-secret")

		opts := []mockserver.Option{
			mockserver.WithStartID(startID),
			mockserver.WithLogger(app.NewConsoleLogger(os.Stderr, "mock-server", slog.LevelDebug)),
		}
		if secret != "" {
			issuer, err := auth.NewTokenIssuer([]byte(secret), 0, emp.RealClock{})
			if err != nil {
				return err
			}
			opts = append(opts, mockserver.WithTokenVerifier(issuer))
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Serving mock employee API on http://%s\n", addr)
		return mockserver.New(opts...).ListenAndServe(ctx, addr)
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().String("base-url", "", "REST API base URL")

	// keys subcommands
	keysCmd.AddCommand(keysInitCmd)

	// session commands
	loginCmd.Flags().StringP("username", "u", "", "Username")
	loginCmd.Flags().StringP("password", "p", "", "Password")

	// employee commands
	listCmd.Flags().Bool("refresh", false, "Bypass the cache")
	addFormFlags(createCmd)
	addFormFlags(updateCmd)

	mockServerCmd.Flags().String("addr", "127.0.0.1:8080", "Listen address")
	mockServerCmd.Flags().Int("start-id", 1, "Id assigned to the first created employee")
	mockServerCmd.Flags().String("token-secret", "", "Require bearer tokens signed with this secret")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(mockServerCmd)
}
