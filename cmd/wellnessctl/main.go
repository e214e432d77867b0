package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gwi.com/wellness-chat/internal/config"
	"gwi.com/wellness-chat/internal/core"
	"gwi.com/wellness-chat/internal/guidance"
	"gwi.com/wellness-chat/internal/logging"
	"gwi.com/wellness-chat/internal/store"
)

var (
	emailFlag    string
	passwordFlag string
	demoFlag     bool
	rootCmd      = &cobra.Command{
		Use:   "wellnessctl",
		Short: "Terminal client for the wellness chat",
	}
)

// app is the in-process service stack a command works against.
type app struct {
	store   *store.Store
	service *core.ChatService
	logger  *zap.Logger
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp wires the store and, when withGuidance is set, the guidance provider.
func newApp(ctx context.Context, withGuidance bool) (*app, error) {
	load := config.Load
	if withGuidance {
		load = config.LoadConfig
	}
	cfg, err := load()
	if err != nil {
		return nil, err
	}

	// The terminal belongs to the conversation; logs go to the file sink only.
	logger := zap.NewNop()
	if cfg.LogFile != "" {
		logger = logging.NewFileOnly(cfg.LogLevel, cfg.LogFile)
	}

	st := store.Open(ctx, cfg, logger)
	a := &app{store: st, logger: logger}
	a.closers = append(a.closers, func() { _ = st.Close() }, func() { _ = logger.Sync() })

	var guide core.Guide
	if withGuidance {
		gen, closeGen, err := guidance.NewGenerator(ctx, cfg, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, closeGen)
		guide = guidance.NewClient(gen, cfg.GuidanceHistoryLimit, logger)
	}
	a.service = core.NewChatService(st, guide, cfg.GuidanceTimeout, logger)
	return a, nil
}

// login resolves the account selected by the persistent flags.
func (a *app) login(ctx context.Context) (*store.User, error) {
	if demoFlag {
		return a.service.SeedDemoUser(ctx)
	}
	if emailFlag == "" || passwordFlag == "" {
		return nil, fmt.Errorf("--email and --password required (or --demo)")
	}
	return a.service.Login(ctx, emailFlag, passwordFlag)
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&emailFlag, "email", "e", "", "Account email")
	rootCmd.PersistentFlags().StringVarP(&passwordFlag, "password", "p", os.Getenv("WELLNESS_PASSWORD"), "Account password (defaults to $WELLNESS_PASSWORD)")
	rootCmd.PersistentFlags().BoolVar(&demoFlag, "demo", false, "Use the demo account")

	var name string
	signupCmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if emailFlag == "" || passwordFlag == "" {
				return fmt.Errorf("--email and --password required")
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			user, err := a.service.SignUp(ctx, name, emailFlag, passwordFlag)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Welcome, %s. Your account %s is ready.\n", user.Name, user.Email)
			return nil
		},
	}
	signupCmd.Flags().StringVarP(&name, "name", "n", "", "Display name (defaults to the email's local part)")
	rootCmd.AddCommand(signupCmd)

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Open an interactive conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			user, err := a.login(ctx)
			if err != nil {
				return err
			}
			ws, err := a.service.Workspace(ctx, user.ID)
			if err != nil {
				return err
			}
			return runChat(ctx, ws, user, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	rootCmd.AddCommand(chatCmd)

	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "List archived sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			user, err := a.login(ctx)
			if err != nil {
				return err
			}
			ws, err := a.service.Workspace(ctx, user.ID)
			if err != nil {
				return err
			}
			printSessions(cmd.OutOrStdout(), ws.Sessions.ListSessions())
			return nil
		},
	}
	rootCmd.AddCommand(sessionsCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
