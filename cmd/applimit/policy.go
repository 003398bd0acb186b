package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/control"
	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
	"github.com/eliteGoblin/focusd/app_limit/internal/infra"
	"github.com/eliteGoblin/focusd/app_limit/internal/policy"
	"github.com/eliteGoblin/focusd/app_limit/internal/usecase"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List app policies",
	Long:  `Shows every policy in the store with its mode, limits and current launch count.`,
	RunE:  runList,
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage app policies",
	Long: `Adds, updates and removes policies in the store. A running engine picks up
changes on the next tick.`,
}

var policyAddCmd = &cobra.Command{
	Use:     "add <package-id>",
	Aliases: []string{"set"},
	Short:   "Add or update a policy",
	Long: `Adds a policy, or updates the given fields of an existing one.

Modes: time_limit, launch_limit, password_protected, constant_overlay.
Passwords are stored as bcrypt hashes unless --plain is set.`,
	Example: `  applimit policy add com.instagram.android --mode time_limit --time-limit 30m
  applimit policy add com.google.android.youtube --mode launch_limit --max-opens 3
  applimit policy add com.bank.app --mode password_protected --password 1234`,
	Args: cobra.ExactArgs(1),
	RunE: runPolicyAdd,
}

var policyRemoveCmd = &cobra.Command{
	Use:     "remove <package-id>",
	Aliases: []string{"rm"},
	Short:   "Remove a policy",
	Args:    cobra.ExactArgs(1),
	RunE:    runPolicyRemove,
}

var resetCmd = &cobra.Command{
	Use:   "reset <package-id>",
	Short: "Reset the launch count and timers of one app",
	Long:  `Asks the running engine to clear the launch count and session timers of a package.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runReset,
}

// policyOptions are the policy add flags. Changed reports which were set.
type policyOptions struct {
	name      string
	mode      string
	timeLimit time.Duration
	maxOpens  int
	password  string
	plain     bool
	changed   func(flag string) bool
}

var addOpts policyOptions

func init() {
	f := policyAddCmd.Flags()
	f.StringVar(&addOpts.name, "name", "", "Display name")
	f.StringVar(&addOpts.mode, "mode", "time_limit", "Policy mode")
	f.DurationVar(&addOpts.timeLimit, "time-limit", 0, "Time limit or overlay interval (0 disables)")
	f.IntVar(&addOpts.maxOpens, "max-opens", 0, "Launches allowed per reset period (0 disables)")
	f.StringVar(&addOpts.password, "password", "", "Unlock password (empty clears it)")
	f.BoolVar(&addOpts.plain, "plain", false, "Store the password without hashing")

	policyCmd.AddCommand(policyAddCmd)
	policyCmd.AddCommand(policyRemoveCmd)
}

func openStore() (domain.PolicyStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, _ := zap.NewDevelopment()
	return infra.OpenPolicyStore(cfg, logger)
}

func runList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	policies, err := store.Load()
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	fmt.Println("\n=== App Policies ===")
	views := make([]control.Policy, 0, len(policies))
	for _, p := range policies {
		views = append(views, control.PolicyView(p))
	}
	printPolicies(views)

	if last, err := store.LastResetTime(); err == nil && !last.IsZero() {
		fmt.Printf("\nLast reset: %s\n", last.Local().Format(time.RFC1123))
	}
	fmt.Println("====================")
	return nil
}

func printPolicies(policies []control.Policy) {
	if len(policies) == 0 {
		fmt.Println("  (none)")
		return
	}
	for _, p := range policies {
		title := p.PackageID
		if p.DisplayName != "" {
			title = fmt.Sprintf("%s (%s)", p.DisplayName, p.PackageID)
		}
		fmt.Printf("\n  %s\n", title)
		fmt.Printf("    Mode: %s\n", p.Mode)
		if p.TimeLimitSeconds > 0 {
			fmt.Printf("    Time limit: %s\n", time.Duration(p.TimeLimitSeconds)*time.Second)
		}
		if p.MaxOpens > 0 || p.CurrentOpens > 0 {
			fmt.Printf("    Launches: %d/%d\n", p.CurrentOpens, p.MaxOpens)
		}
		if p.HasPassword {
			fmt.Println("    Password: set")
		}
	}
}

func runPolicyAdd(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	policies, err := store.Load()
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	set := policy.NewSet(policies)
	opts := addOpts
	opts.changed = func(name string) bool { return cmd.Flags().Changed(name) }

	updated, err := applyPolicyOptions(args[0], set, opts)
	if err != nil {
		return err
	}
	set.Upsert(updated)

	if err := store.SaveAll(set.All()); err != nil {
		return fmt.Errorf("failed to save policies: %w", err)
	}
	fmt.Printf("Saved %s policy for %s\n", updated.Mode, updated.PackageID)
	return nil
}

// applyPolicyOptions builds the new record for packageID. Fields of an
// existing policy are kept unless their flag was set; the launch count is
// always kept.
func applyPolicyOptions(packageID string, set *policy.Set, opts policyOptions) (domain.AppPolicy, error) {
	changed := opts.changed
	if changed == nil {
		changed = func(string) bool { return true }
	}

	p := domain.AppPolicy{PackageID: strings.TrimSpace(packageID)}
	existing, found := set.Get(p.PackageID)
	if found {
		p = *existing
	}

	if !found || changed("mode") {
		mode, ok := policy.ParseMode(opts.mode)
		if !ok {
			names := make([]string, 0, len(policy.Modes()))
			for _, m := range policy.Modes() {
				names = append(names, m.String())
			}
			return domain.AppPolicy{}, fmt.Errorf("unknown mode %q (want one of %s)", opts.mode, strings.Join(names, ", "))
		}
		p.Mode = mode
	}
	if changed("name") {
		p.DisplayName = opts.name
	}
	if changed("time-limit") {
		p.TimeLimitSeconds = int(opts.timeLimit / time.Second)
	}
	if changed("max-opens") {
		p.MaxOpens = opts.maxOpens
	}
	if changed("password") {
		p.Password = opts.password
		if opts.password != "" && !opts.plain {
			hashed, err := usecase.HashPassword(opts.password)
			if err != nil {
				return domain.AppPolicy{}, err
			}
			p.Password = hashed
		}
	}

	if err := policy.Validate(p); err != nil {
		return domain.AppPolicy{}, err
	}
	return p, nil
}

func runPolicyRemove(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	policies, err := store.Load()
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	set := policy.NewSet(policies)
	if !set.Remove(args[0]) {
		return fmt.Errorf("%s: %w", args[0], domain.ErrPolicyNotFound)
	}
	if err := store.SaveAll(set.All()); err != nil {
		return fmt.Errorf("failed to save policies: %w", err)
	}
	fmt.Printf("Removed policy for %s\n", args[0])
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	if err := control.NewClient(cfg.Control.Address).ResetCounters(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Reset counters for %s\n", args[0])
	return nil
}
