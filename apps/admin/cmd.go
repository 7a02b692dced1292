package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/roxnlabs/mentora/core/user"
	"github.com/roxnlabs/mentora/services/backup"
	"github.com/roxnlabs/mentora/services/secrets"
	"github.com/roxnlabs/mentora/storage/migrate"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type (
	migrator interface {
		Up(ctx context.Context) migrate.Result
		UpTo(ctx context.Context, version int64) migrate.Result
		Down(ctx context.Context) migrate.Result
		Status(ctx context.Context) ([]migrate.StatusEntry, error)
		Version(ctx context.Context) (int64, error)
		Create(name string) (string, error)
	}

	backupManager interface {
		Create(ctx context.Context) backup.Result
		Restore(ctx context.Context, name string) backup.Result
		List() ([]backup.Archive, error)
		Cleanup(ctx context.Context) backup.Result
	}

	secretStore interface {
		Set(ctx context.Context, name, value string) error
		Get(ctx context.Context, name string) (string, error)
		Delete(ctx context.Context, name string) error
		List(ctx context.Context) ([]secrets.Info, error)
	}

	commandLine struct {
		usrSvc   user.Service
		usrRepo  user.Repository
		migrator migrator
		backups  backupManager
		vault    secretStore // nil when no master key is configured
		out      io.Writer
	}
)

// run executes the command line `args`, program name included.
func (cli *commandLine) run(args []string) error {
	if cli.out == nil {
		cli.out = os.Stdout
	}
	root := cli.rootCmd()
	if len(args) < 2 {
		_ = root.Help()
		return errHelp
	}
	root.SetArgs(args[1:])
	return root.ExecuteContext(context.Background())
}

func (cli *commandLine) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Mentora administration",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          func(cmd *cobra.Command, _ []string) error { return usage(cmd) },
	}
	root.SetOut(cli.out)
	root.SetErr(cli.out)
	root.AddCommand(cli.addUserCmd(), cli.resetPasswordCmd(), cli.migrateCmd(), cli.backupCmd(), cli.secretsCmd())
	return root
}

// usage prints the command help and reports that nothing was run.
func usage(cmd *cobra.Command) error {
	_ = cmd.Help()
	return errHelp
}

// groupCmd is a command only holding subcommands.
func groupCmd(use, short string, subs ...*cobra.Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%q: no such command", args[0])
			}
			return usage(cmd)
		},
	}
	cmd.AddCommand(subs...)
	return cmd
}

func promptPassword(w io.Writer, prompt string) (string, error) {
	fmt.Fprint(w, prompt)
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}

func (cli *commandLine) addUserCmd() *cobra.Command {
	var name, uname, email string
	var isAdmin bool

	cmd := &cobra.Command{
		Use:   "adduser",
		Short: "Create a user, or reactivate an existing one with a new password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if uname == "" && email == "" {
				return usage(cmd)
			}
			pwd, err := promptPassword(cli.out, "Enter password:")
			if err != nil {
				return err
			}
			if pwd == "" {
				return usage(cmd)
			}
			usr, err := cli.addUser(cmd.Context(), name, uname, email, pwd, isAdmin)
			if err != nil {
				return err
			}
			fmt.Fprintf(cli.out, "user %s saved\n", usr.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "The user's full name (defaults to the username)")
	cmd.Flags().StringVar(&uname, "username", "", "The user's username")
	cmd.Flags().StringVar(&email, "email", "", "The user's email")
	cmd.Flags().BoolVar(&isAdmin, "admin", false, "Grant the admin roles")
	return cmd
}

func (cli *commandLine) resetPasswordCmd() *cobra.Command {
	var uname string

	cmd := &cobra.Command{
		Use:   "resetpassword",
		Short: "Reset a user's password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if uname == "" {
				return usage(cmd)
			}
			pwd, err := promptPassword(cli.out, "Enter password:")
			if err != nil {
				return err
			}
			if pwd == "" {
				return usage(cmd)
			}
			return cli.resetPassword(cmd.Context(), uname, pwd)
		},
	}
	cmd.Flags().StringVar(&uname, "username", "", "The user's username or email. The password will be prompted next.")
	return cmd
}

func (cli *commandLine) migrateCmd() *cobra.Command {
	report := func(res migrate.Result) error {
		if !res.Success {
			return errors.New(res.Message)
		}
		fmt.Fprintln(cli.out, res.Message)
		return nil
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, _ []string) error { return report(cli.migrator.Up(cmd.Context())) },
	}
	upTo := &cobra.Command{
		Use:   "up-to VERSION",
		Short: "Apply the pending migrations up to VERSION",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
			return report(cli.migrator.UpTo(cmd.Context(), version))
		},
	}
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the last applied migration",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, _ []string) error { return report(cli.migrator.Down(cmd.Context())) },
	}
	status := &cobra.Command{
		Use:   "status",
		Short: "List the migrations and whether they are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := cli.migrator.Status(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED AT")
			for _, e := range entries {
				appliedAt := "pending"
				if e.AppliedAt != nil {
					appliedAt = e.AppliedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%04d\t%s\t%s\n", e.Version, e.Name, appliedAt)
			}
			return tw.Flush()
		},
	}
	version := &cobra.Command{
		Use:   "version",
		Short: "Print the current database version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := cli.migrator.Version(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cli.out, "version %d\n", v)
			return nil
		},
	}
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Scaffold a new migration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			fp, err := cli.migrator.Create(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cli.out, "created %s\n", fp)
			return nil
		},
	}
	return groupCmd("migrate", "Manage the database migrations", up, upTo, down, status, version, create)
}

func (cli *commandLine) backupCmd() *cobra.Command {
	report := func(res backup.Result) error {
		if !res.Success {
			return errors.New(res.Message)
		}
		fmt.Fprintln(cli.out, res.Message)
		return nil
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Dump the database to a new archive",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, _ []string) error { return report(cli.backups.Create(cmd.Context())) },
	}
	restore := &cobra.Command{
		Use:   "restore NAME",
		Short: "Replace the database content with the archive NAME",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return report(cli.backups.Restore(cmd.Context(), args[0]))
		},
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List the archives, newest first",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			archives, err := cli.backups.List()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSIZE\tCREATED AT")
			for _, a := range archives {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", a.Name, a.Size, a.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete the archives older than the retention period",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, _ []string) error { return report(cli.backups.Cleanup(cmd.Context())) },
	}
	return groupCmd("backup", "Manage the database backups", create, restore, list, cleanup)
}

func (cli *commandLine) secretsCmd() *cobra.Command {
	withVault := func(run func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			if cli.vault == nil {
				return secrets.ErrNoMasterKey
			}
			return run(cmd, args)
		}
	}

	set := &cobra.Command{
		Use:   "set NAME",
		Short: "Store the secret NAME; the value is prompted",
		Args:  cobra.ExactArgs(1),
		RunE: withVault(func(cmd *cobra.Command, args []string) error {
			val, err := promptPassword(cli.out, "Enter value:")
			if err != nil {
				return err
			}
			if val == "" {
				return usage(cmd)
			}
			if err := cli.vault.Set(cmd.Context(), args[0], val); err != nil {
				return err
			}
			fmt.Fprintf(cli.out, "secret %s saved\n", args[0])
			return nil
		}),
	}
	get := &cobra.Command{
		Use:   "get NAME",
		Short: "Print the secret NAME",
		Args:  cobra.ExactArgs(1),
		RunE: withVault(func(cmd *cobra.Command, args []string) error {
			val, err := cli.vault.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cli.out, val)
			return nil
		}),
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List the stored secrets, without their values",
		Args:  cobra.NoArgs,
		RunE: withVault(func(cmd *cobra.Command, _ []string) error {
			infos, err := cli.vault.List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tUPDATED AT")
			for _, info := range infos {
				fmt.Fprintf(tw, "%s\t%s\n", info.Name, info.UpdatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		}),
	}
	del := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete the secret NAME",
		Args:  cobra.ExactArgs(1),
		RunE: withVault(func(cmd *cobra.Command, args []string) error {
			if err := cli.vault.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cli.out, "secret %s deleted\n", args[0])
			return nil
		}),
	}
	return groupCmd("secrets", "Manage the encrypted secrets", set, get, list, del)
}
