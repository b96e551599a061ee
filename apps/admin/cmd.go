package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-eligibility/core"
	"github.com/trezcool/masomo-eligibility/core/eligibility"
	"github.com/trezcool/masomo-eligibility/core/expiry"
	"github.com/trezcool/masomo-eligibility/storage/database"
)

var (
	migrateFunc = database.Migrate // mockable

	errHelp = errors.New("help provided")

	cliActor = core.Actor{ID: "system:admin-cli"}
)

type (
	tenantService interface {
		Register(ctx context.Context, nt eligibility.NewTenant, actor core.Actor) (eligibility.Tenant, error)
		Remind(ctx context.Context, rm eligibility.Reminder, actor core.Actor) (eligibility.ReminderReport, error)
	}

	expirer interface {
		Run(ctx context.Context, now time.Time) (expiry.Result, error)
	}

	// commandLine resolves its dependencies lazily: `migrate` must not need the services.
	commandLine struct {
		conf    *core.Config
		out     io.Writer
		db      func() (*sql.DB, error)
		tenants func() (tenantService, error)
		scanner func() (expirer, error)
	}
)

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose command (up, down, status, redo, version...)")
	fmt.Fprintln(cli.out, "  expire - lapse every tenant whose grace period is over")
	fmt.Fprintln(cli.out, "  remind -days N [-dry-run] - remind in-grace tenants whose deadline is N days away")
	fmt.Fprintln(cli.out, "  addtenant -name NAME -slug SLUG [-email EMAIL] -students N - register a tenant")
	fmt.Fprintln(cli.out, "  token -subject ID [-email EMAIL] [-admin] [-tenant TENANT_ID] - mint an API token")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addTenantCmd := flag.NewFlagSet("addtenant", flag.ContinueOnError)
	addTenantCmd.SetOutput(cli.out)
	addTenantName := addTenantCmd.String("name", "", "The institution's name")
	addTenantSlug := addTenantCmd.String("slug", "", "The tenant's unique slug")
	addTenantEmail := addTenantCmd.String("email", "", "The contact email verification notices are sent to")
	addTenantStudents := addTenantCmd.Int("students", -1, "The institution's student count")

	remindCmd := flag.NewFlagSet("remind", flag.ContinueOnError)
	remindCmd.SetOutput(cli.out)
	remindDays := remindCmd.Int("days", -1, "The number of days left before the deadline")
	remindDryRun := remindCmd.Bool("dry-run", false, "List the tenants without notifying them")

	tokenCmd := flag.NewFlagSet("token", flag.ContinueOnError)
	tokenCmd.SetOutput(cli.out)
	tokenSubject := tokenCmd.String("subject", "", "The caller's id")
	tokenEmail := tokenCmd.String("email", "", "The caller's email")
	tokenAdmin := tokenCmd.Bool("admin", false, "Grant the admin capability")
	tokenTenant := tokenCmd.String("tenant", "", "The tenant a non-admin caller acts on")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "expire":
		return cli.expire()
	case "remind":
		if err := remindCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *remindDays < 0 {
			remindCmd.Usage()
			return errHelp
		}
		return cli.remind(eligibility.Reminder{Days: *remindDays, DryRun: *remindDryRun})
	case "addtenant":
		if err := addTenantCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *addTenantName == "" || *addTenantSlug == "" || *addTenantStudents < 0 {
			addTenantCmd.Usage()
			return errHelp
		}
		return cli.addTenant(eligibility.NewTenant{
			Name:         *addTenantName,
			Slug:         *addTenantSlug,
			ContactEmail: *addTenantEmail,
			StudentCount: *addTenantStudents,
		})
	case "token":
		if err := tokenCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *tokenSubject == "" || (!*tokenAdmin && *tokenTenant == "") {
			tokenCmd.Usage()
			return errHelp
		}
		return cli.token(core.Actor{ID: *tokenSubject, Email: *tokenEmail}, *tokenAdmin, *tokenTenant)
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) migrate(args []string) error {
	db, err := cli.db()
	if err != nil {
		return err
	}
	return migrateFunc(db, args[0], args[1:]...)
}

func (cli *commandLine) expire() error {
	scanner, err := cli.scanner()
	if err != nil {
		return err
	}
	res, err := scanner.Run(context.Background(), time.Now().UTC())
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "due: %d, expired: %d, skipped: %d, failed: %d (took %s)\n",
		res.Due, res.Expired, res.Skipped, res.Failed, res.Took)
	for _, msg := range res.Errors {
		fmt.Fprintf(cli.out, "  %s\n", msg)
	}
	if res.Failed > 0 {
		return errors.Errorf("%d tenant(s) failed to expire", res.Failed)
	}
	return nil
}
