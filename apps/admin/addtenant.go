package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	echoapi "github.com/trezcool/masomo-eligibility/apps/api/echo"
	"github.com/trezcool/masomo-eligibility/core"
	"github.com/trezcool/masomo-eligibility/core/eligibility"
)

// addTenant registers a tenant on behalf of the operator.
func (cli *commandLine) addTenant(nt eligibility.NewTenant) error {
	tenants, err := cli.tenants()
	if err != nil {
		return err
	}
	t, err := tenants.Register(context.Background(), nt, cliActor)
	if err != nil {
		return errors.Wrap(err, "registering tenant")
	}

	fmt.Fprintf(cli.out, "tenant %s (%s) registered: %s\n", t.Slug, t.ID, t.Status)
	if t.Deadline != nil {
		fmt.Fprintf(cli.out, "verification deadline: %s\n", t.Deadline.Format("January 2, 2006"))
	}
	return nil
}

// remind sends deadline reminders, or lists who would get one on a dry run.
func (cli *commandLine) remind(rm eligibility.Reminder) error {
	tenants, err := cli.tenants()
	if err != nil {
		return err
	}
	rep, err := tenants.Remind(context.Background(), rm, cliActor)
	if err != nil {
		return errors.Wrap(err, "sending deadline reminders")
	}

	for _, t := range rep.Tenants {
		fmt.Fprintf(cli.out, "  %s (%s) %s, deadline %s\n", t.Slug, t.ID, t.Status, t.Deadline.Format("January 2, 2006"))
	}
	if rep.DryRun {
		fmt.Fprintf(cli.out, "due on %s: %d (dry run)\n", rep.Deadline.Format("2006-01-02"), rep.Found)
		return nil
	}
	fmt.Fprintf(cli.out, "due on %s: %d, sent: %d, failed: %d\n", rep.Deadline.Format("2006-01-02"), rep.Found, rep.Sent, rep.Failed)
	if rep.Failed > 0 {
		return errors.Errorf("%d reminder(s) failed", rep.Failed)
	}
	return nil
}

// token mints a signed API token. There is no login endpoint: operators hand tokens out.
func (cli *commandLine) token(actor core.Actor, isAdmin bool, tenantID string) error {
	claims := echoapi.NewClaims(actor, isAdmin, tenantID, cli.conf)
	token, err := echoapi.GenerateToken(claims, cli.conf.SecretKey)
	if err != nil {
		return err
	}
	fmt.Fprintln(cli.out, token)
	return nil
}
