package main

import (
	"context"
	"fmt"

	"github.com/trezcool/masomo/portal/core/nav"
	"github.com/trezcool/masomo/portal/core/session"
	"github.com/trezcool/masomo/portal/core/user"
)

func (cli *commandLine) login(ctx context.Context, creds user.Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}
	sess, err := cli.client.Login(ctx, creds)
	if err != nil {
		return err
	}
	cli.printSession(sess)
	return nil
}

func (cli *commandLine) signup(ctx context.Context, s user.Signup) error {
	if err := s.Validate(); err != nil {
		return err
	}
	sess, err := cli.client.Signup(ctx, s)
	if err != nil {
		return err
	}
	cli.printSession(sess)
	return nil
}

// whoami refreshes the user summary from the API; a rejected token ends the session.
func (cli *commandLine) whoami(ctx context.Context) error {
	if !cli.store.Session().IsAuthenticated() {
		return errNotLoggedIn
	}
	if _, err := cli.client.Profile(ctx); err != nil {
		return err
	}
	cli.printSession(cli.store.Session())
	return nil
}

func (cli *commandLine) nav() error {
	sess := cli.store.Session()
	if !sess.IsAuthenticated() {
		return errNotLoggedIn
	}
	for _, e := range nav.ForSession(sess) {
		fmt.Fprintf(cli.out, "%-12s %s\n", e.Label, e.Path)
	}
	return nil
}

func (cli *commandLine) printSession(sess session.Session) {
	if usr := sess.User; usr != nil {
		fmt.Fprintf(cli.out, "Logged in as %s <%s> (%s)\n", usr.Name, usr.Email, sess.Role.Name())
		return
	}
	fmt.Fprintf(cli.out, "Logged in (%s)\n", sess.Role.Name())
}
