package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"

	"golang.org/x/term"

	"github.com/trezcool/masomo/portal/core/session"
	"github.com/trezcool/masomo/portal/core/user"
	"github.com/trezcool/masomo/portal/services/apiclient"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp        = errors.New("help provided")
	errNotLoggedIn = errors.New("not logged in")
)

type commandLine struct {
	store  *session.Store
	client *apiclient.Client
	out    io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  login -email EMAIL                 - log in; the password will be prompted next")
	fmt.Fprintln(cli.out, "  signup -email EMAIL -invite CODE   - create an account from an invite code and log in")
	fmt.Fprintln(cli.out, "  logout                             - forget the session")
	fmt.Fprintln(cli.out, "  whoami                             - show the logged in user")
	fmt.Fprintln(cli.out, "  nav                                - list the screens the session may navigate to")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	loginCmd := flag.NewFlagSet("login", flag.ContinueOnError)
	loginCmd.SetOutput(cli.out)
	loginEmail := loginCmd.String("email", "", "The account's email. The password will be prompted next.")

	signupCmd := flag.NewFlagSet("signup", flag.ContinueOnError)
	signupCmd.SetOutput(cli.out)
	signupEmail := signupCmd.String("email", "", "The new account's email. The password will be prompted next.")
	signupInvite := signupCmd.String("invite", "", "The invite code received from the school.")

	ctx := context.Background()

	switch args[1] {
	case "login":
		if err := loginCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *loginEmail == "" {
			loginCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			loginCmd.Usage()
			return errHelp
		}
		return cli.login(ctx, user.Credentials{Email: *loginEmail, Password: pwd})
	case "signup":
		if err := signupCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *signupEmail == "" || *signupInvite == "" {
			signupCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			signupCmd.Usage()
			return errHelp
		}
		return cli.signup(ctx, user.Signup{Email: *signupEmail, Password: pwd, InviteCode: *signupInvite})
	case "logout":
		cli.store.Logout(ctx)
		fmt.Fprintln(cli.out, "Logged out.")
		return nil
	case "whoami":
		return cli.whoami(ctx)
	case "nav":
		return cli.nav()
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) promptPassword() (string, error) {
	fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	return string(pwd), err
}
