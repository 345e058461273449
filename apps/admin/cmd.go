package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	echoapi "github.com/trezcool/capstone/apps/api/echo"
	"github.com/trezcool/capstone/core"
	"github.com/trezcool/capstone/core/user"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	conf     *core.Config
	db       *sqlx.DB
	accSvc   user.Service
	validate *validator.Validate
	out      io.Writer
}

func (cli *commandLine) printf(format string, args ...interface{}) {
	out := cli.out
	if out == nil {
		out = os.Stdout
	}
	_, _ = fmt.Fprintf(out, format, args...)
}

func (cli *commandLine) printUsage() {
	cli.printf("Usage:\n")
	cli.printf("  migrate COMMAND [ARGS]                            - run a goose migration command\n")
	cli.printf("  decide -id ACCOUNT_ID -status approved|rejected -admin EMAIL - review a pending account\n")
	cli.printf("  remind -email EMAIL -admin EMAIL [-message MSG]  - send a profile reminder\n")
	cli.printf("  token -email EMAIL -role student|teacher|admin    - print an access token\n")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	decideCmd := flag.NewFlagSet("decide", flag.ContinueOnError)
	decideID := decideCmd.String("id", "", "The pending account's ID.")
	decideStatus := decideCmd.String("status", "", "The decision: approved or rejected.")
	decideAdmin := decideCmd.String("admin", "", "The reviewing admin's email.")

	remindCmd := flag.NewFlagSet("remind", flag.ContinueOnError)
	remindEmail := remindCmd.String("email", "", "The account holder's email.")
	remindAdmin := remindCmd.String("admin", "", "The sending admin's email.")
	remindMsg := remindCmd.String("message", "", "An optional reminder message.")

	tokenCmd := flag.NewFlagSet("token", flag.ContinueOnError)
	tokenEmail := tokenCmd.String("email", "", "The token holder's email.")
	tokenRole := tokenCmd.String("role", "", "The token holder's role.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "decide":
		if err := decideCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *decideID == "" || *decideStatus == "" || *decideAdmin == "" {
			decideCmd.Usage()
			return errHelp
		}
		return cli.decide(*decideID, *decideStatus, *decideAdmin)
	case "remind":
		if err := remindCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *remindEmail == "" || *remindAdmin == "" {
			remindCmd.Usage()
			return errHelp
		}
		return cli.remind(*remindEmail, *remindAdmin, *remindMsg)
	case "token":
		if err := tokenCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *tokenEmail == "" || *tokenRole == "" {
			tokenCmd.Usage()
			return errHelp
		}
		return cli.token(*tokenEmail, *tokenRole)
	default:
		cli.printUsage()
		return errHelp
	}
}

func adminIdentity(email string) core.Identity {
	return core.Identity{Email: core.CleanString(email, true /* lower */), Role: core.RoleAdmin}
}

// decide approves or rejects a pending account.
func (cli *commandLine) decide(id, status, adminEmail string) error {
	dr := user.DecisionRequest{Status: user.Status(status)}
	if err := dr.Validate(cli.validate); err != nil {
		return err
	}
	acc, err := cli.accSvc.Decide(context.Background(), adminIdentity(adminEmail), id, dr.Status)
	if err != nil {
		return err
	}
	cli.printf("%s is now %s\n", acc.Email, acc.Status)
	return nil
}

// remind sends a profile reminder to an account holder.
func (cli *commandLine) remind(email, adminEmail, msg string) error {
	rr := user.ReminderRequest{Email: email, Message: msg}
	if err := rr.Validate(cli.validate); err != nil {
		return err
	}
	ns, err := cli.accSvc.Remind(context.Background(), adminIdentity(adminEmail), rr)
	if err != nil {
		return err
	}
	for _, n := range ns {
		cli.printf("reminder %s sent to %s\n", n.ID, n.Address.Value)
	}
	return nil
}

// token prints a signed access token for the given identity.
func (cli *commandLine) token(email, role string) error {
	id := core.Identity{
		Email: core.CleanString(email, true /* lower */),
		Role:  core.Role(core.CleanString(role, true /* lower */)),
	}
	if !id.Role.IsValid() {
		return fmt.Errorf("invalid role %q", role)
	}
	tok, err := echoapi.GenerateToken(cli.conf, echoapi.GetIdentityClaims(cli.conf, id))
	if err != nil {
		return err
	}
	cli.printf("%s\n", tok)
	return nil
}
