package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"syscall"

	"golang.org/x/term"

	"github.com/trezcool/hatua/core"
	"github.com/trezcool/hatua/core/phase"
	"github.com/trezcool/hatua/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db        *sql.DB
	clock     core.Clock
	usrRepo   user.Repository
	phaseRepo phase.Repository
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [ARGS] - run a goose migration command (up, down, status, ...)")
	fmt.Println("  adduser -username USERNAME [-email EMAIL] [-name NAME] [-admin] - create or update a user; the password is prompted next")
	fmt.Println("  addphase -number N -title TITLE -start YYYY-MM-DD -end YYYY-MM-DD [OPTIONS] - create a phase")
	fmt.Println("  resetpassword -username USERNAME|EMAIL - reset user's password")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ExitOnError)
	addUserUname := addUserCmd.String("username", "", "The user's username.")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserName := addUserCmd.String("name", "", "The user's full name.")
	addUserAdmin := addUserCmd.Bool("admin", false, "Grant the admin role.")

	addPhaseCmd := flag.NewFlagSet("addphase", flag.ExitOnError)
	addPhaseNumber := addPhaseCmd.Int("number", 0, "The phase number (unique, ordering key).")
	addPhaseTitle := addPhaseCmd.String("title", "", "The phase title.")
	addPhaseStart := addPhaseCmd.String("start", "", "Start date, YYYY-MM-DD (UTC).")
	addPhaseEnd := addPhaseCmd.String("end", "", "End date, YYYY-MM-DD (UTC).")
	addPhaseVideo := addPhaseCmd.String("video", "", "YouTube video URL.")
	addPhaseMinSeconds := addPhaseCmd.Int("minseconds", 0, "Minimum engaged seconds required to unlock submissions.")
	addPhaseAssignments := addPhaseCmd.Int("assignments", 1, "Number of assignment slots.")
	addPhaseMandatory := addPhaseCmd.Bool("mandatory", false, "Mark the phase as mandatory.")
	addPhaseBypass := addPhaseCmd.Bool("bypass", false, "Bypass the time requirement for submissions.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ExitOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username or email. The password will be prompted next.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserUname == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if len(pwd) == 0 {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(*addUserName, *addUserUname, *addUserEmail, string(pwd), *addUserAdmin)
	case "addphase":
		if err := addPhaseCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addPhaseNumber < 1 || *addPhaseTitle == "" || *addPhaseStart == "" || *addPhaseEnd == "" {
			addPhaseCmd.Usage()
			return errHelp
		}
		return cli.addPhase(addPhaseOpts{
			number:      *addPhaseNumber,
			title:       *addPhaseTitle,
			start:       *addPhaseStart,
			end:         *addPhaseEnd,
			videoURL:    *addPhaseVideo,
			minSeconds:  *addPhaseMinSeconds,
			assignments: *addPhaseAssignments,
			mandatory:   *addPhaseMandatory,
			bypass:      *addPhaseBypass,
		})
	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if len(pwd) == 0 {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*resetPasswordUname, string(pwd))
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) promptPassword() ([]byte, error) {
	fmt.Print("Enter password:")
	pwd, err := readPasswordFunc(syscall.Stdin)
	fmt.Println()
	return pwd, err
}
