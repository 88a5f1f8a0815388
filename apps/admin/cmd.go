package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/trezcool/gradebook/core/batch"
	"github.com/trezcool/gradebook/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable
	isTerminalFunc   = term.IsTerminal   // mockable

	errHelp    = errors.New("help provided")
	errAborted = errors.New("aborted")
)

type commandLine struct {
	migrate func(ctx context.Context, command string, args ...string) error
	users   user.Repository
	svc     *batch.Service
	cleanup func(ctx context.Context) error
	in      io.Reader
	out     io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS...] - run a goose command (up, down, status, redo, version...)")
	fmt.Fprintln(cli.out, "  addteacher -email EMAIL -first NAME -last NAME - create a teacher, the password is prompted next")
	fmt.Fprintln(cli.out, "  resetpassword -id USER_ID - reset a user's password")
	fmt.Fprintln(cli.out, "  import -class CLASS_ID -file PATH [-mode merge|replace] [-yes] - upload a grades spreadsheet")
	fmt.Fprintln(cli.out, "  cleanup - run every maintenance job once")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}
	ctx := context.Background()

	addTeacherCmd := flag.NewFlagSet("addteacher", flag.ContinueOnError)
	addTeacherEmail := addTeacherCmd.String("email", "", "The teacher's email.")
	addTeacherFirst := addTeacherCmd.String("first", "", "The teacher's first name.")
	addTeacherLast := addTeacherCmd.String("last", "", "The teacher's last name.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordID := resetPasswordCmd.String("id", "", "The user's id. The password will be prompted next.")

	importCmd := flag.NewFlagSet("import", flag.ContinueOnError)
	importClass := importCmd.String("class", "", "The id of the class receiving the grades.")
	importFile := importCmd.String("file", "", "A .csv or .xlsx spreadsheet.")
	importMode := importCmd.String("mode", string(batch.ModeMerge), "How the upload is reconciled with the current batch: merge or replace.")
	importYes := importCmd.Bool("yes", false, "Do not ask for confirmation before replacing a batch.")

	for _, fs := range []*flag.FlagSet{addTeacherCmd, resetPasswordCmd, importCmd} {
		fs.SetOutput(cli.out)
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(ctx, args[2], args[3:]...)

	case "addteacher":
		if err := addTeacherCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *addTeacherEmail == "" || *addTeacherFirst == "" || *addTeacherLast == "" {
			addTeacherCmd.Usage()
			return errHelp
		}
		pwd, err := cli.readPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			addTeacherCmd.Usage()
			return errHelp
		}
		return cli.addTeacher(ctx, *addTeacherEmail, *addTeacherFirst, *addTeacherLast, pwd)

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *resetPasswordID == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.readPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(ctx, *resetPasswordID, pwd)

	case "import":
		if err := importCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *importClass == "" || *importFile == "" {
			importCmd.Usage()
			return errHelp
		}
		mode, err := batch.ParseMode(*importMode)
		if err != nil {
			return err
		}
		if mode == batch.ModeReplace && !*importYes {
			ok, err := cli.confirm("Replacing drops every student missing from the file. Continue?")
			if err != nil {
				return err
			}
			if !ok {
				return errAborted
			}
		}
		return cli.importGrades(ctx, *importClass, *importFile, mode)

	case "cleanup":
		return cli.cleanup(ctx)

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) readPassword() (string, error) {
	fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}

// confirm asks a yes/no question. Without a terminal there is nobody to ask, so it refuses.
func (cli *commandLine) confirm(question string) (bool, error) {
	if !isTerminalFunc(int(syscall.Stdin)) {
		fmt.Fprintln(cli.out, "not a terminal; pass -yes to confirm")
		return false, nil
	}
	fmt.Fprintf(cli.out, "%s [y/N] ", question)
	answer, err := bufio.NewReader(cli.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func newCommandLine() *commandLine {
	return &commandLine{in: os.Stdin, out: os.Stdout}
}
