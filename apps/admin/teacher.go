package main

import (
	"context"
	"fmt"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/user"
)

func (cli *commandLine) addTeacher(ctx context.Context, email, firstName, lastName, pwd string) error {
	usr := user.NewTeacher(core.CleanString(firstName), core.CleanString(lastName), core.CleanString(email, true /* lower */))
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}
	usr, err := cli.users.CreateUser(ctx, usr)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "teacher %s created with id %s\n", usr.FullName(), usr.ID)
	return nil
}
