package main

import (
	"context"
	"time"
)

func (cli *commandLine) resetPassword(ctx context.Context, id, pwd string) error {
	usr, err := cli.users.GetUserByID(ctx, id)
	if err != nil {
		return err
	}
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}
	usr.UpdatedAt = time.Now().UTC()
	if _, err := cli.users.UpdateUser(ctx, usr); err != nil {
		return err
	}
	return nil
}
