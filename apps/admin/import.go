package main

import (
	"context"
	"fmt"

	"github.com/trezcool/gradebook/core/batch"
	"github.com/trezcool/gradebook/core/sheet"
)

func (cli *commandLine) importGrades(ctx context.Context, classID, path string, mode batch.Mode) error {
	src, err := sheet.OpenFile(path)
	if err != nil {
		return err
	}
	b, err := cli.svc.Upload(ctx, classID, mode, src)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "batch %s: %d student(s), %d assessment(s)\n", b.ID, len(b.StudentIDs), len(b.Maxima))
	return nil
}
