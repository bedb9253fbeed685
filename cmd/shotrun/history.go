package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli"

	"github.com/ericfisherdev/shotrun/internal/adapter/driven/filestore"
	sqliteadapter "github.com/ericfisherdev/shotrun/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/shotrun/internal/application"
	"github.com/ericfisherdev/shotrun/internal/config"
	"github.com/ericfisherdev/shotrun/internal/domain/model"
)

func historyCommand(ctx context.Context, stdout, stderr io.Writer) cli.Command {
	withHistory := func(fn func(*cli.Context, *application.HistoryService) error) func(*cli.Context) error {
		return func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := setupLogger(cfg, stderr)

			if cfg.DBPath == "" {
				return errors.New("build history is disabled (SHOTRUN_DB_PATH is empty)")
			}
			db, err := openHistory(ctx, cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := db.Close(); closeErr != nil {
					logger.Error("error closing database", "error", closeErr)
				}
			}()

			files, err := filestore.New(cfg.ScreenshotDir)
			if err != nil {
				return err
			}
			return fn(c, application.NewHistoryService(sqliteadapter.NewBuildRepo(db), files))
		}
	}

	return cli.Command{
		Name:  "history",
		Usage: "list builds recorded by previous runs",
		Flags: []cli.Flag{
			cli.IntFlag{Name: "limit", Value: 20, Usage: "number of builds to show"},
		},
		Action: withHistory(func(c *cli.Context, svc *application.HistoryService) error {
			builds, err := svc.Recent(ctx, c.Int("limit"))
			if err != nil {
				return err
			}
			printBuilds(stdout, builds)
			return nil
		}),
		Subcommands: []cli.Command{
			{
				Name:      "show",
				Usage:     "show one build and its screenshots",
				ArgsUsage: "<build-id>",
				Action: withHistory(func(c *cli.Context, svc *application.HistoryService) error {
					id, err := buildIDArg(c)
					if err != nil {
						return err
					}
					summary, err := svc.Show(ctx, id)
					if err != nil {
						return err
					}
					printBuild(stdout, summary)
					return nil
				}),
			},
			{
				Name:      "rm",
				Usage:     "delete a build and its stored screenshots",
				ArgsUsage: "<build-id>",
				Action: withHistory(func(c *cli.Context, svc *application.HistoryService) error {
					id, err := buildIDArg(c)
					if err != nil {
						return err
					}
					if err := svc.Remove(ctx, id); err != nil {
						return err
					}
					fmt.Fprintf(stdout, "removed build %s\n", id)
					return nil
				}),
			},
		},
	}
}

func buildIDArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", errors.New("expected exactly one build id")
	}
	return c.Args().First(), nil
}

func printBuilds(w io.Writer, builds []model.Build) {
	if len(builds) == 0 {
		fmt.Fprintln(w, "no builds recorded")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tMODE\tBRANCH\tCREATED\tDURATION")
	for _, b := range builds {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			b.ID, b.Name, b.Status, b.Mode, dash(b.Branch),
			b.CreatedAt.Local().Format(time.DateTime),
			b.Elapsed().Round(time.Second),
		)
	}
}

func printBuild(w io.Writer, s *application.BuildSummary) {
	b := s.Build
	fmt.Fprintf(w, "Build:       %s\n", b.ID)
	fmt.Fprintf(w, "Name:        %s\n", b.Name)
	fmt.Fprintf(w, "Status:      %s\n", b.Status)
	fmt.Fprintf(w, "Mode:        %s\n", b.Mode)
	fmt.Fprintf(w, "Branch:      %s\n", dash(b.Branch))
	fmt.Fprintf(w, "Commit:      %s\n", dash(b.Commit))
	if b.URL != "" {
		fmt.Fprintf(w, "URL:         %s\n", b.URL)
	}
	fmt.Fprintf(w, "Duration:    %s\n", b.Elapsed().Round(time.Millisecond))
	fmt.Fprintf(w, "Screenshots: %d\n", s.Screenshots)

	if len(b.Screenshots) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	defer tw.Flush()
	fmt.Fprintln(tw, "\nNAME\tBROWSER\tVIEWPORT\tLOCATION")
	for _, shot := range b.Screenshots {
		location := shot.Path
		if location == "" {
			location = shot.RemoteID
		}
		fmt.Fprintf(tw, "%s\t%s\t%dx%d\t%s\n",
			shot.Name, dash(shot.Properties.Browser),
			shot.Properties.ViewportWidth, shot.Properties.ViewportHeight, dash(location))
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
