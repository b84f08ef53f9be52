package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"lunar-bazi/backend/internal/app"
	"lunar-bazi/backend/internal/bazi"
	"lunar-bazi/backend/internal/config"
	"lunar-bazi/backend/internal/convert"
	"lunar-bazi/backend/internal/store"
)

type rootOptions struct {
	envFile string
	dbPath  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "bazi",
		Short:         "Convert Gregorian dates to the Chinese lunar calendar and BaZi pillars",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Optional .env file to load")
	cmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite history path (overrides BAZI_DB_PATH)")

	cmd.AddCommand(newConvertCmd(opts), newHistoryCmd(opts), newServeCmd(opts))
	return cmd
}

func (o *rootOptions) load() (config.Config, error) {
	cfg, err := config.Load(o.envFile)
	if err != nil {
		return config.Config{}, err
	}
	if o.dbPath != "" {
		cfg.DBPath = o.dbPath
	}
	cfg.ConfigureLogging()
	return cfg, nil
}

type convertOptions struct {
	date     string
	clock    string
	boundary string
	asJSON   bool
	timeout  time.Duration
}

func newConvertCmd(root *rootOptions) *cobra.Command {
	opts := &convertOptions{}
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Request a lunar calendar / BaZi conversion",
		Example: "  bazi convert --date 2024-02-10 --time 08:30\n" +
			"  bazi convert --date 1990-01-20 --boundary lunar --json",
		RunE: func(cmd *cobra.Command, _ []string) error {
			input, err := parseInput(opts.date, opts.clock, opts.boundary, time.Now())
			if err != nil {
				return err
			}
			cfg, err := root.load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			application, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer application.Close()

			outcome, err := application.Service.Convert(ctx, input, uuid.NewString())
			if err != nil {
				if errors.Is(err, bazi.ErrInvalidInput) {
					return err
				}
				logrus.WithError(err).Debug("conversion failed")
				return errors.New(convert.FailureMessage)
			}
			if opts.asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(outcome.Result)
			}
			return printResult(cmd.OutOrStdout(), input, outcome.Result)
		},
	}
	cmd.Flags().StringVar(&opts.date, "date", "", "Gregorian date YYYY-MM-DD (defaults to today)")
	cmd.Flags().StringVar(&opts.clock, "time", "", "Local time HH:MM (defaults to now)")
	cmd.Flags().StringVar(&opts.boundary, "boundary", string(bazi.BoundarySolar), "Year pillar boundary: solar or lunar")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print the raw JSON result")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Overall deadline for the conversion")
	return cmd
}

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var (
		limit int
		clearAll bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored conversions, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			db, err := store.Open(cfg.DBPath, true)
			if err != nil {
				return err
			}
			defer db.Close()

			if clearAll {
				removed, err := db.ClearConversions()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d conversions\n", removed)
				return nil
			}

			rows, total, err := db.ListConversions(0, limit)
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), rows, total)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of rows to print")
	cmd.Flags().BoolVar(&clearAll, "clear", false, "Delete the whole history instead of listing it")
	return cmd
}

func newServeCmd(root *rootOptions) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Port = strconv.Itoa(port)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer application.Close()
			return application.ListenAndServe(ctx)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides PORT)")
	return cmd
}

// parseInput fills unset date or time parts from now.
func parseInput(date, clock, boundary string, now time.Time) (bazi.DateTimeInput, error) {
	input := bazi.DefaultInput(now)
	if date = strings.TrimSpace(date); date != "" {
		d, err := time.Parse("2006-01-02", date)
		if err != nil {
			return bazi.DateTimeInput{}, fmt.Errorf("%w: date must be YYYY-MM-DD, got %q", bazi.ErrInvalidInput, date)
		}
		input.Year, input.Month, input.Day = d.Year(), int(d.Month()), d.Day()
	}
	if clock = strings.TrimSpace(clock); clock != "" {
		t, err := time.Parse("15:04", clock)
		if err != nil {
			return bazi.DateTimeInput{}, fmt.Errorf("%w: time must be HH:MM, got %q", bazi.ErrInvalidInput, clock)
		}
		input.Hour, input.Minute = t.Hour(), t.Minute()
	}
	b, err := bazi.ParseYearBoundary(boundary)
	if err != nil {
		return bazi.DateTimeInput{}, err
	}
	input.YearBoundary = b
	if err := input.Validate(); err != nil {
		return bazi.DateTimeInput{}, err
	}
	return input, nil
}

func printResult(w io.Writer, input bazi.DateTimeInput, r bazi.Result) error {
	boundary := "立春"
	if input.YearBoundary == bazi.BoundaryLunar {
		boundary = "農曆正月初一"
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "公曆\t%d年%d月%d日 %02d:%02d\n", input.Year, input.Month, input.Day, input.Hour, input.Minute)
	fmt.Fprintf(tw, "農曆\t%s\n", r.LunarDate)
	fmt.Fprintf(tw, "生肖\t%s\n", r.Zodiac)
	fmt.Fprintf(tw, "節氣\t%s\n", r.SolarTerm)
	fmt.Fprintf(tw, "八字\t%s %s %s %s\n", r.YearPillar, r.MonthPillar, r.DayPillar, r.HourPillar)
	fmt.Fprintf(tw, "五行\t%s\n", strings.Join(r.FiveElements, "、"))
	fmt.Fprintf(tw, "簡評\t%s\n", r.Interpretation)
	fmt.Fprintf(tw, "分界\t%s\n", boundary)
	return tw.Flush()
}

func printHistory(w io.Writer, rows []store.Conversion, total int64) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tINPUT\tPILLARS\tZODIAC\tPROVIDER\tCREATED")
	for _, row := range rows {
		pillars := "-"
		if r, err := row.Result(); err == nil {
			pillars = fmt.Sprintf("%s %s %s %s", r.YearPillar, r.MonthPillar, r.DayPillar, r.HourPillar)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", row.ID, row.InputKey, pillars, row.Zodiac, row.Provider, row.CreatedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(tw, "\n%d of %d conversions\n", len(rows), total)
	return tw.Flush()
}
