package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"smartsched/internal/config"
	"smartsched/internal/infra/calendar"
)

var errNeedsSQLiteCalendar = errors.New("calendar commands need calendar.backend: sqlite")

func newCalendarCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Manage the local SQLite calendar",
	}
	cmd.AddCommand(newCalendarAddCommand(opts), newCalendarListCommand(opts))
	return cmd
}

func openLocalCalendar(opts *rootOptions, calendarID string) (*calendar.SQLite, config.Config, error) {
	cfg, _, err := opts.load()
	if err != nil {
		return nil, config.Config{}, err
	}
	if cfg.Calendar.Backend != config.CalendarBackendSQLite {
		return nil, config.Config{}, errNeedsSQLiteCalendar
	}
	if calendarID == "" {
		calendarID = cfg.Calendar.CalendarIDs[0]
	}
	cal, err := calendar.OpenSQLite(cfg.Calendar.SQLitePath, calendarID)
	if err != nil {
		return nil, config.Config{}, err
	}
	return cal, cfg, nil
}

func newCalendarAddCommand(opts *rootOptions) *cobra.Command {
	var (
		calendarID, title, description, start, end string
		attendees                                  []string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a busy event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			startAt, err := time.Parse(time.RFC3339, start)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			endAt, err := time.Parse(time.RFC3339, end)
			if err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			cal, _, err := openLocalCalendar(opts, calendarID)
			if err != nil {
				return err
			}
			defer cal.Close()

			id, err := cal.Add(cmd.Context(), calendar.Event{
				Title:       title,
				Description: description,
				Attendees:   attendees,
				Start:       startAt,
				End:         endAt,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), green("Added "+id))
			return nil
		},
	}
	cmd.Flags().StringVar(&calendarID, "calendar", "", "Calendar id (default: first of calendar.calendar_ids)")
	cmd.Flags().StringVar(&title, "title", "", "Event title")
	cmd.Flags().StringVar(&description, "description", "", "Event description")
	cmd.Flags().StringVar(&start, "start", "", "Start time, RFC 3339")
	cmd.Flags().StringVar(&end, "end", "", "End time, RFC 3339")
	cmd.Flags().StringSliceVar(&attendees, "attendee", nil, "Attendee email, repeatable")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newCalendarListCommand(opts *rootOptions) *cobra.Command {
	var calendarID, from, to string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List events in a range (default: the next 7 days)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cal, cfg, err := openLocalCalendar(opts, calendarID)
			if err != nil {
				return err
			}
			defer cal.Close()

			loc, err := time.LoadLocation(cfg.Scheduling.Timezone)
			if err != nil {
				return err
			}
			fromAt, toAt := time.Now(), time.Now().AddDate(0, 0, 7)
			if from != "" {
				if fromAt, err = time.Parse(time.RFC3339, from); err != nil {
					return fmt.Errorf("--from: %w", err)
				}
			}
			if to != "" {
				if toAt, err = time.Parse(time.RFC3339, to); err != nil {
					return fmt.Errorf("--to: %w", err)
				}
			}

			events, err := cal.Events(cmd.Context(), fromAt, toAt)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(events) == 0 {
				fmt.Fprintln(out, gray("No events."))
				return nil
			}
			for _, ev := range events {
				line := fmt.Sprintf("%s  %s-%s  %s",
					ev.Start.In(loc).Format("Mon Jan 2"),
					ev.Start.In(loc).Format("15:04"),
					ev.End.In(loc).Format("15:04"),
					bold(ev.Title))
				if len(ev.Attendees) > 0 {
					line += gray(" with " + strings.Join(ev.Attendees, ", "))
				}
				fmt.Fprintln(out, line+gray("  "+ev.ID))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&calendarID, "calendar", "", "Calendar id (default: first of calendar.calendar_ids)")
	cmd.Flags().StringVar(&from, "from", "", "Range start, RFC 3339 (default: now)")
	cmd.Flags().StringVar(&to, "to", "", "Range end, RFC 3339 (default: a week from now)")
	return cmd
}
