// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vulntor/skewprint/cmd/skewprint/internal/format"
	"github.com/vulntor/skewprint/pkg/catalog"
	"github.com/vulntor/skewprint/pkg/store"
	"github.com/vulntor/skewprint/pkg/tracking"
	"github.com/vulntor/skewprint/pkg/version"
)

// hostView is the JSON form of a stored host.
type hostView struct {
	Source      string    `json:"source"`
	Key         string    `json:"key"`
	Address     string    `json:"address"`
	Port        uint16    `json:"port,omitempty"`
	Frequency   int       `json:"frequency"`
	SampleCount int       `json:"samples"`
	Skew        float64   `json:"skew"`
	Segments    int       `json:"segments"`
	Active      bool      `json:"active"`
	Similar     []string  `json:"similar,omitempty"`
	LastSeen    time.Time `json:"last_seen"`
}

type sessionView struct {
	ID        string     `json:"id"`
	Label     string     `json:"label"`
	Version   string     `json:"version,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	Hosts     []hostView `json:"hosts,omitempty"`
}

func newReportCommand() *cobra.Command {
	var (
		sessionID     string
		list          bool
		outputMode    string
		exportCatalog string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show the hosts stored by a tracking session",
		Example: `  skewprint report
  skewprint report --list
  skewprint report --session 3f1c... -o json
  skewprint report --export-catalog database.yaml`,
		GroupID: "core",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := format.ValidateMode(outputMode); err != nil {
				return tracking.NewConfigError("output", err)
			}
			t, err := newTracker(cmd)
			if err != nil {
				return err
			}
			noColor, _ := cmd.Flags().GetBool("no-color")
			f := format.New(cmd.OutOrStdout(), cmd.ErrOrStderr(), format.ParseMode(outputMode), false, !noColor && !color.NoColor)

			db, err := store.Open(t.databasePath(), t.log)
			if err != nil {
				return fmt.Errorf("open snapshot store: %w", err)
			}
			defer db.Close()

			if list {
				return printSessions(f, db)
			}

			sess, err := findSession(db, sessionID)
			if err != nil {
				return err
			}
			if ok, err := version.Compatible(sess.Version); err == nil && !ok {
				t.log.Warn().Str("written_by", sess.Version).Str("running", version.Version).
					Msg("session was written by an incompatible skewprint version")
			}

			hosts, err := db.Hosts(sess.ID)
			if err != nil {
				return err
			}

			if exportCatalog != "" {
				path := t.layout().File(exportCatalog)
				n, err := exportHosts(path, hosts)
				if err != nil {
					return err
				}
				t.log.Info().Str("file", path).Int("identities", n).Msg("catalog updated")
			}

			return printHosts(f, sess, hosts)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session to show (default: latest)")
	cmd.Flags().BoolVar(&list, "list", false, "List sessions instead of hosts")
	cmd.Flags().StringVarP(&outputMode, "output", "o", string(format.ModeTable), "Output format (table or json)")
	cmd.Flags().StringVar(&exportCatalog, "export-catalog", "", "Save hosts with a confirmed skew to this catalog file")
	cmd.Flags().String("database", defaults.Storage.Database, "Snapshot database, relative to the workspace data directory")
	return cmd
}

func findSession(db *store.Store, id string) (store.Session, error) {
	if id == "" {
		return db.LatestSession()
	}
	sessions, err := db.Sessions()
	if err != nil {
		return store.Session{}, err
	}
	for _, s := range sessions {
		if s.ID == id || strings.HasPrefix(s.ID, id) {
			return s, nil
		}
	}
	return store.Session{}, &store.NotFoundError{ResourceType: "session", ResourceID: id}
}

func printSessions(f format.Formatter, db *store.Store) error {
	sessions, err := db.Sessions()
	if err != nil {
		return err
	}
	if f.Mode() == format.ModeJSON {
		views := make([]sessionView, 0, len(sessions))
		for _, s := range sessions {
			views = append(views, sessionView{ID: s.ID, Label: s.Label, Version: s.Version, StartedAt: s.StartedAt})
		}
		return f.PrintJSON(views)
	}

	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{s.ID, s.StartedAt.Local().Format(time.DateTime), s.Label, s.Version})
	}
	return f.PrintTable([]string{"session", "started", "label", "version"}, rows)
}

func printHosts(f format.Formatter, sess store.Session, hosts []store.Host) error {
	views := make([]hostView, 0, len(hosts))
	for _, h := range hosts {
		views = append(views, newHostView(h))
	}

	if f.Mode() == format.ModeJSON {
		return f.PrintJSON(sessionView{
			ID:        sess.ID,
			Label:     sess.Label,
			Version:   sess.Version,
			StartedAt: sess.StartedAt,
			Hosts:     views,
		})
	}

	if err := f.PrintHeading(fmt.Sprintf("Session %s (%s, %s)", sess.ID, sess.Label, sess.StartedAt.Local().Format(time.DateTime))); err != nil {
		return err
	}
	rows := make([][]string, 0, len(views))
	for _, v := range views {
		skew := "-"
		if v.Segments > 0 {
			skew = strconv.FormatFloat(v.Skew, 'f', 6, 64)
		}
		rows = append(rows, []string{
			v.Source,
			v.Key,
			strconv.Itoa(v.Frequency),
			strconv.Itoa(v.SampleCount),
			skew,
			strconv.Itoa(v.Segments),
			strconv.FormatBool(v.Active),
			strings.Join(v.Similar, " "),
		})
	}
	if err := f.PrintTable([]string{"source", "host", "hz", "samples", "skew", "segments", "active", "similar"}, rows); err != nil {
		return err
	}
	return f.PrintSummary(fmt.Sprintf("%d hosts", len(views)))
}

func newHostView(h store.Host) hostView {
	v := hostView{
		Source:      h.Source,
		Key:         h.Key,
		Address:     h.Address,
		Port:        h.Port,
		Frequency:   h.Frequency,
		SampleCount: h.SampleCount,
		Skew:        h.Skew,
		Segments:    len(h.Segments),
		Active:      h.Active,
		LastSeen:    h.LastSeen,
	}
	for _, s := range h.Similar {
		v.Similar = append(v.Similar, s.Name)
	}
	return v
}

// exportHosts adds every host with a confirmed skew to the catalog at path
// and returns how many were written.
func exportHosts(path string, hosts []store.Host) (int, error) {
	cat, err := catalog.Load(path)
	if err != nil {
		return 0, fmt.Errorf("load catalog: %w", err)
	}
	n := 0
	for _, h := range hosts {
		if len(h.Segments) == 0 {
			continue
		}
		cat.Add(catalog.Entry{
			Name:      h.Key,
			Skew:      h.Skew,
			Address:   h.Address,
			Frequency: h.Frequency,
			Date:      h.LastSeen.Format(time.DateOnly),
		})
		n++
	}
	if err := cat.Save(path); err != nil {
		return 0, fmt.Errorf("save catalog: %w", err)
	}
	return n, nil
}
