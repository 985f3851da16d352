// cmd/tools/subscription-report/report.go
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"podpiska-billing/internal/models"
)

type row struct {
	UserID    int64      `json:"userId"`
	Active    bool       `json:"active"`
	ExpiresAt *time.Time `json:"expiresAt"`
	Email     string     `json:"email"`
	CardSaved bool       `json:"cardSaved"`
	Token     string     `json:"token"`
}

func toRows(subs []*models.Subscription) []row {
	rows := make([]row, 0, len(subs))
	for _, sub := range subs {
		rows = append(rows, row{
			UserID:    sub.UserID,
			Active:    sub.AccessActive,
			ExpiresAt: sub.ExpiresAt,
			Email:     sub.Email,
			CardSaved: sub.CanRebill(),
			Token:     sub.TokenState().String(),
		})
	}
	return rows
}

func render(w io.Writer, subs []*models.Subscription, format string, now time.Time) error {
	rows := toRows(subs)

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "table":
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No subscriptions found.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tACTIVE\tEXPIRES\tEMAIL\tCARD")
	active := 0
	for _, r := range rows {
		if r.Active {
			active++
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.UserID, yesNo(r.Active), expiry(r.ExpiresAt, now), dash(r.Email), card(r))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d shown, %d active\n", len(rows), active)
	return err
}

func expiry(t *time.Time, now time.Time) string {
	if t == nil {
		return "-"
	}
	s := t.UTC().Format("2006-01-02 15:04")
	if !t.After(now) {
		s += " (expired)"
	}
	return s
}

func card(r row) string {
	if r.CardSaved {
		return "saved"
	}
	return r.Token
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
