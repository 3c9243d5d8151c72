// Package render formats snapshots, visits, users and checkpoints for the
// terminal as aligned tables or line-delimited JSON.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/geowatch/internal/reconcile"
	"github.com/dyluth/geowatch/pkg/tracking"
)

// Output formats accepted by the CLI.
const (
	FormatDefault = "default"
	FormatJSON    = "json"
)

// snapshotLine is the JSONL shape of a snapshot; the error is flattened to text.
type snapshotLine struct {
	reconcile.Snapshot
	Error string `json:"error,omitempty"`
}

// FormatSnapshot writes a snapshot as a status line plus checkpoint and
// location tables.
func FormatSnapshot(w io.Writer, snap reconcile.Snapshot, now time.Time) {
	names := userNames(snap.Users)

	fmt.Fprintf(w, "Cycle #%d at %s", snap.Seq, now.Format("15:04:05"))
	if snap.Range != nil {
		fmt.Fprintf(w, "  [%s .. %s]", snap.Range.From.Format(time.RFC3339), snap.Range.To.Format(time.RFC3339))
	}
	fmt.Fprintln(w)

	switch {
	case snap.Loading:
		fmt.Fprintln(w, "Loading...")
		return
	case snap.Err != nil:
		fmt.Fprintf(w, "⚠️  refresh failed, showing previous data: %v\n", snap.Err)
	}

	if snap.Fit != nil {
		fmt.Fprintf(w, "Map fitted to %.5f,%.5f zoom %d\n", snap.Fit.Viewport.Lat, snap.Fit.Viewport.Lng, snap.Fit.Viewport.Zoom)
	}

	if snap.Empty() {
		fmt.Fprintln(w, "No checkpoints or locations to show")
		return
	}

	fmt.Fprintln(w)
	FormatCheckpoints(w, snap.Checkpoints)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-8s %-20s %-11s %-11s %s\n", "ID", "USER", "LAT", "LON", "SEEN")
	fmt.Fprintf(w, "%-8s %-20s %-11s %-11s %s\n", "--------", "--------------------", "-----------", "-----------", "--------")
	for _, l := range snap.Locations {
		fmt.Fprintf(w, "%-8d %-20s %-11.6f %-11.6f %s\n",
			l.ID,
			truncate(userLabel(names, l.UserID), 20),
			l.Lat,
			l.Lon,
			formatAge(l.UpdatedAt, now),
		)
	}

	fmt.Fprintf(w, "\n%d of %d %s shown, %d active %s\n",
		len(snap.Locations), snap.TotalLocations, plural(snap.TotalLocations, "location", "locations"),
		snap.ActiveVisits, plural(snap.ActiveVisits, "visit", "visits"))
}

// FormatSnapshotJSONL writes a snapshot as one JSON object on one line.
func FormatSnapshotJSONL(w io.Writer, snap reconcile.Snapshot) error {
	line := snapshotLine{Snapshot: snap}
	if snap.Err != nil {
		line.Error = snap.Err.Error()
	}
	return writeLine(w, line)
}

// FormatCheckpoints writes checkpoints as a table.
func FormatCheckpoints(w io.Writer, checkpoints []tracking.Checkpoint) int {
	if len(checkpoints) == 0 {
		fmt.Fprintln(w, "No checkpoints defined")
		return 0
	}
	fmt.Fprintf(w, "%-6s %-24s %-11s %-11s %s\n", "ID", "CHECKPOINT", "LAT", "LON", "RADIUS")
	fmt.Fprintf(w, "%-6s %-24s %-11s %-11s %s\n", "------", "------------------------", "-----------", "-----------", "------")
	for _, cp := range checkpoints {
		fmt.Fprintf(w, "%-6d %-24s %-11.6f %-11.6f %.0fm\n", cp.ID, truncate(cp.Name, 24), cp.Lat, cp.Lon, cp.RadiusMeters)
	}
	return len(checkpoints)
}

// FormatVisits writes visits as a table. users and checkpoints resolve IDs
// to names when available.
func FormatVisits(w io.Writer, visits []tracking.Visit, users []tracking.Identity, checkpoints []tracking.Checkpoint, now time.Time) int {
	if len(visits) == 0 {
		fmt.Fprintln(w, "No visits found")
		return 0
	}

	names := userNames(users)
	places := make(map[int64]string, len(checkpoints))
	for _, cp := range checkpoints {
		places[cp.ID] = cp.Name
	}

	fmt.Fprintf(w, "%-8s %-20s %-20s %-20s %-10s %s\n", "ID", "USER", "CHECKPOINT", "START", "DURATION", "STATUS")
	fmt.Fprintf(w, "%-8s %-20s %-20s %-20s %-10s %s\n", "--------", "--------------------", "--------------------", "--------------------", "----------", "------")
	for _, v := range visits {
		place := places[v.CheckpointID]
		if place == "" {
			place = fmt.Sprintf("#%d", v.CheckpointID)
		}
		status := "closed"
		duration := "-"
		if v.Active() {
			status = "active"
			duration = formatDuration(int64(now.Sub(v.StartAt).Seconds())) + "+"
		} else if v.DurationSeconds != nil {
			duration = formatDuration(*v.DurationSeconds)
		}
		fmt.Fprintf(w, "%-8d %-20s %-20s %-20s %-10s %s\n",
			v.ID,
			truncate(userLabel(names, v.UserID), 20),
			truncate(place, 20),
			v.StartAt.Local().Format("2006-01-02 15:04:05"),
			duration,
			status,
		)
	}

	fmt.Fprintf(w, "\n%d %s found\n", len(visits), plural(len(visits), "visit", "visits"))
	return len(visits)
}

// FormatUsers writes the roster as a table.
func FormatUsers(w io.Writer, users []tracking.Identity) int {
	if len(users) == 0 {
		fmt.Fprintln(w, "No users found")
		return 0
	}
	fmt.Fprintf(w, "%-6s %-24s %-6s %s\n", "ID", "NAME", "ADMIN", "CREATED")
	fmt.Fprintf(w, "%-6s %-24s %-6s %s\n", "------", "------------------------", "------", "----------")
	for _, u := range users {
		admin := "-"
		if u.IsAdmin {
			admin = "yes"
		}
		fmt.Fprintf(w, "%-6d %-24s %-6s %s\n", u.ID, truncate(u.Name, 24), admin, u.CreatedAt.Local().Format("2006-01-02"))
	}
	return len(users)
}

// FormatJSONL writes each item as a single JSON line.
func FormatJSONL[T any](w io.Writer, items []T) error {
	for _, item := range items {
		if err := writeLine(w, item); err != nil {
			return err
		}
	}
	return nil
}

// FormatSingleJSON writes v as pretty-printed JSON.
func FormatSingleJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal to JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

func writeLine(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal to JSON: %w", err)
	}
	if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
		return fmt.Errorf("failed to write JSONL output: %w", err)
	}
	return nil
}
