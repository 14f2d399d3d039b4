// internal/teams/importer.go
package teams

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gitlab-stats/internal/model"
	"gitlab-stats/internal/store"
)

// TimestampLayout is the layout of change timestamps. They carry no zone and are read as UTC.
const TimestampLayout = "2006-01-02T15:04:05"

// MeasureTeamChange is the measure written for every change.
const MeasureTeamChange = "team_change"

// Change records an employee moving from one team to another.
type Change struct {
	EmployeeID string `json:"employee_id"`
	OldTeam    string `json:"old_team"`
	NewTeam    string `json:"new_team"`
	Timestamp  string `json:"timestamp"`
}

// Record converts the change to a metric record.
func (c Change) Record() (model.Record, error) {
	if c.EmployeeID == "" {
		return model.Record{}, errors.New("team change without employee_id")
	}
	at, err := time.ParseInLocation(TimestampLayout, c.Timestamp, time.UTC)
	if err != nil {
		return model.Record{}, fmt.Errorf("invalid timestamp for employee %s: %w", c.EmployeeID, err)
	}
	return model.Record{
		Dimensions: []model.Dimension{
			{Name: "employee_id", Value: c.EmployeeID},
			{Name: "old_team", Value: c.OldTeam},
			{Name: "new_team", Value: c.NewTeam},
		},
		MeasureName:      MeasureTeamChange,
		MeasureValue:     "1",
		MeasureValueType: model.MeasureValueBigint,
		Time:             at,
	}, nil
}

// Decode reads a JSON array of changes.
func Decode(r io.Reader) ([]Change, error) {
	var changes []Change
	if err := json.NewDecoder(r).Decode(&changes); err != nil {
		return nil, fmt.Errorf("failed to decode team changes: %w", err)
	}
	return changes, nil
}

// LoadFile reads the changes stored at path.
func LoadFile(path string) ([]Change, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Importer writes team changes through a Store.
type Importer struct {
	store  store.Store
	logger *slog.Logger
}

func NewImporter(st store.Store, logger *slog.Logger) *Importer {
	return &Importer{store: st, logger: logger}
}

// Import converts every change and writes the records. A malformed change
// fails the import before anything is written.
func (i *Importer) Import(ctx context.Context, target store.Target, changes []Change) (int, error) {
	records := make([]model.Record, 0, len(changes))
	for _, c := range changes {
		r, err := c.Record()
		if err != nil {
			return 0, err
		}
		records = append(records, r)
	}

	if err := i.store.WriteRecords(ctx, target, records); err != nil {
		return 0, err
	}
	i.logger.Info("Wrote team changes", "count", len(records), "target", target.String())
	return len(records), nil
}
