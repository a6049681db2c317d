package models

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// ClinicConfig is the on-disk clinic configuration: the service catalog and
// weekly hours. Either section may be omitted to keep the defaults.
type ClinicConfig struct {
	Services  []ServiceDef        `json:"services,omitempty"`
	WorkHours map[string]DayHours `json:"work_hours,omitempty"`
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// LoadClinicConfig reads a JSON clinic configuration file and returns the
// catalog and work hours, with defaults filling any omitted section.
func LoadClinicConfig(path string) (ServiceCatalog, WorkHours, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read clinic config %s: %w", path, err)
	}
	var cfg ClinicConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse clinic config %s: %w", path, err)
	}

	catalog := DefaultCatalog()
	if len(cfg.Services) > 0 {
		catalog = ServiceCatalog(cfg.Services)
		for _, s := range catalog {
			if s.Key == "" || s.Title == "" {
				return nil, nil, fmt.Errorf("clinic config %s: service entries need key and title", path)
			}
		}
	}

	hours := DefaultWorkHours()
	if len(cfg.WorkHours) > 0 {
		hours = WorkHours{}
		for name, day := range cfg.WorkHours {
			weekday, ok := weekdayNames[strings.ToLower(name)]
			if !ok {
				return nil, nil, fmt.Errorf("clinic config %s: unknown weekday %q", path, name)
			}
			if _, err := time.Parse("15:04", day.Open); err != nil {
				return nil, nil, fmt.Errorf("clinic config %s: bad open time for %s: %w", path, name, err)
			}
			if _, err := time.Parse("15:04", day.Close); err != nil {
				return nil, nil, fmt.Errorf("clinic config %s: bad close time for %s: %w", path, name, err)
			}
			hours[weekday] = day
		}
	}

	return catalog, hours, nil
}
