package contract

import (
	"fmt"
	"time"
)

// Config parameterizes contract issuance and the expiration schedule.
type Config struct {
	Teams []string
	// SalaryMin and SalaryMax bound the annual salary in minor units, inclusive.
	SalaryMin     int64
	SalaryMax     int64
	DurationYears int
	// WarningWindow is how long before expiration a contract turns ExpiringSoon.
	WarningWindow time.Duration
}

// DefaultConfig returns a league of eight teams with three-year contracts.
func DefaultConfig() Config {
	return Config{
		Teams: []string{
			"Remparts", "Saguenéens", "Voltigeurs", "Tigres",
			"Olympiques", "Huskies", "Foreurs", "Cataractes",
		},
		SalaryMin:     50_000_00,
		SalaryMax:     250_000_00,
		DurationYears: 3,
		WarningWindow: 30 * 24 * time.Hour,
	}
}

// Validate checks that a contract can be drawn from c.
func (c Config) Validate() error {
	if len(c.Teams) == 0 {
		return fmt.Errorf("contract: at least one team required")
	}
	for i, t := range c.Teams {
		if t == "" {
			return fmt.Errorf("contract: team %d has an empty name", i)
		}
	}
	if c.SalaryMin < 0 || c.SalaryMax < c.SalaryMin {
		return fmt.Errorf("contract: invalid salary band [%d, %d]", c.SalaryMin, c.SalaryMax)
	}
	if c.DurationYears <= 0 {
		return fmt.Errorf("contract: duration must be positive, got %d", c.DurationYears)
	}
	if c.WarningWindow < 0 {
		return fmt.Errorf("contract: negative warning window %s", c.WarningWindow)
	}
	return nil
}
