package contract

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/lwidev/therockqc/internal/model"
)

const noticeDate = "January 2, 2006"

var printer = message.NewPrinter(language.English)

// FormatSalary renders minor units as dollars with digit grouping,
// e.g. 15000000 -> "$150,000.00".
func FormatSalary(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return sign + "$" + printer.Sprintf("%d", minor/100) + fmt.Sprintf(".%02d", minor%100)
}

func years(n int) string {
	if n == 1 {
		return "1 year"
	}
	return fmt.Sprintf("%d years", n)
}

// EntryNotice is the welcome message for a freshly issued entry contract.
func EntryNotice(c model.Contract) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Welcome to the league! You signed a %d-year entry contract with the %s.\n", c.DurationYears, c.Team)
	fmt.Fprintf(&b, "Salary: %s per season\n", FormatSalary(c.Salary))
	fmt.Fprintf(&b, "Start: %s\n", c.StartDate.Format(noticeDate))
	fmt.Fprintf(&b, "Expires: %s", c.ExpiresAt.Format(noticeDate))
	return b.String()
}

// ExpiringNotice warns that c expires soon.
func ExpiringNotice(c model.Contract, now time.Time) string {
	days := int(c.ExpiresAt.Sub(now).Hours()+23) / 24
	unit := "days"
	if days == 1 {
		unit = "day"
	}
	return fmt.Sprintf("Your contract with the %s expires on %s (in %d %s). Ask staff about a renewal.",
		c.Team, c.ExpiresAt.Format(noticeDate), days, unit)
}

// ExpiredNotice announces that c ran out.
func ExpiredNotice(c model.Contract) string {
	return fmt.Sprintf("Your contract with the %s expired on %s. You are now a free agent.",
		c.Team, c.ExpiresAt.Format(noticeDate))
}

// RenewedNotice announces the contract that replaced prev.
func RenewedNotice(prev, next model.Contract) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your contract with the %s was renewed for %s.\n", next.Team, years(next.DurationYears))
	fmt.Fprintf(&b, "New salary: %s per season (was %s)\n", FormatSalary(next.Salary), FormatSalary(prev.Salary))
	fmt.Fprintf(&b, "Expires: %s", next.ExpiresAt.Format(noticeDate))
	return b.String()
}
