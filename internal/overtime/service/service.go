package service

import (
	"time"

	"github.com/timeflow/timeflow-backend/pkg/logger"
)

// Deps wires the overtime engine to its stores and collaborators.
type Deps struct {
	Tx         Transactor
	Overtime   OvertimeStore
	Recovery   RecoveryStore
	Employees  EmployeeDirectory
	Policies   PolicySource
	Attendance AttendanceSource
	Holidays   HolidaySource
	Absences   AbsenceSource
	Tenants    TenantLister
	Events     EventPublisher
	Logger     *logger.Logger

	// Location is the zone calendar dates and night windows are read in.
	// Defaults to UTC.
	Location *time.Location
	// Now defaults to time.Now.
	Now func() time.Time
}

type clock struct {
	loc *time.Location
	now func() time.Time
}

func newClock(d Deps) clock {
	c := clock{loc: d.Location, now: d.Now}
	if c.loc == nil {
		c.loc = time.UTC
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// today returns the current calendar date in the configured zone.
func (c clock) today() time.Time {
	return civilDate(c.now(), c.loc)
}

func componentLogger(log *logger.Logger, component string) *logger.Logger {
	if log == nil {
		log = logger.Nop()
	}
	return log.WithComponent(component)
}
