package service_test

import (
	"testing"
	"time"

	"github.com/timeflow/timeflow-backend/internal/overtime/repository"
	"github.com/timeflow/timeflow-backend/internal/overtime/service"
	"github.com/timeflow/timeflow-backend/pkg/config"
	"github.com/stretchr/testify/assert"
)

func at(hour, minute int) time.Time {
	return time.Date(2024, 3, 15, hour, minute, 0, 0, time.UTC)
}

func TestIsInNightWindow(t *testing.T) {
	start, end := config.Clock{Hour: 21}, config.Clock{Hour: 6}

	tests := []struct {
		name  string
		t     time.Time
		night bool
	}{
		{"late evening", at(23, 30), true},
		{"after midnight", at(2, 0), true},
		{"window opens", at(21, 0), true},
		{"window closes", at(6, 0), true},
		{"just after close", at(6, 1), false},
		{"noon", at(12, 0), false},
		{"just before open", at(20, 59), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.night, service.IsInNightWindow(tt.t, start, end))
		})
	}

	t.Run("window within one day", func(t *testing.T) {
		s, e := config.Clock{Hour: 1}, config.Clock{Hour: 5}
		assert.True(t, service.IsInNightWindow(at(3, 0), s, e))
		assert.False(t, service.IsInNightWindow(at(23, 0), s, e))
	})
}

func TestClassify(t *testing.T) {
	policy := repository.DefaultOvertimePolicy()
	day := date(2024, 3, 15)

	t.Run("day span is standard", func(t *testing.T) {
		c := service.Classify(day, at(16, 0), at(18, 30), policy, nil)
		assert.Equal(t, repository.OvertimeTypeStandard, c.Type)
		assert.True(t, c.Rate.Equal(dec("1.25")))
	})

	t.Run("span ending at night", func(t *testing.T) {
		c := service.Classify(day, at(20, 30), at(23, 0), policy, nil)
		assert.Equal(t, repository.OvertimeTypeNight, c.Type)
		assert.True(t, c.Rate.Equal(dec("1.5")))
	})

	t.Run("start used when end is unknown", func(t *testing.T) {
		c := service.Classify(day, at(22, 0), time.Time{}, policy, nil)
		assert.Equal(t, repository.OvertimeTypeNight, c.Type)
	})

	t.Run("holiday wins over night", func(t *testing.T) {
		c := service.Classify(day, at(20, 0), at(23, 0), policy, repository.NewHolidaySet(day))
		assert.Equal(t, repository.OvertimeTypeHoliday, c.Type)
		assert.True(t, c.Rate.Equal(policy.HolidayRate))
	})

	t.Run("auto detection off", func(t *testing.T) {
		p := policy
		p.AutoDetectType = false
		c := service.Classify(day, at(20, 0), at(23, 0), p, repository.NewHolidaySet(day))
		assert.Equal(t, repository.OvertimeTypeStandard, c.Type)
	})

	t.Run("no majoration", func(t *testing.T) {
		p := policy
		p.MajorationEnabled = false
		c := service.Classify(day, at(20, 0), at(23, 0), p, nil)
		assert.Equal(t, repository.OvertimeTypeNight, c.Type)
		assert.True(t, c.Rate.Equal(dec("1")))
	})
}
