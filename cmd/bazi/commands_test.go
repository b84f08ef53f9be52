package main

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lunar-bazi/backend/internal/bazi"
	"lunar-bazi/backend/internal/store"
)

func TestParseInput(t *testing.T) {
	now := time.Date(2025, 3, 7, 14, 5, 0, 0, time.UTC)

	in, err := parseInput("", "", "", now)
	require.NoError(t, err)
	assert.Equal(t, bazi.DefaultInput(now), in)

	in, err = parseInput("1990-01-20", "23:45", "lunar", now)
	require.NoError(t, err)
	assert.Equal(t, bazi.DateTimeInput{Year: 1990, Month: 1, Day: 20, Hour: 23, Minute: 45, YearBoundary: bazi.BoundaryLunar}, in)

	_, err = parseInput("1990/01/20", "", "", now)
	assert.ErrorIs(t, err, bazi.ErrInvalidInput)

	_, err = parseInput("2023-02-29", "", "", now)
	assert.ErrorIs(t, err, bazi.ErrInvalidInput)

	_, err = parseInput("", "25:00", "", now)
	assert.ErrorIs(t, err, bazi.ErrInvalidInput)

	_, err = parseInput("", "", "western", now)
	assert.ErrorIs(t, err, bazi.ErrInvalidInput)

	for _, date := range []string{"2024-02-10abc", "2024-2-10", "2024-02-30"} {
		_, err = parseInput(date, "", "", now)
		assert.ErrorIs(t, err, bazi.ErrInvalidInput, date)
	}
	for _, clock := range []string{"08:30pm", "0830", "08:60"} {
		_, err = parseInput("", clock, "", now)
		assert.ErrorIs(t, err, bazi.ErrInvalidInput, clock)
	}
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	input := bazi.DateTimeInput{Year: 2024, Month: 2, Day: 10, Hour: 8, Minute: 5, YearBoundary: bazi.BoundaryLunar}
	result := bazi.Result{
		YearPillar:   bazi.Pillar{Stem: "甲", Branch: "辰"},
		MonthPillar:  bazi.Pillar{Stem: "丙", Branch: "寅"},
		DayPillar:    bazi.Pillar{Stem: "甲", Branch: "子"},
		HourPillar:   bazi.Pillar{Stem: "戊", Branch: "辰"},
		Zodiac:       "龍",
		FiveElements: []string{"木", "火"},
	}
	require.NoError(t, printResult(&buf, input, result))
	out := buf.String()
	assert.Contains(t, out, "2024年2月10日 08:05")
	assert.Contains(t, out, "甲辰 丙寅 甲子 戊辰")
	assert.Contains(t, out, "木、火")
	assert.Contains(t, out, "農曆正月初一")
}

func TestHistoryCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "bazi.db")
	db, err := store.Open(dbPath, true)
	require.NoError(t, err)
	row, err := store.NewConversion(
		bazi.DateTimeInput{Year: 2024, Month: 2, Day: 10, Hour: 8, Minute: 30, YearBoundary: bazi.BoundarySolar},
		bazi.Result{YearPillar: bazi.Pillar{Stem: "甲", Branch: "辰"}, Zodiac: "龍"},
	)
	require.NoError(t, err)
	row.Provider = "fake"
	require.NoError(t, db.SaveConversion(row))
	require.NoError(t, db.Close())

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"history", "--db", dbPath, "--env-file", filepath.Join(t.TempDir(), "none.env")})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "2024-02-10T08:30/solar")
	assert.Contains(t, out.String(), "1 of 1 conversions")

	out.Reset()
	cmd = newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"history", "--clear", "--db", dbPath, "--env-file", filepath.Join(t.TempDir(), "none.env")})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "removed 1 conversions")

	db, err = store.Open(dbPath, true)
	require.NoError(t, err)
	defer db.Close()
	count, err := db.CountConversions()
	require.NoError(t, err)
	assert.Zero(t, count)
}
