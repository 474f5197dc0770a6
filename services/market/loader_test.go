package market

import (
	"math"
	"strings"
	"testing"
	"time"
)

const sampleCSV = `timestamp,open,high,low,close,volume,rsi,line_wma
1700000000000,100,105,95,102,10,55,101
1700003600000,102,108,101,107,12,60,102
1700007200000,107,109,103,104,9,48,103
`

func TestReadCSVParsesRows(t *testing.T) {
	s, err := ReadCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 3 {
		t.Fatalf("expected 3 rows, got %d", s.Len())
	}
	if s[0].Close != 102 || s[0].RSI != 55 || s[0].LineWMA != 101 {
		t.Fatalf("row 0 misparsed: %+v", s[0])
	}
	if !s[0].Time.Equal(time.UnixMilli(1700000000000).UTC()) {
		t.Fatalf("timestamp misparsed: %v", s[0].Time)
	}
	// Columns absent from the header stay NaN.
	if !math.IsNaN(s[0].ADX) || !math.IsNaN(s[0].BaseScore) {
		t.Fatalf("absent columns should be NaN: adx=%v base=%v", s[0].ADX, s[0].BaseScore)
	}
}

func TestReadCSVSortsAndDeduplicates(t *testing.T) {
	csv := `timestamp,open,high,low,close
1700007200000,107,109,103,104
1700000000000,100,105,95,102
1700007200000,107,110,103,108
`
	s, err := ReadCSV(strings.NewReader(csv))
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 2 {
		t.Fatalf("duplicate timestamp not collapsed: %d rows", s.Len())
	}
	if !s[0].Time.Before(s[1].Time) {
		t.Fatal("rows not sorted by timestamp")
	}
	// Last occurrence wins.
	if s[1].Close != 108 {
		t.Fatalf("dedup kept wrong row: close=%v", s[1].Close)
	}
}

func TestReadCSVMissingRequiredColumn(t *testing.T) {
	csv := "timestamp,open,high,low\n1700000000000,1,2,0.5\n"
	if _, err := ReadCSV(strings.NewReader(csv)); err == nil {
		t.Fatal("expected error for missing close column")
	}
}

func TestReadCSVRejectsBrokenBars(t *testing.T) {
	csv := "timestamp,open,high,low,close\n1700000000000,100,90,95,102\n"
	if _, err := ReadCSV(strings.NewReader(csv)); err == nil {
		t.Fatal("expected validation error for high < low")
	}
}

func TestReadCSVBlankIndicatorBecomesNaN(t *testing.T) {
	csv := "timestamp,open,high,low,close,rsi\n1700000000000,100,105,95,102,\n"
	s, err := ReadCSV(strings.NewReader(csv))
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(s[0].RSI) {
		t.Fatalf("blank cell should parse as NaN, got %v", s[0].RSI)
	}
}

func TestParseTimestampForms(t *testing.T) {
	ms, err := parseTimestamp("1700000000000")
	if err != nil {
		t.Fatal(err)
	}
	sec, err := parseTimestamp("1700000000")
	if err != nil {
		t.Fatal(err)
	}
	if !ms.Equal(sec) {
		t.Fatalf("ms and seconds forms disagree: %v vs %v", ms, sec)
	}
	if _, err := parseTimestamp("2023-11-14T22:13:20Z"); err != nil {
		t.Fatal(err)
	}
	if _, err := parseTimestamp("not-a-time"); err == nil {
		t.Fatal("expected error for junk timestamp")
	}
}
