// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bootdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/go-lpc/adrv/cpu"
	"github.com/go-lpc/adrv/internal/fakedb"
	"github.com/go-lpc/adrv/trx"
)

func init() {
	drvName = "fakedb"
}

func TestOpen(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open bootdb: %+v", err)
	}
	defer db.Close()
}

func TestNewRecord(t *testing.T) {
	tbl := &cpu.ChecksumTable{
		Firmware:      cpu.Checksum{Build: 1, Run: 0xAAAA},
		DeviceProfile: cpu.Checksum{Build: 2, Run: 0xD0},
		ADCProfile:    cpu.Checksum{Build: 3, Run: 0xAD},
	}

	rec := NewRecord("FT1234", trx.Status{
		Name:      "trx-0",
		State:     cpu.StateImageLoaded | cpu.StateLoaded,
		Version:   "3.1.5.7 (release)",
		Checksums: tbl,
	}, nil)

	if !rec.OK() {
		t.Fatalf("boot record should be OK: %+v", rec)
	}
	if rec.Time.IsZero() {
		t.Fatalf("boot record not timestamped")
	}
	rec.Time = time.Time{}
	want := Record{
		Serial:      "FT1234",
		Version:     "3.1.5.7 (release)",
		State:       uint8(cpu.StateImageLoaded | cpu.StateLoaded),
		FwChecksum:  0xAAAA,
		DevChecksum: 0xD0,
		ADCChecksum: 0xAD,
	}
	if rec != want {
		t.Fatalf("invalid boot record:\ngot= %+v\nwant=%+v", rec, want)
	}

	rec = NewRecord("FT1234", trx.Status{}, fmt.Errorf("no firmware"))
	if rec.OK() || rec.Err != "no firmware" || rec.FwChecksum != 0 {
		t.Fatalf("invalid failed boot record: %+v", rec)
	}
}

func TestRecord(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open bootdb: %+v", err)
	}
	defer db.Close()

	now := time.Date(2020, 10, 19, 12, 0, 0, 0, time.UTC)
	rec := Record{
		Serial:      "FT1234",
		Time:        now,
		Version:     "3.1.5.7 (release)",
		State:       5,
		FwChecksum:  0xAAAA,
		DevChecksum: 0xD0,
		ADCChecksum: 0xAD,
	}

	args, err := fakedb.Exec(context.Background(), func(ctx context.Context) error {
		return db.Record(ctx, rec)
	})
	if err != nil {
		t.Fatalf("could not record boot: %+v", err)
	}

	want := [][]driver.Value{{
		"FT1234", now, "3.1.5.7 (release)", int64(5),
		int64(0xAAAA), int64(0xD0), int64(0xAD),
		"",
	}}
	if !reflect.DeepEqual(args, want) {
		t.Fatalf("invalid insert:\ngot= %v\nwant=%v", args, want)
	}
}

func TestLast(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open bootdb: %+v", err)
	}
	defer db.Close()

	now := time.Date(2020, 10, 19, 12, 0, 0, 0, time.UTC)
	names := []string{
		"datetime", "version", "state",
		"fw_checksum", "dev_checksum", "adc_checksum", "error",
	}

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: names,
		Values: [][]driver.Value{
			{now, "3.1.5.7 (release)", int64(5), int64(0xAAAA), int64(0xD0), int64(0xAD), ""},
		},
	}, func(ctx context.Context) error {
		rec, err := db.Last(ctx, "FT1234")
		if err != nil {
			t.Fatalf("could not retrieve last boot: %+v", err)
		}

		want := Record{
			Serial:      "FT1234",
			Time:        now,
			Version:     "3.1.5.7 (release)",
			State:       5,
			FwChecksum:  0xAAAA,
			DevChecksum: 0xD0,
			ADCChecksum: 0xAD,
		}
		if rec != want {
			t.Fatalf("invalid last boot:\ngot= %+v\nwant=%+v", rec, want)
		}
		return nil
	})

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: names,
	}, func(ctx context.Context) error {
		_, err := db.Last(ctx, "FT0000")
		if !errors.Is(err, sql.ErrNoRows) {
			t.Fatalf("invalid error: got=%v, want=%v", err, sql.ErrNoRows)
		}
		return nil
	})
}
