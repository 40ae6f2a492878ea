// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bootdb stores the outcome of transceiver boots in a MySQL
// database.
package bootdb // import "github.com/go-lpc/adrv/bootdb"

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/go-lpc/adrv/trx"
)

const (
	host = "localhost"
)

var (
	usr = "username"
	pwd = "s3cr3t"

	drvName = "mysql"
)

// DB records boots of transceivers.
type DB struct {
	db   *sql.DB
	name string
}

// Record is the outcome of the boot of a transceiver.
type Record struct {
	Serial  string    // transceiver (or bridge) serial number
	Time    time.Time // boot completion time
	Version string    // firmware version of core C, if booted
	State   uint8     // load state of the cores

	FwChecksum  uint32 // run-time checksums
	DevChecksum uint32
	ADCChecksum uint32

	Err string // boot error, empty on success
}

// OK reports whether the boot succeeded.
func (rec Record) OK() bool { return rec.Err == "" }

// NewRecord returns the record of a boot ending with status st and error err.
func NewRecord(serial string, st trx.Status, err error) Record {
	rec := Record{
		Serial:  serial,
		Time:    time.Now().UTC(),
		Version: st.Version,
		State:   uint8(st.State),
	}
	if tbl := st.Checksums; tbl != nil {
		rec.FwChecksum = tbl.Firmware.Run
		rec.DevChecksum = tbl.DeviceProfile.Run
		rec.ADCChecksum = tbl.ADCProfile.Run
	}
	if err != nil {
		rec.Err = err.Error()
	}
	return rec
}

// Open opens a connection to the boot records database dbname.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("bootdb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(db string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true", usr, pwd, host, db)
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("bootdb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// Record inserts rec into the boots table.
func (db *DB) Record(ctx context.Context, rec Record) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := db.db.ExecContext(
		ctx,
		`INSERT INTO boots
		(serial, datetime, version, state, fw_checksum, dev_checksum, adc_checksum, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Serial, rec.Time, rec.Version, rec.State,
		rec.FwChecksum, rec.DevChecksum, rec.ADCChecksum,
		rec.Err,
	)
	if err != nil {
		return fmt.Errorf("bootdb: could not record boot of %q: %w", rec.Serial, err)
	}
	return nil
}

// Last returns the most recent boot record of the transceiver serial.
func (db *DB) Last(ctx context.Context, serial string) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rec := Record{Serial: serial}
	rows, err := db.db.QueryContext(
		ctx,
		`SELECT datetime, version, state, fw_checksum, dev_checksum, adc_checksum, error
		FROM boots WHERE serial=? ORDER BY datetime DESC LIMIT 1`,
		serial,
	)
	if err != nil {
		return rec, fmt.Errorf("bootdb: could not query boots of %q: %w", serial, err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		err = rows.Scan(
			&rec.Time, &rec.Version, &rec.State,
			&rec.FwChecksum, &rec.DevChecksum, &rec.ADCChecksum,
			&rec.Err,
		)
		if err != nil {
			return rec, fmt.Errorf("bootdb: could not get boot record of %q: %w", serial, err)
		}
		n++
	}

	if err := rows.Err(); err != nil {
		return rec, fmt.Errorf("bootdb: could not scan db for boots of %q: %w", serial, err)
	}

	if err := ctx.Err(); err != nil {
		return rec, fmt.Errorf("bootdb: context error while retrieving boots of %q: %w", serial, err)
	}

	if n == 0 {
		return rec, fmt.Errorf("bootdb: no boot recorded for %q: %w", serial, sql.ErrNoRows)
	}

	return rec, nil
}
