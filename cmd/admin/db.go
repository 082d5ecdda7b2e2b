package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	sinceTick := fs.Uint64("since_tick", 0, "lower tick bound (ticks/audits/actions)")
	limit := fs.Int("limit", 20, "result limit")
	actor := fs.String("actor", "", "actor filter (audits)")
	station := fs.Int("station", 0, "station filter (audits)")
	operator := fs.String("operator", "", "operator filter (actions)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "worlds", *worldID, "index.db")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT tick,world_id,path,digest,seed,stations,vehicles,industries,operators,packets,created_at
			FROM snapshots ORDER BY tick DESC LIMIT ?`, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick       int64  `json:"tick"`
				WorldID    string `json:"world_id"`
				Path       string `json:"path"`
				Digest     string `json:"digest"`
				Seed       int64  `json:"seed"`
				Stations   int    `json:"stations"`
				Vehicles   int    `json:"vehicles"`
				Industries int    `json:"industries"`
				Operators  int    `json:"operators"`
				Packets    int    `json:"packets"`
				CreatedAt  string `json:"created_at"`
			}
			if err := rows.Scan(&r.Tick, &r.WorldID, &r.Path, &r.Digest, &r.Seed,
				&r.Stations, &r.Vehicles, &r.Industries, &r.Operators, &r.Packets, &r.CreatedAt); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		finish(rows)

	case "stats":
		rows, err := db.Query(`SELECT tick,live_packets,station_units,vehicle_units,delivered_units,delivered_income,transfer_credits,truncated_units,balance
			FROM stats ORDER BY tick DESC LIMIT ?`, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick            int64 `json:"tick"`
				LivePackets     int   `json:"live_packets"`
				StationUnits    int64 `json:"station_units"`
				VehicleUnits    int64 `json:"vehicle_units"`
				DeliveredUnits  int64 `json:"delivered_units"`
				DeliveredIncome int64 `json:"delivered_income"`
				TransferCredits int64 `json:"transfer_credits"`
				TruncatedUnits  int64 `json:"truncated_units"`
				Balance         int64 `json:"balance"`
			}
			if err := rows.Scan(&r.Tick, &r.LivePackets, &r.StationUnits, &r.VehicleUnits,
				&r.DeliveredUnits, &r.DeliveredIncome, &r.TransferCredits, &r.TruncatedUnits, &r.Balance); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		finish(rows)

	case "ticks":
		rows, err := db.Query(`SELECT tick,digest,joins,leaves,actions FROM ticks
			WHERE tick >= ? ORDER BY tick DESC LIMIT ?`, int64(*sinceTick), *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick    int64  `json:"tick"`
				Digest  string `json:"digest"`
				Joins   int    `json:"joins"`
				Leaves  int    `json:"leaves"`
				Actions int    `json:"actions"`
			}
			if err := rows.Scan(&r.Tick, &r.Digest, &r.Joins, &r.Leaves, &r.Actions); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		finish(rows)

	case "audits":
		where := []string{"tick >= ?"}
		qargs := []any{int64(*sinceTick)}
		if strings.TrimSpace(*actor) != "" {
			where = append(where, "actor = ?")
			qargs = append(qargs, strings.TrimSpace(*actor))
		}
		if *station > 0 {
			where = append(where, "station = ?")
			qargs = append(qargs, *station)
		}
		qargs = append(qargs, *limit)
		rows, err := db.Query(`SELECT tick,seq,actor,action,station,vehicle,cargo,units,reason FROM audits
			WHERE `+strings.Join(where, " AND ")+` ORDER BY tick DESC, seq DESC LIMIT ?`, qargs...)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var cargo, reason sql.NullString
			var r struct {
				Tick    int64  `json:"tick"`
				Seq     int    `json:"seq"`
				Actor   string `json:"actor"`
				Action  string `json:"action"`
				Station int64  `json:"station"`
				Vehicle int64  `json:"vehicle"`
				Units   int64  `json:"units"`
				Cargo   string `json:"cargo,omitempty"`
				Reason  string `json:"reason,omitempty"`
			}
			if err := rows.Scan(&r.Tick, &r.Seq, &r.Actor, &r.Action, &r.Station, &r.Vehicle, &cargo, &r.Units, &reason); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			r.Cargo = cargo.String
			r.Reason = reason.String
			printJSON(r)
		}
		finish(rows)

	case "actions":
		where := []string{"tick >= ?"}
		qargs := []any{int64(*sinceTick)}
		if strings.TrimSpace(*operator) != "" {
			where = append(where, "operator_id = ?")
			qargs = append(qargs, strings.TrimSpace(*operator))
		}
		qargs = append(qargs, *limit)
		rows, err := db.Query(`SELECT tick,seq,operator_id,act_json FROM actions
			WHERE `+strings.Join(where, " AND ")+` ORDER BY tick DESC, seq DESC LIMIT ?`, qargs...)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick       int64           `json:"tick"`
				Seq        int             `json:"seq"`
				OperatorID string          `json:"operator_id"`
				Act        json.RawMessage `json:"act"`
			}
			var raw string
			if err := rows.Scan(&r.Tick, &r.Seq, &r.OperatorID, &raw); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			r.Act = json.RawMessage(raw)
			printJSON(r)
		}
		finish(rows)

	case "catalogs":
		rows, err := db.Query(`SELECT name,digest,updated_at FROM catalogs ORDER BY name`)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Name      string `json:"name"`
				Digest    string `json:"digest"`
				UpdatedAt string `json:"updated_at"`
			}
			if err := rows.Scan(&r.Name, &r.Digest, &r.UpdatedAt); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		finish(rows)

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data] [-world WORLD|-db PATH] [-since_tick T] [-limit N] snapshots|stats|ticks|audits|actions|catalogs")
		os.Exit(2)
	}
}

func finish(rows *sql.Rows) {
	if err := rows.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "rows:", err)
		os.Exit(1)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
