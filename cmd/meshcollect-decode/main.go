// Command meshcollect-decode replays archived raw packets through the
// decode chain. It is a debugging aid: point it at a collector database and
// it prints, for each selected raw_packets row, the normalized result or the
// reason decoding still fails.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite"

	"github.com/meshwatch/meshcollect/internal/canonical"
	"github.com/meshwatch/meshcollect/internal/decode"
	"github.com/meshwatch/meshcollect/internal/mqtt"
)

func main() {
	dbPath := flag.String("db", "meshtastic.db", "path to the collector SQLite database")
	id := flag.Int64("id", 0, "replay only the raw packet with this id")
	limit := flag.Int("limit", 20, "maximum number of rows to replay (most recent first)")
	flag.Parse()

	if err := run(*dbPath, *id, *limit); err != nil {
		fmt.Fprintf(os.Stderr, "meshcollect-decode: %v\n", err)
		os.Exit(1)
	}
}

type rawRow struct {
	id         int64
	topic      string
	payload    []byte
	recordedAt float64
}

func run(dbPath string, id int64, limit int) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", dbPath, err)
	}
	defer db.Close()

	rows, err := selectRows(db, id, limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return errors.New("no matching raw packets")
	}

	decoder := decode.NewMeshDecoder()
	ctx := context.Background()

	for _, row := range rows {
		replay(ctx, decoder, row)
	}
	return nil
}

func selectRows(db *sql.DB, id int64, limit int) ([]rawRow, error) {
	query := `SELECT id, topic, payload, recorded_at FROM raw_packets
	    ORDER BY id DESC LIMIT ?`
	args := []any{limit}
	if id > 0 {
		query = `SELECT id, topic, payload, recorded_at FROM raw_packets WHERE id = ?`
		args = []any{id}
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query raw_packets: %w", err)
	}
	defer rows.Close()

	var out []rawRow
	for rows.Next() {
		var row rawRow
		if err := rows.Scan(&row.id, &row.topic, &row.payload, &row.recordedAt); err != nil {
			return nil, fmt.Errorf("scan raw_packets: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func replay(ctx context.Context, decoder decode.Decoder, row rawRow) {
	recorded := time.Unix(int64(row.recordedAt), 0).UTC()
	fmt.Printf("--- raw packet %d topic=%s recorded=%s bytes=%d\n",
		row.id, row.topic, recorded.Format(time.RFC3339), len(row.payload))

	pkt, err := decoder.Decode(ctx, mqtt.Message{
		Topic:   row.topic,
		Payload: row.payload,
		Time:    recorded,
	})
	if err != nil {
		fmt.Printf("    still undecodable: %v\n", err)
		return
	}

	summary := map[string]any{
		"from":       pkt.From,
		"to":         pkt.To,
		"channel_id": pkt.ChannelID,
		"gateway_id": pkt.GatewayID,
		"text":       pkt.Text,
	}
	if num, ok := canonical.NumericNodeID(pkt.From); ok {
		summary["from_num"] = num
	}
	if pkt.PortNum != nil {
		summary["portnum"] = *pkt.PortNum
	}
	if pkt.Position != nil {
		summary["position"] = pkt.Position
	}
	if pkt.User != nil {
		summary["user"] = pkt.User
	}

	out, err := json.MarshalIndent(summary, "    ", "  ")
	if err != nil {
		fmt.Printf("    decoded (unprintable): %v\n", err)
		return
	}
	fmt.Printf("    %s\n", out)
}
