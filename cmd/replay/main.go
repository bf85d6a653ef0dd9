// Command replay reads NOAA SPC storm report CSVs and turns them into storm
// event feed messages. It can write the messages as a JSON fixture and/or
// publish them to the source topic so a local monitor run sees a real day of
// reports.
//
// Usage:
//
//	go run ./cmd/replay \
//	  -csv-dir ../storm-data-system/mock-server/data \
//	  -date 2024-04-26 \
//	  -out internal/pipeline/testdata/replay.json \
//	  -publish
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/storm-impact-alerts/internal/config"
	"github.com/couchcryptid/storm-impact-alerts/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

type csvDef struct {
	suffix    string
	eventType string
	magCol    string // column name for magnitude (Size, F_Scale, Speed)
	feedKey   string
}

var defs = []csvDef{
	{suffix: "_rpts_hail.csv", eventType: "hail", magCol: "Size", feedKey: "hailSizeInches"},
	{suffix: "_rpts_torn.csv", eventType: "tornado", magCol: "F_Scale", feedKey: "tornadoRating"},
	{suffix: "_rpts_wind.csv", eventType: "wind", magCol: "Speed", feedKey: "windSpeedMph"},
}

// feedMessage is one publishable event in the flat ingestion shape.
type feedMessage struct {
	Key     string            `json:"key"`
	Payload map[string]string `json:"payload"`
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	csvDir := flag.String("csv-dir", "", "directory containing NOAA SPC CSV files")
	dateFlag := flag.String("date", "", "report date (YYYY-MM-DD); files are named YYMMDD_rpts_*.csv")
	out := flag.String("out", "", "optional output path for a JSON fixture")
	publish := flag.Bool("publish", false, "publish to KAFKA_SOURCE_TOPIC on KAFKA_BROKERS")
	flag.Parse()

	if *csvDir == "" || *dateFlag == "" {
		flag.Usage()
		return errors.New("missing required flags: -csv-dir, -date")
	}
	if *out == "" && !*publish {
		return errors.New("nothing to do: pass -out and/or -publish")
	}
	baseDate, err := time.Parse(time.DateOnly, *dateFlag)
	if err != nil {
		return fmt.Errorf("parse -date: %w", err)
	}

	var msgs []feedMessage //nolint:prealloc // size depends on CSV file contents
	for _, d := range defs {
		path := filepath.Join(*csvDir, baseDate.Format("060102")+d.suffix)
		batch, err := processCSV(path, d, baseDate)
		if err != nil {
			return fmt.Errorf("processing %s: %w", filepath.Base(path), err)
		}
		msgs = append(msgs, batch...)
		log.Printf("%s: %d reports", d.eventType, len(batch))
	}
	log.Printf("total: %d reports", len(msgs))

	if *out != "" {
		if err := writeJSON(*out, msgs); err != nil {
			return fmt.Errorf("writing fixture: %w", err)
		}
		log.Printf("wrote fixture: %s", *out)
	}

	if *publish {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := publishAll(context.Background(), cfg, msgs); err != nil {
			return err
		}
		log.Printf("published %d events to %s", len(msgs), cfg.KafkaSourceTopic)
	}
	return nil
}

func processCSV(path string, d csvDef, baseDate time.Time) ([]feedMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(rows) < 2 {
		return nil, errors.New("no data rows")
	}

	colIdx := map[string]int{}
	for i, h := range rows[0] {
		colIdx[h] = i
	}

	var msgs []feedMessage
	for i, row := range rows[1:] {
		id := fmt.Sprintf("spc-%s-%s-%d", baseDate.Format("060102"), d.eventType, i+1)
		payload := map[string]string{
			"sourceEventId": id,
			"eventType":     d.eventType,
			"latitude":      get(row, colIdx, "Lat"),
			"longitude":     get(row, colIdx, "Lon"),
			"stormDate":     reportTime(baseDate, get(row, colIdx, "Time")).Format(time.RFC3339),
			d.feedKey:       get(row, colIdx, d.magCol),
		}

		// Skip rows the monitor would reject anyway.
		value, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal row %d: %w", i+1, err)
		}
		if _, err := domain.ParseRawEvent(domain.RawEvent{Value: value, Timestamp: baseDate}); err != nil {
			log.Printf("skipping %s: %v", id, err)
			continue
		}
		msgs = append(msgs, feedMessage{Key: id, Payload: payload})
	}
	return msgs, nil
}

func publishAll(ctx context.Context, cfg *config.Config, msgs []feedMessage) error {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaSourceTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	defer w.Close()

	batch := make([]kafkago.Message, 0, len(msgs))
	for _, m := range msgs {
		value, err := json.Marshal(m.Payload)
		if err != nil {
			return err
		}
		batch = append(batch, kafkago.Message{Key: []byte(m.Key), Value: value})
	}
	if err := w.WriteMessages(ctx, batch...); err != nil {
		return fmt.Errorf("publish %d events: %w", len(batch), err)
	}
	return nil
}

// reportTime combines the report date with an SPC HHMM time column.
// SPC days run 12Z to 12Z, so times before 1200 belong to the next day.
func reportTime(baseDate time.Time, hhmm string) time.Time {
	if len(hhmm) == 3 {
		hhmm = "0" + hhmm
	}
	t, err := time.Parse("1504", hhmm)
	if err != nil {
		return baseDate
	}
	at := time.Date(baseDate.Year(), baseDate.Month(), baseDate.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)
	if t.Hour() < 12 {
		at = at.AddDate(0, 0, 1)
	}
	return at
}

func get(row []string, idx map[string]int, col string) string {
	i, ok := idx[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}
