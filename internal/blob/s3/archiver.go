package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/driftlab/marketfeed/internal/domain"
)

// CandleArchiver implements domain.CandleArchiver by writing batches of
// finalized bars as JSON Lines objects.
//
// Object key schema:
//
//	candles/{venue}/{YYYY}/{MM}/{DD}/{unix}-{id}.jsonl
type CandleArchiver struct {
	client *s3.Client
	bucket string
}

// NewCandleArchiver creates a CandleArchiver that writes to the client's
// configured bucket.
func NewCandleArchiver(c *Client) *CandleArchiver {
	return &CandleArchiver{
		client: c.S3(),
		bucket: c.Bucket(),
	}
}

// candleRecord is the serialized form of one archived bar.
type candleRecord struct {
	Venue     string  `json:"venue"`
	Symbol    string  `json:"symbol"`
	Timeframe string  `json:"timeframe"`
	Timestamp int64   `json:"ts"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// ArchiveCandles uploads the given bars as one JSONL object keyed by the
// first bar's venue and the asOf date. Empty batches are a no-op.
func (a *CandleArchiver) ArchiveCandles(ctx context.Context, candles []domain.Candle, asOf time.Time) error {
	if len(candles) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, c := range candles {
		rec := candleRecord{
			Venue:     c.Venue,
			Symbol:    c.Symbol,
			Timeframe: c.Timeframe,
			Timestamp: c.Timestamp.UnixMilli(),
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("s3blob: encode candle: %w", err)
		}
	}

	key := archiveKey(candles[0].Venue, asOf)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", key, err)
	}
	return nil
}

func archiveKey(venue string, asOf time.Time) string {
	asOf = asOf.UTC()
	return fmt.Sprintf("candles/%s/%04d/%02d/%02d/%d-%s.jsonl",
		venue, asOf.Year(), asOf.Month(), asOf.Day(),
		asOf.Unix(), uuid.NewString()[:8],
	)
}

// Compile-time interface check.
var _ domain.CandleArchiver = (*CandleArchiver)(nil)
