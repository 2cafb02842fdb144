// Package export writes cycle history extracts to S3 and hands back a
// presigned download link.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/appliancemon/appliance-monitor/internal/domain"
)

// Format selects the export encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// urlTTL is how long the presigned download link stays valid.
const urlTTL = 1 * time.Hour

// Exporter uploads history extracts to one S3 bucket.
type Exporter struct {
	svc     *s3.Client
	presign *s3.PresignClient
	bucket  string
	now     func() time.Time
}

// New builds an exporter against the given region and bucket.
func New(ctx context.Context, region, bucket string) (*Exporter, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	svc := s3.NewFromConfig(cfg)
	return &Exporter{
		svc:     svc,
		presign: s3.NewPresignClient(svc),
		bucket:  bucket,
		now:     time.Now,
	}, nil
}

// Export encodes the entries, uploads them under the appliance's prefix and
// returns a presigned download URL.
func (e *Exporter) Export(ctx context.Context, applianceID string, format Format, entries []domain.CycleFinishedPayload) (string, error) {
	data, contentType, err := encode(format, entries)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("exports/%s/%s.%s", applianceID, e.now().UTC().Format("20060102T150405Z"), format)
	_, err = e.svc.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload export: %w", err)
	}

	signed, err := e.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = urlTTL
	})
	if err != nil {
		return "", fmt.Errorf("presign export url: %w", err)
	}
	return signed.URL, nil
}

func encode(format Format, entries []domain.CycleFinishedPayload) ([]byte, string, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("encode export: %w", err)
		}
		return data, "application/json", nil
	case FormatCSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		header := []string{"start_time", "end_time", "duration_min", "energy_kwh", "cost", "peak_power_w", "imported"}
		if err := w.Write(header); err != nil {
			return nil, "", fmt.Errorf("encode export: %w", err)
		}
		for _, c := range entries {
			row := []string{
				c.StartTime,
				c.EndTime,
				strconv.FormatFloat(c.Duration, 'f', 2, 64),
				strconv.FormatFloat(c.Energy, 'f', 3, 64),
				strconv.FormatFloat(c.Cost, 'f', 2, 64),
				strconv.FormatFloat(c.PeakPower, 'f', 1, 64),
				strconv.FormatBool(c.Imported),
			}
			if err := w.Write(row); err != nil {
				return nil, "", fmt.Errorf("encode export: %w", err)
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, "", fmt.Errorf("encode export: %w", err)
		}
		return buf.Bytes(), "text/csv", nil
	default:
		return nil, "", fmt.Errorf("unknown export format %q", format)
	}
}
