package push

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	influxhttp "github.com/influxdata/influxdb-client-go/v2/api/http"
)

// InfluxDBSink writes line protocol records into an InfluxDB v2 bucket.
type InfluxDBSink struct {
	client influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

func NewInfluxDBSink(url, org, bucket, token string, timeout time.Duration) *InfluxDBSink {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	// the client takes whole seconds
	seconds := uint(math.Ceil(timeout.Seconds()))

	client := influxdb2.NewClientWithOptions(
		url,
		token,
		influxdb2.DefaultOptions().SetHTTPRequestTimeout(seconds),
	)

	return &InfluxDBSink{
		client: client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
	}
}

func (s *InfluxDBSink) Name() string {
	return "influxdb"
}

func (s *InfluxDBSink) Template() Template {
	return TemplateInfluxDB
}

func (s *InfluxDBSink) Send(ctx context.Context, payload string) Result {
	var lines []string

	for _, line := range strings.Split(payload, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}

	if err := s.writeAPI.WriteRecord(ctx, lines...); err != nil {
		var herr *influxhttp.Error

		if errors.As(err, &herr) {
			return Result{Code: herr.StatusCode, Err: err}
		}

		return Result{Err: err}
	}

	return Result{Code: http.StatusNoContent, Success: true}
}

func (s *InfluxDBSink) Close() {
	s.client.Close()
}
