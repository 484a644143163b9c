package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"lead-status-sync/internal/models"
)

type capturingS3 struct {
	puts []*s3.PutObjectInput
	err  error
}

func (c *capturingS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.puts = append(c.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func testArchiver(client s3API) *S3 {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &S3{
		client: client,
		log:    logrus.NewEntry(log),
		now: func() time.Time {
			return time.Date(2024, 11, 5, 14, 30, 0, 0, time.UTC)
		},
	}
}

func TestStorePartitionsByProviderPartnerDateHour(t *testing.T) {
	client := &capturingS3{}
	a := testArchiver(client)

	raw := models.RawFeeds{
		models.FeedTourActivity: {"p100": []byte("<Prospects/>")},
	}
	if err := a.Store(context.Background(), raw, "archive-bucket", "Yardi", "42", "xml"); err != nil {
		t.Fatalf("store: %v", err)
	}
	if len(client.puts) != 1 {
		t.Fatalf("expected 1 upload, got %d", len(client.puts))
	}
	put := client.puts[0]
	if *put.Bucket != "archive-bucket" {
		t.Fatalf("wrong bucket: %s", *put.Bucket)
	}
	want := "raw/Yardi/partner_id=42/run_date=2024-11-05/hour=14/" +
		models.FeedTourActivity + "/p100_2024110514.xml"
	if *put.Key != want {
		t.Fatalf("key mismatch:\n got %s\nwant %s", *put.Key, want)
	}
	body, _ := io.ReadAll(put.Body)
	if string(body) != "<Prospects/>" {
		t.Fatalf("xml payload must be stored verbatim, got %q", body)
	}
}

func TestStoreGzipsJSONPayloads(t *testing.T) {
	client := &capturingS3{}
	a := testArchiver(client)

	raw := models.RawFeeds{
		models.FeedMoveIn: {"p100": []byte(`{"residents":[]}`)},
	}
	if err := a.Store(context.Background(), raw, "b", "Yardi", "42", "json"); err != nil {
		t.Fatalf("store: %v", err)
	}
	put := client.puts[0]
	if !bytes.HasSuffix([]byte(*put.Key), []byte(".json.gz")) {
		t.Fatalf("json keys must end with .json.gz: %s", *put.Key)
	}
	zr, err := gzip.NewReader(put.Body)
	if err != nil {
		t.Fatalf("body is not gzip: %v", err)
	}
	decoded, _ := io.ReadAll(zr)
	if string(decoded) != `{"residents":[]}` {
		t.Fatalf("unexpected decompressed payload: %q", decoded)
	}
}

func TestStoreRejectsUnknownFileType(t *testing.T) {
	a := testArchiver(&capturingS3{})
	err := a.Store(context.Background(), models.RawFeeds{}, "b", "Yardi", "42", "csv")
	if err == nil {
		t.Fatalf("expected error for unsupported file type")
	}
}
