package export

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"pelias_geocoder/internal/adapters/storage"
	"pelias_geocoder/internal/geocode/mapper"

	"github.com/google/uuid"
)

type collection struct {
	Type   string `json:"type"`
	Name   string `json:"name"`
	Fields []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"fields"`
	Features []struct {
		Type     string `json:"type"`
		Geometry *struct {
			Type        string     `json:"type"`
			Coordinates [2]float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties map[string]any `json:"properties"`
	} `json:"features"`
}

func TestWriteCollection(t *testing.T) {
	schema := mapper.New(mapper.Field{Name: "id"}, false).Fields()
	features := []mapper.Feature{
		{Geometry: &mapper.Point{Lon: 13.4, Lat: 52.5}, Attributes: map[string]any{"id": "a", "name": "Berlin"}},
		{Attributes: map[string]any{"id": "b"}},
	}

	var buf bytes.Buffer
	if err := WriteCollection(&buf, "Pelias Search Geocoding", schema, features); err != nil {
		t.Fatalf("write: %v", err)
	}

	var got collection
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}

	if got.Type != "FeatureCollection" || got.Name != "Pelias Search Geocoding" {
		t.Fatalf("unexpected header %+v", got)
	}
	if len(got.Fields) != len(schema) || got.Fields[3].Name != "confidence" || got.Fields[3].Type != "real" {
		t.Fatalf("unexpected fields %+v", got.Fields)
	}
	if len(got.Features) != 2 {
		t.Fatalf("expected 2 features, got %d", len(got.Features))
	}
	first := got.Features[0]
	if first.Geometry == nil || first.Geometry.Type != "Point" || first.Geometry.Coordinates != [2]float64{13.4, 52.5} {
		t.Fatalf("unexpected geometry %+v", first.Geometry)
	}
	if first.Properties["name"] != "Berlin" {
		t.Fatalf("unexpected properties %+v", first.Properties)
	}
	if got.Features[1].Geometry != nil {
		t.Fatalf("expected null geometry, got %+v", got.Features[1].Geometry)
	}
}

func TestGeoJSONWriter_EmptyCollection(t *testing.T) {
	var buf bytes.Buffer
	w := NewGeoJSONWriter(&buf, "empty")
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	var got collection
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if len(got.Features) != 0 {
		t.Fatalf("expected no features, got %d", len(got.Features))
	}
}

func TestGeoJSONWriter_WriteBeforeBegin(t *testing.T) {
	w := NewGeoJSONWriter(io.Discard, "x")
	if err := w.Write(context.Background(), mapper.Feature{}); err == nil {
		t.Fatal("expected error")
	}
}

type fakeStore struct {
	bucket      string
	key         string
	contentType string
	body        []byte
	deleted     []string
}

func (f *fakeStore) UploadFile(_ context.Context, bucket, folder, fileName, contentType string, reader io.Reader, _ int64) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	f.bucket = bucket
	f.key = folder + "/" + fileName
	f.contentType = contentType
	f.body = data
	return f.key, nil
}

func (f *fakeStore) GenerateDownloadURL(_ context.Context, bucket, fileKey string) (*storage.PresignedURL, error) {
	return &storage.PresignedURL{URL: "https://minio.local/" + bucket + "/" + fileKey, FileKey: fileKey, ExpiresAt: time.Now()}, nil
}

func (f *fakeStore) DownloadFile(context.Context, string, string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.body)), nil
}

func (f *fakeStore) DeleteObject(_ context.Context, _ string, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeStore) EnsureBucketExists(context.Context, string) error { return nil }

func TestPublisher_Publish(t *testing.T) {
	store := &fakeStore{}
	p := NewPublisher(store, "geocode-exports")
	runID := uuid.MustParse("8f14e45f-ceea-467f-a0e6-1b8a3c7b2e11")

	key, err := p.Publish(context.Background(), runID, "run", mapper.Schema{{Name: "id", Kind: mapper.KindText}}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if key != "runs/8f14e45f-ceea-467f-a0e6-1b8a3c7b2e11.geojson" {
		t.Fatalf("unexpected key %q", key)
	}
	if store.bucket != "geocode-exports" || store.contentType != ContentType {
		t.Fatalf("unexpected upload target %q %q", store.bucket, store.contentType)
	}
	if !json.Valid(store.body) {
		t.Fatalf("uploaded body is not JSON: %s", store.body)
	}

	u, err := p.DownloadURL(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if u.FileKey != key {
		t.Fatalf("unexpected presigned url %+v", u)
	}
}

func TestPublisher_OpenAndRemove(t *testing.T) {
	store := &fakeStore{}
	p := NewPublisher(store, "geocode-exports")
	runID := uuid.New()

	key, err := p.Publish(context.Background(), runID, "run", mapper.Schema{{Name: "id", Kind: mapper.KindText}}, nil)
	if err != nil {
		t.Fatal(err)
	}

	rc, err := p.Open(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	data, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, store.body) {
		t.Fatalf("opened export differs from upload")
	}

	if err := p.Remove(context.Background(), key); err != nil {
		t.Fatal(err)
	}
	if len(store.deleted) != 1 || store.deleted[0] != key {
		t.Fatalf("unexpected deletions %v", store.deleted)
	}
}
