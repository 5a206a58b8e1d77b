package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/weather-imaging-service/internal/domain"
	"github.com/couchcryptid/weather-imaging-service/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

const testFeed = `{
	"actual": {
		"stationmeasurements": [
			{"$id": "1", "stationid": 6240, "stationname": "Meetstation Amsterdam", "feeltemperature": 8.5, "groundtemperature": 6.0},
			{"$id": "2", "stationid": 6344, "stationname": "Meetstation Rotterdam", "feeltemperature": "7,2", "groundtemperature": "5,5"}
		]
	}
}`

var stubPNG = []byte("\x89PNG\r\n\x1a\nstub")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMetrics() *observability.Metrics {
	return observability.NewMetricsForTesting()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

// --- upstream fakes ---

type fakeFeed struct {
	body  []byte
	err   error
	calls int
}

func (f *fakeFeed) FetchFeed(_ context.Context) ([]byte, error) {
	f.calls++
	return f.body, f.err
}

type fakePhotos struct {
	data  []byte
	err   error
	mu    sync.Mutex
	calls int
}

func (f *fakePhotos) FetchPhoto(_ context.Context, w io.Writer) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	_, err := w.Write(f.data)
	return err
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 800, 400))
	for y := range 400 {
		for x := range 800 {
			img.Set(x, y, color.RGBA{R: 60, G: 90, B: 120, A: 0xFF})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

// --- render fakes ---

type stubRenderer struct {
	mu       sync.Mutex
	photos   [][]byte
	stations []domain.WeatherStation
	err      error
}

func (r *stubRenderer) Render(dst io.Writer, src io.Reader, st domain.WeatherStation) error {
	photo, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.photos = append(r.photos, photo)
	r.stations = append(r.stations, st)
	r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	_, err = dst.Write(stubPNG)
	return err
}

// --- queue fakes ---

type published struct {
	key  string
	body string
}

type recordingPublisher struct {
	mu        sync.Mutex
	msgs      []published
	batches   int
	failAfter int
	err       error
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{failAfter: -1}
}

func (p *recordingPublisher) Publish(_ context.Context, key, body string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failAfter >= 0 && len(p.msgs) >= p.failAfter {
		return p.err
	}
	p.msgs = append(p.msgs, published{key: key, body: body})
	return nil
}

func (p *recordingPublisher) PublishBatch(ctx context.Context, msgs []domain.Message) error {
	p.mu.Lock()
	p.batches++
	p.mu.Unlock()
	for _, m := range msgs {
		if err := p.Publish(ctx, m.Key, m.Body); err != nil {
			return err
		}
	}
	return nil
}

func (p *recordingPublisher) batchCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.batches
}

func (p *recordingPublisher) published() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

// memQueue is an in-memory broker queue. With requeue set its deliveries
// support Requeue like RabbitMQ; otherwise they behave like Kafka messages.
type memQueue struct {
	name    string
	ch      chan domain.Delivery
	requeue bool

	mu       sync.Mutex
	seq      int
	acked    int
	requeued int
}

func newMemQueue(name string, requeue bool) *memQueue {
	return &memQueue{name: name, ch: make(chan domain.Delivery, 128), requeue: requeue}
}

func (q *memQueue) Publish(_ context.Context, key, body string) error {
	q.push(key, body, false)
	return nil
}

func (q *memQueue) PublishBatch(_ context.Context, msgs []domain.Message) error {
	for _, m := range msgs {
		q.push(m.Key, m.Body, false)
	}
	return nil
}

func (q *memQueue) push(key, body string, redelivered bool) {
	q.mu.Lock()
	q.seq++
	id := q.seq
	q.mu.Unlock()

	d := domain.Delivery{
		ID:          fmt.Sprintf("%s/%d", q.name, id),
		Key:         key,
		Body:        body,
		Queue:       q.name,
		Redelivered: redelivered,
		Ack: func(context.Context) error {
			q.mu.Lock()
			q.acked++
			q.mu.Unlock()
			return nil
		},
	}
	if q.requeue {
		d.Requeue = func(context.Context) error {
			q.mu.Lock()
			q.requeued++
			q.mu.Unlock()
			q.push(key, body, true)
			return nil
		}
	}
	q.ch <- d
}

func (q *memQueue) Fetch(ctx context.Context) (domain.Delivery, error) {
	select {
	case <-ctx.Done():
		return domain.Delivery{}, ctx.Err()
	case d := <-q.ch:
		return d, nil
	}
}

func (q *memQueue) counts() (acked, requeued int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.acked, q.requeued
}

// --- store fakes ---

type memObject struct {
	data        []byte
	contentType string
}

type memStore struct {
	mu      sync.Mutex
	objects map[string]memObject
	putErr  error
	listErr error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string]memObject{}}
}

func (s *memStore) Put(_ context.Context, key string, r io.Reader, size int64, contentType string) error {
	if s.putErr != nil {
		return s.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: declared %d, read %d", size, len(data))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; ok {
		return fmt.Errorf("%w: %w: %s", domain.ErrUpload, domain.ErrArtifactExists, key)
	}
	s.objects[key] = memObject{data: data, contentType: contentType}
	return nil
}

func (s *memStore) List(_ context.Context, prefix string) ([]domain.ObjectInfo, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ObjectInfo
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, domain.ObjectInfo{Key: key, Size: int64(len(obj.data))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *memStore) Open(_ context.Context, key string) (io.ReadCloser, domain.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, domain.ObjectInfo{}, domain.ErrArtifactNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), domain.ObjectInfo{Key: key, Size: int64(len(obj.data))}, nil
}

func (s *memStore) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *memStore) add(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = memObject{data: data, contentType: "image/png"}
}

type fakeSigner struct {
	err error
	ttl time.Duration
}

func (f *fakeSigner) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.ttl = ttl
	return "https://store.local/weather-images/" + key + "?X-Amz-Expires=" + fmt.Sprint(int(ttl.Seconds())), nil
}

// --- handler fakes ---

type handlerFunc func(ctx context.Context, body string) error

func (f handlerFunc) Handle(ctx context.Context, body string) error { return f(ctx, body) }

var errBoom = errors.New("boom")
