package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yungbote/moldline-backend/internal/domain/quality"
	"github.com/yungbote/moldline-backend/internal/platform/blob"
)

const e2eDataset = `[{"version":"1.0","timestamp":1700000000,"molding_machine_id":"m1","object_detection":{"reject":true,"flash_defect":{"reject":true,"pixel_severity":{"value":0.8}}},"molding-machine-state":{"CycleTime":25.5,"ShotCount":10}}]`

// memStore is an in-memory blob.Store with call counters and optional
// injected failures.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	ensures int
	puts    int

	// putErrs are returned by successive Put calls before any write happens.
	putErrs []error
}

var _ blob.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (s *memStore) EnsureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensures++
	return nil
}

func (s *memStore) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if len(s.putErrs) > 0 {
		err := s.putErrs[0]
		s.putErrs = s.putErrs[1:]
		return err
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("%w: %v", blob.ErrUnavailable, err)
	}
	if size >= 0 && int64(len(b)) != size {
		return fmt.Errorf("%w: short write", blob.ErrRejected)
	}
	s.objects[key] = b
	return nil
}

func (s *memStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", blob.ErrNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *memStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *memStore) URI(key string) string {
	return "mem://test-bucket/" + key
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

func digestOf(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func writeDataset(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "dataset.json")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write dataset: %v", err)
	}
	return p
}

// handleFor builds the handle a local fetch of body would return.
func handleFor(t *testing.T, body string) DatasetHandle {
	t.Helper()
	p := writeDataset(t, body)
	return DatasetHandle{
		Source:     p,
		Digest:     digestOf([]byte(body)),
		SizeBytes:  int64(len(body)),
		StorageRef: p,
	}
}

// buildDataset renders n records for machine ids m0..m(machines-1). Every
// third record rejects with a flash_defect and a void_defect.
func buildDataset(n, machines int) string {
	var b strings.Builder
	b.WriteString("[")
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(",\n")
		}
		reject := i%3 == 0
		fmt.Fprintf(&b, `{"version":"1.0","timestamp":%d,"molding_machine_id":"m%d","object_detection":{"reject":%t`,
			base+int64(i)*60, i%machines, reject)
		if reject {
			b.WriteString(`,"flash_defect":{"reject":true,"pixel_severity":{"value":0.5}}`)
			b.WriteString(`,"void_defect":{"reject":true,"pixel_severity":{"value":0.25}}`)
		}
		b.WriteString(`,"short_defect":{"reject":false,"pixel_severity":{"value":0.1}}}`)
		fmt.Fprintf(&b, `,"molding-machine-state":{"CycleTime":%.1f,"ShotCount":%d}}`, 20+float64(i%10), i)
	}
	b.WriteString("]\n")
	return b.String()
}

// buildFullDataset renders n records that each fire every defect type and
// carry a wide machine-state payload.
func buildFullDataset(n int) string {
	var b strings.Builder
	b.WriteString("[")
	base := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC).Unix()
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(",\n")
		}
		fmt.Fprintf(&b, `{"version":"1.0","timestamp":%d,"molding_machine_id":"m%d","object_detection":{"reject":true`, base+int64(i), i%5)
		for _, dt := range quality.DefectTypes {
			fmt.Fprintf(&b, `,%q:{"reject":true,"pixel_severity":{"value":0.%d}}`, dt, 1+i%9)
		}
		fmt.Fprintf(&b, `},"molding-machine-state":{"CycleTime":%.1f,"ShotCount":%d,"InjectionTime":1.5,"CoolingTime":8.25,"HoldingPressure":410.0}}`, 20+float64(i%10), i)
	}
	b.WriteString("]\n")
	return b.String()
}
