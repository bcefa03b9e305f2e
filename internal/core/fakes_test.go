package core

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/JonMunkholm/sampleuploader/internal/schema"
)

const testTemplate = `
Columns:
  id:
    aliases: ["sample id"]
  name:
    aliases: ["sample name"]
  parent_id:
    aliases: ["parent id"]
  kbase_sample_id:
  depth:
    aliases: ["depth in core"]
    transformations:
      - transform: unit_measurement
        parameters: [depth, depth_unit]
    verification:
      kind: is_numeric
  depth_unit:
    aliases: ["depth units"]
  elevation:
    transformations:
      - transform: unit_measurement_fixed
        parameters: [elevation, m]
  collection date:
    transformations:
      - transform: rename
        parameters: [collection_date]
  material:
    verification:
      kind: one_of
      parameters: [Rock, Sediment, Soil]
`

func testSpec(t testing.TB) *schema.FormatSpec {
	t.Helper()
	spec, err := schema.Build("TEST", []byte(testTemplate))
	if err != nil {
		t.Fatalf("schema.Build() error = %v", err)
	}
	return spec
}

func testRegistry(t testing.TB) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry(testSpec(t))
	if err != nil {
		t.Fatalf("schema.NewRegistry() error = %v", err)
	}
	return reg
}

type saveCall struct {
	Name    string
	PrevID  string
	PrevVer int
}

// fakeService is an in-memory SampleService that records its calls.
type fakeService struct {
	mu      sync.Mutex
	samples map[string][]SampleRecord
	saves   []saveCall
	acls    map[string]ACL
	gets    int
	nextID  int

	failSaveAt int // 1-based save call that fails; 0 never
	failACL    error
}

func newFakeService() *fakeService {
	return &fakeService{
		samples: make(map[string][]SampleRecord),
		acls:    make(map[string]ACL),
	}
}

func (f *fakeService) GetSample(_ context.Context, id string, version int) (*SampleRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++

	versions := f.samples[id]
	if len(versions) == 0 {
		return nil, &RemoteServiceError{Op: "get_sample", SampleID: id, Err: ErrSampleNotFound}
	}
	if version <= 0 || version > len(versions) {
		version = len(versions)
	}
	rec := versions[version-1]
	return &rec, nil
}

func (f *fakeService) SaveSample(_ context.Context, rec *SampleRecord, prev *SampleRecord) (SavedSampleRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := saveCall{Name: rec.Name}
	if prev != nil {
		call.PrevID, call.PrevVer = prev.ID, prev.Version
	}
	f.saves = append(f.saves, call)
	if f.failSaveAt == len(f.saves) {
		return SavedSampleRef{}, &RemoteServiceError{Op: "create_sample", Err: fmt.Errorf("500 internal error")}
	}

	id := ""
	if prev != nil {
		id = prev.ID
	} else {
		f.nextID++
		id = fmt.Sprintf("sample-%d", f.nextID)
	}

	stored := *rec
	stored.ID = id
	stored.Version = len(f.samples[id]) + 1
	stored.SaveDate = int64(1700000000 + len(f.saves))
	f.samples[id] = append(f.samples[id], stored)
	return stored.Ref(), nil
}

func (f *fakeService) UpdateACL(_ context.Context, id string, acl ACL) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failACL != nil {
		return f.failACL
	}
	f.acls[id] = acl
	return nil
}

// seed stores a record as an existing sample and returns it as the service
// would.
func (f *fakeService) seed(t *testing.T, rec *SampleRecord) SampleRecord {
	t.Helper()
	ref, err := f.SaveSample(context.Background(), rec, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := f.GetSample(context.Background(), ref.ID, ref.Version)
	if err != nil {
		t.Fatal(err)
	}
	f.mu.Lock()
	f.saves = nil
	f.mu.Unlock()
	return *got
}

type fakeSets struct {
	sets map[string]*SampleSet
}

func (s *fakeSets) SaveSampleSet(_ context.Context, set *SampleSet) error {
	if s.sets == nil {
		s.sets = make(map[string]*SampleSet)
	}
	s.sets[set.Ref] = set
	return nil
}

func (s *fakeSets) GetSampleSet(_ context.Context, ref string) (*SampleSet, error) {
	set, ok := s.sets[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSampleSetMissing, ref)
	}
	return set, nil
}

func row(line int, kv ...string) Row {
	r := Row{Line: line, Values: make(map[string]string)}
	for i := 0; i+1 < len(kv); i += 2 {
		r.Values[kv[i]] = kv[i+1]
	}
	return r
}
