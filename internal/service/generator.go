package service

import (
	"math/rand"
	"os"
	"time"

	"github.com/devrev/replicawatch/internal/model"
	"github.com/google/uuid"
)

const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// syntheticFields are the generated attributes of a bulk-load record and their lengths
var syntheticFields = []struct {
	name   string
	length int
}{
	{"attr1", 8},
	{"attr2", 12},
	{"attr3", 6},
}

// RecordGenerator produces synthetic bulk-load records
type RecordGenerator struct {
	host string
	now  func() time.Time
}

// NewRecordGenerator creates a generator stamping records with host
func NewRecordGenerator(host string) *RecordGenerator {
	return &RecordGenerator{host: host, now: time.Now}
}

// Generate returns n fresh records
func (g *RecordGenerator) Generate(n int) []model.Record {
	records := make([]model.Record, n)
	for i := range records {
		fields := make(map[string]string, len(syntheticFields))
		for _, f := range syntheticFields {
			fields[f.name] = randomString(f.length)
		}
		records[i] = model.Record{
			ID:        uuid.NewString(),
			Fields:    fields,
			Host:      g.host,
			Timestamp: model.Stamp(g.now()),
		}
	}
	return records
}

func randomString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(b)
}

// originHost names this process in written records
func originHost() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "unknown"
	}
	return host
}
