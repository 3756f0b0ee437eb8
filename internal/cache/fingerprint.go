package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/sells-group/crossref-cli/internal/model"
)

const (
	keyPrefix = "xref"
	keyHexLen = 32
)

type contextRecord struct {
	SKU   string
	Model string
}

// Fingerprint derives the cache key for an external call from the stage, the
// competitor's core fields, the catalog context (order-independent) and the
// payload schema version. Price is left out.
func Fingerprint(stage model.Stage, c model.CompetitorRecord, context []model.CatalogRecord, version string) string {
	recs := make([]contextRecord, 0, len(context))
	for _, rec := range context {
		recs = append(recs, contextRecord{SKU: norm(rec.SKU), Model: norm(rec.Model)})
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].SKU != recs[j].SKU {
			return recs[i].SKU < recs[j].SKU
		}
		return recs[i].Model < recs[j].Model
	})

	var b keyBuilder
	b.str("version", version)
	b.str("stage", string(stage))
	b.str("sku", norm(c.SKU))
	b.str("company", norm(c.Company))
	b.str("model", norm(c.Model))
	b.str("description", strings.TrimSpace(c.Description))
	b.num("tonnage", c.Specs.Tonnage)
	b.num("seer", c.Specs.SEER)
	b.num("seer2", c.Specs.SEER2)
	b.num("eer", c.Specs.EER)
	b.num("afue", c.Specs.AFUE)
	b.num("hspf", c.Specs.HSPF)
	b.str("refrigerant", c.Specs.Refrigerant)
	b.str("voltage", c.Specs.Voltage)
	b.str("phase", c.Specs.Phase)
	b.str("type", c.Specs.Type)
	for _, rec := range recs {
		b.str("ctx.sku", rec.SKU)
		b.str("ctx.model", rec.Model)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return keyPrefix + ":" + version + ":" + hex.EncodeToString(sum[:])[:keyHexLen]
}

// keyBuilder writes length-prefixed name=value pairs so no field value can
// bleed into the next one.
type keyBuilder struct {
	strings.Builder
}

func (b *keyBuilder) str(name, v string) {
	b.WriteString(name)
	b.WriteByte('=')
	b.WriteString(strconv.Itoa(len(v)))
	b.WriteByte(':')
	b.WriteString(v)
	b.WriteByte(';')
}

func (b *keyBuilder) num(name string, f *float64) {
	if f == nil {
		b.str(name, "")
		return
	}
	b.str(name, strconv.FormatFloat(*f, 'g', -1, 64))
}

func norm(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
