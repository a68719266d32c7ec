package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/route-beacon/rib-ingester/internal/bgp"
	"github.com/route-beacon/rib-ingester/internal/elem"
	"github.com/route-beacon/rib-ingester/internal/metrics"
)

var zstdEncoder *zstd.Encoder

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil)
	if err != nil {
		panic(fmt.Sprintf("history: zstd encoder init: %v", err))
	}
}

type Writer struct {
	pool          *pgxpool.Pool
	logger        *zap.Logger
	storeRawBytes bool
	compressRaw   bool
}

func NewWriter(pool *pgxpool.Pool, logger *zap.Logger, storeRawBytes, compressRaw bool) *Writer {
	return &Writer{
		pool:          pool,
		logger:        logger,
		storeRawBytes: storeRawBytes,
		compressRaw:   compressRaw,
	}
}

// HistoryRow is one elem.BgpElem bound for route_events, with the ingest
// context (router identity, raw bytes, dedup key) the elementor itself has
// no way to know.
type HistoryRow struct {
	EventID   []byte // 32-byte SHA256 over the source BMP message + a per-element suffix
	RouterID  string
	TableName string
	Elem      elem.BgpElem
	BMPRaw    []byte // optional raw BMP message bytes this element was projected from
	Topic     string // for dedup metric labeling
	// FromLocRIB marks rows sourced from an RFC 9069 Loc-RIB peer (a
	// synced table dump rather than an ordinary Adj-RIB-In feed);
	// rib_sync_status tracking only applies to these.
	FromLocRIB bool
}

// FlushBatch inserts a batch of history rows into route_events. Returns the
// number of rows actually inserted (after dedup).
func (w *Writer) FlushBatch(ctx context.Context, rows []*HistoryRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	start := time.Now()

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertSQL = `
		INSERT INTO route_events (event_id, ingest_time, router_id, table_name, afi,
			prefix, path_id, action, nexthop, as_path, origin, localpref, med,
			communities_std, communities_ext, communities_large, attrs, bmp_raw)
		VALUES ($1, date_trunc('day', now() AT TIME ZONE 'UTC')::timestamptz, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (event_id, ingest_time) DO NOTHING`

	batch := &pgx.Batch{}
	for _, row := range rows {
		e := row.Elem

		var rawBytes []byte
		if w.storeRawBytes && row.BMPRaw != nil {
			if w.compressRaw {
				rawBytes = zstdEncoder.EncodeAll(row.BMPRaw, nil)
			} else {
				rawBytes = row.BMPRaw
			}
		}

		attrsJSON, err := json.Marshal(elemExtraAttrs(e))
		if err != nil {
			return 0, fmt.Errorf("marshal elem attrs: %w", err)
		}

		batch.Queue(insertSQL,
			row.EventID, row.RouterID, row.TableName, e.IPVersion(),
			e.Prefix.String(), nilIfNoPathID(e.Prefix.PathID), e.Type.String(),
			nilIfNilIP(e.NextHop), nilIfNilASPath(e.ASPath),
			nilIfNilOrigin(e.Origin), nilIfNilUint32(e.LocalPref), nilIfNilUint32(e.MED),
			communityStrings(e.Communities, bgp.CommunityStandard),
			communityStrings(e.Communities, bgp.CommunityExtended, bgp.CommunityIPv6Extended),
			communityStrings(e.Communities, bgp.CommunityLarge),
			attrsJSON, rawBytes,
		)
	}

	results := tx.SendBatch(ctx, batch)
	var totalInserted int64
	for i, row := range rows {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return 0, fmt.Errorf("insert route_event[%d]: %w", i, err)
		}
		affected := tag.RowsAffected()
		totalInserted += affected
		if affected == 0 {
			metrics.HistoryDedupConflictsTotal.WithLabelValues(row.Topic).Inc()
		}
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("closing batch results: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	dur := time.Since(start).Seconds()
	metrics.DBWriteDuration.WithLabelValues("history", "insert").Observe(dur)
	metrics.DBRowsAffectedTotal.WithLabelValues("history", "route_events", "insert").Add(float64(totalInserted))
	metrics.BatchSize.WithLabelValues("history").Observe(float64(len(rows)))

	return totalInserted, nil
}

// UpdateSyncStatus upserts the rib_sync_status row for a given router/table/afi.
func (w *Writer) UpdateSyncStatus(ctx context.Context, routerID, tableName string, afi int) error {
	_, err := w.pool.Exec(ctx, `
		INSERT INTO rib_sync_status (router_id, table_name, afi, last_raw_msg_time, eor_seen, session_start_time, updated_at)
		VALUES ($1, $2, $3, now(), false, now(), now())
		ON CONFLICT (router_id, table_name, afi)
		DO UPDATE SET last_raw_msg_time = now(), updated_at = now()`,
		routerID, tableName, afi,
	)
	return err
}

// elemExtra carries the attributes that don't have their own route_events
// column — JSON-serialized into the `attrs` column the way the teacher's
// PathAttributes bag-of-fields previously was.
type elemExtra struct {
	OriginASNs      []uint32 `json:"origin_asns,omitempty"`
	AtomicAggregate bool     `json:"atomic_aggregate,omitempty"`
	AggregatorASN   *uint32  `json:"aggregator_asn,omitempty"`
	AggregatorAddr  string   `json:"aggregator_addr,omitempty"`
}

func elemExtraAttrs(e elem.BgpElem) elemExtra {
	var extra elemExtra
	for _, o := range e.OriginASNs {
		extra.OriginASNs = append(extra.OriginASNs, o.Value)
	}
	extra.AtomicAggregate = e.AtomicAggregate
	if e.Aggregator != nil {
		v := e.Aggregator.ASN.Value
		extra.AggregatorASN = &v
		if e.Aggregator.IP != nil {
			extra.AggregatorAddr = e.Aggregator.IP.String()
		}
	}
	return extra
}

func communityStrings(cs []bgp.Community, kinds ...bgp.CommunityKind) []string {
	want := make(map[bgp.CommunityKind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	var out []string
	for _, c := range cs {
		if want[c.Kind] {
			out = append(out, c.String())
		}
	}
	return out
}

func nilIfNoPathID(p *uint32) any {
	if p == nil {
		return nil
	}
	return *p
}

func nilIfNilIP(ip net.IP) any {
	if ip == nil {
		return nil
	}
	return ip.String()
}

func nilIfNilASPath(p *bgp.AsPath) any {
	if p == nil {
		return nil
	}
	return p.String()
}

func nilIfNilOrigin(o *uint8) any {
	if o == nil {
		return nil
	}
	if name, ok := bgp.OriginValues[*o]; ok {
		return name
	}
	return nil
}

func nilIfNilUint32(v *uint32) any {
	if v == nil {
		return nil
	}
	return *v
}
