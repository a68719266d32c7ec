package history

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/route-beacon/rib-ingester/internal/bgp"
	"github.com/route-beacon/rib-ingester/internal/bmp"
	"github.com/route-beacon/rib-ingester/internal/config"
	"github.com/route-beacon/rib-ingester/internal/elem"
	"github.com/route-beacon/rib-ingester/internal/filter"
	"github.com/route-beacon/rib-ingester/internal/metrics"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

type Pipeline struct {
	writer          *Writer
	batchSize       int
	flushInterval   time.Duration
	maxPayloadBytes int
	// addPathAware tells bgp.ParseUpdate to expect RFC 7911 path-identifier
	// prefixed NLRI. BMP's peer_flags carries no formal ADD-PATH bit, so
	// this is a deployment-wide setting rather than sniffed per message.
	addPathAware bool
	filters      *filter.Set
	logger       *zap.Logger
	asnCache     map[string]uint32
	routerMeta   map[string]config.RouterMeta
	// routerIDCache maps OBMP router hash → real router BGP ID (from Peer Up
	// Sent OPEN). goBMP generates a unique router hash per (router, peer)
	// combination, making it a reliable correlation key across message types.
	routerIDCache map[string]string
}

func NewPipeline(writer *Writer, batchSize, flushIntervalMs, maxPayloadBytes int, addPathAware bool, filters *filter.Set, logger *zap.Logger, routerMeta map[string]config.RouterMeta) *Pipeline {
	if routerMeta == nil {
		routerMeta = make(map[string]config.RouterMeta)
	}
	if filters == nil {
		filters = &filter.Set{}
	}
	return &Pipeline{
		writer:          writer,
		batchSize:       batchSize,
		flushInterval:   time.Duration(flushIntervalMs) * time.Millisecond,
		maxPayloadBytes: maxPayloadBytes,
		addPathAware:    addPathAware,
		filters:         filters,
		logger:          logger,
		asnCache:        make(map[string]uint32),
		routerMeta:      routerMeta,
		routerIDCache:   make(map[string]string),
	}
}

// Run processes records from the channel until context is cancelled.
func (p *Pipeline) Run(ctx context.Context, records <-chan []*kgo.Record, flushed chan<- []*kgo.Record) {
	var batch []*HistoryRow
	var batchRecords []*kgo.Record
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batchRecords) > 0 {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				p.flush(shutdownCtx, batch, batchRecords, flushed)
			}
			return

		case recs, ok := <-records:
			if !ok {
				if len(batchRecords) > 0 {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					p.flush(shutdownCtx, batch, batchRecords, flushed)
				}
				return
			}

			for _, rec := range recs {
				rows := p.processRecord(ctx, rec)
				if len(rows) > 0 {
					batch = append(batch, rows...)
				}
				batchRecords = append(batchRecords, rec)
			}

			if len(batchRecords) >= p.batchSize {
				if p.flush(ctx, batch, batchRecords, flushed) {
					batch = nil
					batchRecords = nil
				}
			}

			// Cap memory: if repeated flush failures cause the batch to
			// grow beyond 10x the configured size, drop the in-memory
			// batch to prevent unbounded memory growth. Offsets are NOT
			// committed so records will be re-consumed on restart.
			if len(batchRecords) >= p.batchSize*10 {
				p.logger.Error("dropping oversized batch after repeated flush failures",
					zap.Int("dropped_records", len(batchRecords)),
					zap.Int("dropped_rows", len(batch)),
				)
				metrics.BatchDroppedTotal.WithLabelValues("history").Inc()
				batch = nil
				batchRecords = nil
			}

		case <-ticker.C:
			if len(batchRecords) > 0 {
				if p.flush(ctx, batch, batchRecords, flushed) {
					batch = nil
					batchRecords = nil
				}
			}
		}
	}
}

func (p *Pipeline) processRecord(ctx context.Context, rec *kgo.Record) []*HistoryRow {
	frame, err := bmp.DecodeOpenBMPFrame(rec.Value, p.maxPayloadBytes)
	if err != nil {
		metrics.ParseErrorsTotal.WithLabelValues("openbmp", "decode").Inc()
		p.logger.Warn("failed to decode OpenBMP frame",
			zap.String("topic", rec.Topic),
			zap.Error(err),
		)
		return nil
	}

	// A single raw Kafka record may contain multiple concatenated BMP
	// messages (goBMP bundles an entire TCP read into one record).
	msgs, err := bmp.ParseAll(frame.BMPBytes)
	if err != nil {
		metrics.ParseErrorsTotal.WithLabelValues("bmp", "parse").Inc()
		p.logger.Warn("failed to parse BMP messages",
			zap.String("topic", rec.Topic),
			zap.Error(err),
		)
		return nil
	}

	var rows []*HistoryRow
	for _, m := range msgs {
		if m.PeerUp != nil {
			if m.PeerUp.Peer.IsLocRIB() {
				p.processLocRIBPeerUp(ctx, rec, m.PeerUp)
			} else {
				p.processPeerUpASN(ctx, rec, m.PeerUp, frame)
			}
			continue
		}
		if m.RouteMonitoring == nil {
			continue
		}

		peer := m.RouteMonitoring.Peer
		u, err := bgp.ParseUpdate(m.RouteMonitoring.BGPMessage, p.addPathAware, true) // BMP route monitoring is always 4-byte ASN (RFC 7854)
		if err != nil {
			metrics.ParseErrorsTotal.WithLabelValues("bgp", "parse").Inc()
			p.logger.Warn("anomaly parsing BGP UPDATE",
				zap.String("topic", rec.Topic),
				zap.Error(err),
			)
		}
		if u == nil {
			continue
		}

		elems := elem.Project(u, elem.PeerContext{
			Timestamp: time.Unix(int64(peer.TimestampSec), int64(peer.TimestampUsec)*1000),
			PeerIP:    peer.Address,
			PeerASN:   bgp.ASN{Value: peer.ASN},
		}, elem.Options{})
		if len(elems) == 0 {
			continue
		}

		routerID := p.routerIDFor(peer, frame)
		tableName := tableNameFor(peer)
		bmpMsgBytes := m.Encode()

		for _, e := range elems {
			if !p.filters.Match(&e) {
				metrics.FilterDroppedTotal.WithLabelValues("history").Inc()
				continue
			}

			// Per-prefix event_id: hash BMP msg bytes + suffix. For
			// non-Loc-RIB, include peer address to distinguish the same
			// prefix reaching us from different peers.
			var suffix []byte
			if !peer.IsLocRIB() {
				suffix = []byte(peer.Address.String() + "/" + e.Prefix.String() + "/" + e.Type.String())
			} else {
				suffix = []byte(e.Prefix.String() + "/" + e.Type.String())
			}
			perPrefixData := make([]byte, len(bmpMsgBytes)+len(suffix))
			copy(perPrefixData, bmpMsgBytes)
			copy(perPrefixData[len(bmpMsgBytes):], suffix)
			rowEventID := ComputeEventID(perPrefixData)

			metrics.KafkaMessagesTotal.WithLabelValues("history", rec.Topic, fmt.Sprintf("%d", e.IPVersion()), e.Type.String()).Inc()
			metrics.ElementsProjectedTotal.WithLabelValues("history", e.Type.String()).Inc()

			rows = append(rows, &HistoryRow{
				EventID:    rowEventID,
				RouterID:   routerID,
				TableName:  tableName,
				Elem:       e,
				BMPRaw:     bmpMsgBytes,
				Topic:      rec.Topic,
				FromLocRIB: peer.IsLocRIB(),
			})
		}
	}

	return rows
}

// routerIDFor resolves the stable router identifier a row should be
// attributed to: for Loc-RIB peers (RFC 9069) the per-peer header's own
// BGP Identifier is authoritative; for regular adj-RIB peers it is the
// BMP speaker's own identity, recovered from the cached Peer Up (or, if
// no Peer Up has been seen yet, falling back to the OpenBMP envelope's
// router IP).
func (p *Pipeline) routerIDFor(peer bmp.PerPeerHeader, frame bmp.Frame) string {
	if peer.IsLocRIB() {
		if id := peer.BGPIdentifier.String(); id != "" && id != "<nil>" && id != "0.0.0.0" && id != "::" {
			return id
		}
	}
	if frame.RouterHash != "" {
		if cached, ok := p.routerIDCache[frame.RouterHash]; ok {
			return cached
		}
	}
	if frame.RouterIP != nil {
		return frame.RouterIP.String()
	}
	return ""
}

// tableNameFor derives a logical table name from the per-peer header.
// RFC 9069's VRF/Table-Name TLV attaches to Initiation, not to each Route
// Monitoring message, so the stable per-record signal available here is
// the peer distinguisher: "" for the global table, "rd-" followed by the
// distinguisher as one decimal number for a VRF.
func tableNameFor(peer bmp.PerPeerHeader) string {
	if peer.PeerType != bmp.PeerTypeRD || peer.Distinguisher == 0 {
		return ""
	}
	return fmt.Sprintf("rd-%d", peer.Distinguisher)
}

func (p *Pipeline) processLocRIBPeerUp(ctx context.Context, rec *kgo.Record, peerUp *bmp.PeerUp) {
	metrics.KafkaMessagesTotal.WithLabelValues("history", rec.Topic, "", "peer_up_locrib").Inc()

	routerID := peerUp.Peer.BGPIdentifier.String()
	if routerID == "" {
		return
	}

	if p.writer == nil || p.writer.pool == nil {
		p.logger.Info("router registered from Loc-RIB Peer Up (no db)",
			zap.String("router_id", routerID),
		)
		return
	}

	meta := p.routerMeta[routerID]
	if err := UpsertRouter(ctx, p.writer.pool, routerID, routerID, "", "", nil, meta.Name, meta.Location); err != nil {
		p.logger.Warn("failed to upsert router from Loc-RIB Peer Up",
			zap.String("router_id", routerID),
			zap.Error(err),
		)
		return
	}

	p.logger.Info("router registered from Loc-RIB Peer Up",
		zap.String("router_id", routerID),
	)
}

func (p *Pipeline) processPeerUpASN(ctx context.Context, rec *kgo.Record, peerUp *bmp.PeerUp, frame bmp.Frame) {
	// The Sent OPEN is the BGP speaker's own OPEN message to its peer — its
	// BGP Identifier and ASN4 capability describe the monitored router
	// itself, not the remote peer. ParseOpen expects the payload AFTER the
	// 19-byte BGP header (unlike bgp.ParseUpdate, which wants the header
	// included), so the header must be stripped here.
	if len(peerUp.SentOpen) <= 19 {
		return
	}
	open, err := bgp.ParseOpen(peerUp.SentOpen[19:])
	if err != nil {
		metrics.ParseErrorsTotal.WithLabelValues("bgp", "open").Inc()
		p.logger.Warn("failed to parse Peer Up Sent OPEN",
			zap.String("topic", rec.Topic),
			zap.Error(err),
		)
		return
	}

	var localASN uint32
	if open.ASN4 != nil {
		localASN = *open.ASN4
	} else {
		localASN = uint32(open.MyASN)
	}

	routerID := net.IP(open.BGPIdentifier).String()
	if routerID == "" && frame.RouterIP != nil {
		routerID = frame.RouterIP.String()
	}
	if routerID == "" {
		return
	}
	if frame.RouterHash != "" {
		p.routerIDCache[frame.RouterHash] = routerID
	}
	routerIP := routerID

	if p.asnCache[routerID] == localASN {
		return
	}

	asn := int64(localASN)
	if p.writer == nil || p.writer.pool == nil {
		p.asnCache[routerID] = localASN
		metrics.KafkaMessagesTotal.WithLabelValues("history", rec.Topic, "", "peer_up_asn").Inc()
		p.logger.Info("router ASN extracted from BMP Peer Up (no db)",
			zap.String("router_id", routerID),
			zap.Uint32("as_number", localASN),
		)
		return
	}
	meta := p.routerMeta[routerID]
	if err := UpsertRouter(ctx, p.writer.pool, routerID, routerIP, "", "", &asn, meta.Name, meta.Location); err != nil {
		p.logger.Warn("failed to upsert router ASN from peer up",
			zap.String("router_id", routerID),
			zap.Uint32("as_number", localASN),
			zap.Error(err),
		)
		return
	}

	p.asnCache[routerID] = localASN
	metrics.KafkaMessagesTotal.WithLabelValues("history", rec.Topic, "", "peer_up_asn").Inc()
	p.logger.Info("router ASN extracted from BMP Peer Up",
		zap.String("router_id", routerID),
		zap.Uint32("as_number", localASN),
	)
}

func (p *Pipeline) flush(ctx context.Context, batch []*HistoryRow, records []*kgo.Record, flushed chan<- []*kgo.Record) bool {
	inserted, err := p.writer.FlushBatch(ctx, batch)
	if err != nil {
		p.logger.Error("history batch flush failed", zap.Error(err))
		return false
	}

	p.logger.Debug("history batch flushed",
		zap.Int("batch_size", len(batch)),
		zap.Int64("inserted", inserted),
		zap.Int64("deduped", int64(len(batch))-inserted),
	)

	// Update rib_sync_status.last_raw_msg_time for each router/table/afi seen.
	p.updateSyncStatus(ctx, batch)

	// Signal successful flush for offset commit.
	select {
	case flushed <- records:
	case <-ctx.Done():
	}

	return true
}

// updateSyncStatus updates last_raw_msg_time for each unique router/table/afi in the batch.
func (p *Pipeline) updateSyncStatus(ctx context.Context, batch []*HistoryRow) {
	type key struct {
		r, t string
		a    int
	}
	seen := make(map[key]bool)

	for _, row := range batch {
		if !row.FromLocRIB {
			continue
		}
		k := key{row.RouterID, row.TableName, row.Elem.IPVersion()}
		if seen[k] {
			continue
		}
		seen[k] = true

		if err := p.writer.UpdateSyncStatus(ctx, row.RouterID, row.TableName, row.Elem.IPVersion()); err != nil {
			p.logger.Warn("failed to update sync status for raw msg",
				zap.String("router_id", row.RouterID),
				zap.Error(err),
			)
		}

		afiStr := fmt.Sprintf("%d", row.Elem.IPVersion())
		metrics.LastMsgTimestamp.WithLabelValues("history", row.RouterID, row.TableName, afiStr).SetToCurrentTime()
	}
}
